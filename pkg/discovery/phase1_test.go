/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

func TestClassifyHostRoleOrder(t *testing.T) {
	gateway := "192.168.56.1"

	tests := []struct {
		name string
		ip   string
		hint models.OSHint
		tcp  []int
		udp  []models.UDPEvidence
		want models.HostType
	}{
		{
			name: "gateway wins over everything",
			ip:   "192.168.56.1",
			tcp:  []int{22, 80, 9100},
			want: models.HostTypeGateway,
		},
		{
			name: "network device by ttl",
			ip:   "192.168.56.5",
			hint: models.OSHintNetworkDeviceLike,
			tcp:  []int{80},
			want: models.HostTypeNetworkDevice,
		},
		{
			name: "printer beats web",
			ip:   "192.168.56.6",
			tcp:  []int{80, 9100},
			want: models.HostTypePrinter,
		},
		{
			name: "ipp printer",
			ip:   "192.168.56.7",
			tcp:  []int{631},
			want: models.HostTypePrinter,
		},
		{
			name: "web beats ssh",
			ip:   "192.168.56.8",
			tcp:  []int{22, 443},
			want: models.HostTypeWebService,
		},
		{
			name: "ssh only",
			ip:   "192.168.56.20",
			tcp:  []int{22},
			want: models.HostTypeSSHService,
		},
		{
			name: "dns by udp evidence",
			ip:   "192.168.56.9",
			udp:  []models.UDPEvidence{{Port: 53, Evidence: "dns_response", Confidence: "high"}},
			want: models.HostTypeDNSLike,
		},
		{
			name: "nothing matches",
			ip:   "192.168.56.30",
			tcp:  []int{8443},
			want: models.HostTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHost(tt.ip, gateway, tt.hint, tt.tcp, tt.udp))
		})
	}
}

func TestSweepModes(t *testing.T) {
	p := NewPhase1(Phase1Config{}, logger.NewTestLogger())

	modes := p.sweepModes()
	assert.True(t, models.ContainsMode(modes, models.ModeARP))
	assert.True(t, models.ContainsMode(modes, models.ModeTCP))
	assert.False(t, models.ContainsMode(modes, models.ModeICMP))

	p = NewPhase1(Phase1Config{EnableICMP: true}, logger.NewTestLogger())

	assert.True(t, models.ContainsMode(p.sweepModes(), models.ModeICMP))
}

func TestSummarizeDeduplicatesAcrossInterfaces(t *testing.T) {
	scanned := []models.ScannedInterface{
		{Interface: "eth0"},
		{Interface: "eth1"},
	}

	seen := map[string]struct{}{
		"192.168.56.1":  {},
		"192.168.56.20": {},
	}
	networks := map[string]struct{}{
		"192.168.56.0/24": {},
	}

	summary := summarize(scanned, seen, networks)

	assert.Equal(t, 2, summary.TotalInterfacesScanned)
	assert.Equal(t, 2, summary.TotalUniqueHosts)
	assert.Equal(t, []string{"192.168.56.1", "192.168.56.20"}, summary.UniqueHosts)
	assert.Equal(t, []string{"192.168.56.0/24"}, summary.NetworksDiscovered)
}
