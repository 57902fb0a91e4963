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
)

func TestScoreRejectsAbsoluteRules(t *testing.T) {
	s := NewSelector(SelectorEnv{HasDNSSuffix: true}, logger.NewTestLogger())

	tests := []struct {
		name       string
		iface      string
		ip         string
		netmask    string
		mac        string
		wantReason string
	}{
		{name: "no ipv4", iface: "eth0", ip: "", netmask: "", wantReason: "No IPv4 address"},
		{name: "apipa", iface: "eth0", ip: "169.254.10.5", netmask: "255.255.0.0", wantReason: "APIPA address"},
		{name: "loopback name", iface: "lo", ip: "127.0.0.1", netmask: "255.0.0.0", wantReason: "Ignored interface name"},
		{name: "docker bridge", iface: "docker0", ip: "172.17.0.1", netmask: "255.255.0.0", wantReason: "Ignored interface name"},
		{name: "veth pair", iface: "veth12ab", ip: "10.1.0.1", netmask: "255.255.255.0", wantReason: "Ignored interface name"},
		{name: "virtual mac on host", iface: "eth1", ip: "192.168.99.5", netmask: "255.255.255.0", mac: "00:15:5d:aa:bb:cc", wantReason: "Virtual MAC detected"},
		{name: "nat adapter on host", iface: "eth2", ip: "10.0.2.15", netmask: "255.255.255.0", wantReason: "NAT adapter on host OS (skipped)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason, ok := s.Score(tt.iface, tt.ip, tt.netmask, tt.mac)

			assert.False(t, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

// Selector given lo, docker0, a private eth0 and a public Wi-Fi wlan0 keeps
// only eth0.
func TestScoreKeepsOnlyPrivateEthernet(t *testing.T) {
	s := NewSelector(SelectorEnv{
		HasDNSSuffix:   true,
		ARPNeighborsOf: func(string) int { return 5 },
	}, logger.NewTestLogger())

	_, _, ok := s.Score("lo", "127.0.0.1", "255.0.0.0", "")
	assert.False(t, ok)

	_, _, ok = s.Score("docker0", "172.17.0.1", "255.255.0.0", "02:42:ac:11:00:01")
	assert.False(t, ok)

	score, reason, ok := s.Score("eth0", "10.0.0.5", "255.255.255.0", "52:54:00:12:34:56")
	assert.True(t, ok)
	assert.Positive(t, score)
	assert.Contains(t, reason, "Private network")

	_, reason, ok = s.Score("wlan0", "10.0.0.6", "255.255.0.0", "aa:bb:cc:dd:ee:ff")
	assert.False(t, ok)
	assert.Equal(t, "Public Wi-Fi (unsafe to scan)", reason)
}

func TestScoreVagrantGuest(t *testing.T) {
	s := NewSelector(SelectorEnv{InsideVagrant: true, InsideVM: true}, logger.NewTestLogger())

	score, reason, ok := s.Score("eth1", "192.168.56.10", "255.255.255.0", "08:00:27:aa:bb:cc")
	assert.True(t, ok)
	assert.Equal(t, 100, score)
	assert.Equal(t, "Vagrant Host-Only network", reason)

	score, reason, ok = s.Score("eth0", "10.0.2.15", "255.255.255.0", "08:00:27:dd:ee:ff")
	assert.True(t, ok)
	assert.Equal(t, 80, score)
	assert.Equal(t, "Vagrant NAT network", reason)

	_, _, ok = s.Score("eth2", "192.168.1.50", "255.255.255.0", "08:00:27:11:22:33")
	assert.False(t, ok)
}

func TestScoreAdjustments(t *testing.T) {
	tests := []struct {
		name      string
		env       SelectorEnv
		iface     string
		ip        string
		netmask   string
		wantScore int
	}{
		{
			name:      "private with neighbors and gateway",
			env:       SelectorEnv{GatewayIface: "eth0", HasDNSSuffix: true, ARPNeighborsOf: func(string) int { return 4 }},
			iface:     "eth0",
			ip:        "192.168.1.10",
			netmask:   "255.255.255.0",
			wantScore: 4 + 3 + 3,
		},
		{
			name:      "private with empty arp",
			env:       SelectorEnv{HasDNSSuffix: true},
			iface:     "eth0",
			ip:        "192.168.1.10",
			netmask:   "255.255.255.0",
			wantScore: 4 - 2,
		},
		{
			name:      "large subnet penalty",
			env:       SelectorEnv{HasDNSSuffix: true, ARPNeighborsOf: func(string) int { return 1 }},
			iface:     "eth0",
			ip:        "172.16.5.9",
			netmask:   "255.255.240.0",
			wantScore: 4 - 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(tt.env, logger.NewTestLogger())

			score, _, ok := s.Score(tt.iface, tt.ip, tt.netmask, "52:54:00:00:00:01")

			assert.True(t, ok)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestClassifyInterface(t *testing.T) {
	assert.Equal(t, "Virtual", ClassifyInterface("VirtualBox Host-Only Network"))
	assert.Equal(t, "Virtual", ClassifyInterface("veth1234"))
	assert.Equal(t, "Wireless", ClassifyInterface("wlan0"))
	assert.Equal(t, "Wireless", ClassifyInterface("Wi-Fi"))
	assert.Equal(t, "Bridge", ClassifyInterface("br-a1b2c3"))
	assert.Equal(t, "Physical", ClassifyInterface("eth0"))
	assert.Equal(t, "Physical", ClassifyInterface("enp0s3"))
}
