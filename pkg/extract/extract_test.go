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

package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

func TestRunAllProducesVersionedRecord(t *testing.T) {
	record := RunAll(context.Background(), logger.NewTestLogger())

	require.NotNil(t, record)
	assert.Equal(t, models.SchemaVersion, record.SchemaVersion)

	// Every section is populated even when individual probes fail.
	assert.NotNil(t, record.OS)
	assert.NotNil(t, record.Hardware)
	assert.NotNil(t, record.Network)
	assert.NotNil(t, record.Users)
	assert.NotNil(t, record.Services)
	assert.NotNil(t, record.Software)
	assert.NotNil(t, record.Routing)
	assert.NotNil(t, record.Virtualization)
}

func TestClassifyListenAddr(t *testing.T) {
	tests := []struct {
		ip           string
		wantBind     models.BindClass
		wantExposure models.Exposure
	}{
		{ip: "0.0.0.0", wantBind: models.BindAllInterfaces, wantExposure: models.ExposurePublic},
		{ip: "::", wantBind: models.BindAllInterfaces, wantExposure: models.ExposurePublic},
		{ip: "*", wantBind: models.BindAllInterfaces, wantExposure: models.ExposurePublic},
		{ip: "127.0.0.1", wantBind: models.BindLoopback, wantExposure: models.ExposureLocal},
		{ip: "::1", wantBind: models.BindLoopback, wantExposure: models.ExposureLocal},
		{ip: "192.168.56.10", wantBind: models.BindSpecific, wantExposure: models.ExposureInternal},
		{ip: "10.0.0.7", wantBind: models.BindSpecific, wantExposure: models.ExposureInternal},
	}

	for _, tt := range tests {
		bind, exposure := ClassifyListenAddr(tt.ip)
		assert.Equal(t, tt.wantBind, bind, "ip=%s", tt.ip)
		assert.Equal(t, tt.wantExposure, exposure, "ip=%s", tt.ip)
	}
}

func TestInferPosixRoles(t *testing.T) {
	tests := []struct {
		name   string
		uid    int
		shell  string
		groups []string
		want   []string
	}{
		{name: "root", uid: 0, shell: "/bin/bash", want: []string{"interactive", "root"}},
		{name: "system service", uid: 101, shell: "/usr/sbin/nologin", want: []string{"service", "system"}},
		{name: "human", uid: 1000, shell: "/bin/bash", want: []string{"human", "interactive"}},
		{name: "human admin", uid: 1000, shell: "/bin/zsh", groups: []string{"sudo"}, want: []string{"admin", "human", "interactive"}},
		{name: "wheel admin", uid: 501, shell: "/bin/sh", groups: []string{"wheel"}, want: []string{"admin", "interactive", "system"}},
		{name: "disabled human", uid: 1001, shell: "/bin/false", want: []string{"human", "service"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferPosixRoles(tt.uid, tt.shell, tt.groups))
		})
	}
}

func TestClassifyProcessOwner(t *testing.T) {
	assert.Equal(t, models.ProcessTypeSystem, ClassifyProcessOwner("root"))
	assert.Equal(t, models.ProcessTypeSystem, ClassifyProcessOwner("SYSTEM"))
	assert.Equal(t, models.ProcessTypeSystem, ClassifyProcessOwner(`NT AUTHORITY\SYSTEM`))
	assert.Equal(t, models.ProcessTypeUser, ClassifyProcessOwner("vagrant"))
	assert.Equal(t, models.ProcessTypeUser, ClassifyProcessOwner(`LAB\alice`))
	assert.Equal(t, models.ProcessTypeUnknown, ClassifyProcessOwner(""))
}

func TestDetectProcessRole(t *testing.T) {
	assert.Equal(t, models.ProcessRoleScanner, DetectProcessRole([]string{"/usr/local/bin/provscan", "-debug"}))
	assert.Equal(t, models.ProcessRoleShell, DetectProcessRole([]string{"/bin/bash"}))
	assert.Equal(t, models.ProcessRoleShell, DetectProcessRole([]string{"powershell.exe", "-NoProfile"}))
	assert.Equal(t, models.ProcessRoleShell, DetectProcessRole([]string{"sh", "-c", "ls"}))
	assert.Empty(t, DetectProcessRole([]string{"/usr/sbin/sshd", "-D"}))
	assert.Empty(t, DetectProcessRole(nil))
}

func TestParseNetLocalgroup(t *testing.T) {
	out := "Alias name     Administrators\r\n" +
		"Comment        Administrators have complete access\r\n" +
		"\r\n" +
		"Members\r\n" +
		"\r\n" +
		"-------------------------------------------------------------------------------\r\n" +
		"Administrator\r\n" +
		"vagrant\r\n" +
		"-------------------------------------------------------------------------------\r\n" +
		"The command completed successfully.\r\n"

	assert.Equal(t, []string{"Administrator", "vagrant"}, parseNetLocalgroup(out))
}

func TestParseNetLocalgroupEmpty(t *testing.T) {
	assert.Empty(t, parseNetLocalgroup(""))
}

func TestTabSeparatedPackages(t *testing.T) {
	out := "openssh-server\t1:9.2p1\nvim\t2:9.0\n\nmalformed-line\n"

	pkgs := tabSeparatedPackages(out, "dpkg", "system", "high")

	require.Len(t, pkgs, 2)
	assert.Equal(t, "openssh-server", pkgs[0].Name)
	assert.Equal(t, "1:9.2p1", pkgs[0].Version)
	assert.Equal(t, "dpkg", pkgs[0].Source)
	assert.Equal(t, "system", pkgs[0].Scope)
	assert.Equal(t, "high", pkgs[0].Confidence)
	assert.Equal(t, "vim", pkgs[1].Name)
}

func TestProviderFromHypervisor(t *testing.T) {
	assert.Equal(t, ProviderVirtualBox, ProviderFromHypervisor("oracle"))
	assert.Equal(t, ProviderVirtualBox, ProviderFromHypervisor("VirtualBox"))
	assert.Equal(t, ProviderKVM, ProviderFromHypervisor("qemu"))
	assert.Equal(t, ProviderVMware, ProviderFromHypervisor("vmware"))
	assert.Equal(t, ProviderHyperV, ProviderFromHypervisor("microsoft"))
	assert.Equal(t, ProviderUnknown, ProviderFromHypervisor("xen"))
}
