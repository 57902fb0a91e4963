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
	"encoding/json"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/provlab/provscan/pkg/models"
)

const maxProcesses = 300

var systemUsernames = map[string]struct{}{
	"root":            {},
	"SYSTEM":          {},
	"LOCAL SERVICE":   {},
	"NETWORK SERVICE": {},
}

// Services collects processes, listening sockets and platform services.
func Services(ctx context.Context) *models.ServicesRecord {
	record := &models.ServicesRecord{}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		record.Error = err.Error()
	}

	for _, p := range procs {
		info := processInfo(ctx, p)
		if info == nil {
			continue
		}

		record.Processes = append(record.Processes, *info)

		if len(record.Processes) >= maxProcesses {
			break
		}
	}

	if conns, err := psnet.ConnectionsWithContext(ctx, "inet"); err == nil {
		for _, c := range conns {
			if c.Status != "LISTEN" || c.Laddr.IP == "" {
				continue
			}

			sock := classifyConnection(ctx, &c)
			record.ListeningPorts = append(record.ListeningPorts, *sock)
		}
	}

	switch goos {
	case "linux":
		record.Services = linuxServices(ctx)
	case "windows":
		record.Services = windowsServices(ctx)
	}

	return record
}

func processInfo(ctx context.Context, p *process.Process) *models.ProcessInfo {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil
	}

	info := &models.ProcessInfo{
		PID:  p.Pid,
		Name: name,
	}

	if ppid, err := p.PpidWithContext(ctx); err == nil {
		info.PPID = ppid
	}

	if parent, err := p.ParentWithContext(ctx); err == nil && parent != nil {
		if pname, err := parent.NameWithContext(ctx); err == nil {
			info.ParentName = pname
		}
	}

	if exe, err := p.ExeWithContext(ctx); err == nil {
		info.Exe = exe
	}

	if user, err := p.UsernameWithContext(ctx); err == nil {
		info.Username = user
	}

	if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}

	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		info.CreateTime = created / 1000
	}

	info.ProcessType = ClassifyProcessOwner(info.Username)
	info.ProcessRole = DetectProcessRole(info.Cmdline)

	return info
}

// ClassifyProcessOwner labels a process by its owning account.
func ClassifyProcessOwner(username string) string {
	if username == "" {
		return models.ProcessTypeUnknown
	}

	stripped := username
	if idx := strings.Index(username, `\`); idx >= 0 {
		stripped = username[idx+1:]
	}

	if _, ok := systemUsernames[stripped]; ok {
		return models.ProcessTypeSystem
	}

	return models.ProcessTypeUser
}

// DetectProcessRole tags scanner and shell processes by cmdline match.
func DetectProcessRole(cmdline []string) string {
	joined := strings.ToLower(strings.Join(cmdline, " "))

	if strings.Contains(joined, "provscan") || strings.Contains(joined, "scanner") {
		return models.ProcessRoleScanner
	}

	for _, shell := range []string{"bash", "zsh", "powershell", "cmd.exe"} {
		if strings.Contains(joined, shell) {
			return models.ProcessRoleShell
		}
	}

	fields := strings.Fields(joined)
	if len(fields) > 0 && (fields[0] == "sh" || strings.HasSuffix(fields[0], "/sh")) {
		return models.ProcessRoleShell
	}

	return ""
}

// linuxServices lists systemd units with their main PID, exec, user and state.
func linuxServices(ctx context.Context) []models.ServiceInfo {
	out := runCommand(ctx, "systemctl", "list-units", "--type=service", "--no-pager", "--all", "--no-legend")
	if out == "" {
		return nil
	}

	var services []models.ServiceInfo

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasSuffix(fields[0], ".service") {
			continue
		}

		name := fields[0]

		show := runCommand(ctx, "systemctl", "show", name, "--property=MainPID,ExecStart,User,ActiveState")
		if show == "" {
			continue
		}

		props := make(map[string]string)

		for _, l := range strings.Split(show, "\n") {
			if k, v, ok := strings.Cut(l, "="); ok {
				props[k] = v
			}
		}

		pid, _ := strconv.Atoi(props["MainPID"])

		confidence := "medium"
		if pid > 0 {
			confidence = "high"
		}

		services = append(services, models.ServiceInfo{
			Name:       name,
			PID:        int32(pid),
			Exec:       props["ExecStart"],
			Username:   props["User"],
			State:      props["ActiveState"],
			Platform:   "linux",
			Confidence: confidence,
		})
	}

	return services
}

type win32Service struct {
	Name      string `json:"Name"`
	State     string `json:"State"`
	StartMode string `json:"StartMode"`
	ProcessID int32  `json:"ProcessId"`
	StartName string `json:"StartName"`
	PathName  string `json:"PathName"`
}

// windowsServices queries Win32_Service through PowerShell CIM.
func windowsServices(ctx context.Context) []models.ServiceInfo {
	out := runCommand(ctx, "powershell", "-Command",
		"Get-CimInstance Win32_Service | Select Name, State, StartMode, ProcessId, StartName, PathName | ConvertTo-Json")
	if out == "" {
		return nil
	}

	var entries []win32Service

	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		// A single service serializes as an object, not an array.
		var single win32Service
		if err := json.Unmarshal([]byte(out), &single); err != nil {
			return nil
		}

		entries = []win32Service{single}
	}

	services := make([]models.ServiceInfo, 0, len(entries))

	for _, svc := range entries {
		confidence := "medium"
		if svc.ProcessID > 0 {
			confidence = "high"
		}

		services = append(services, models.ServiceInfo{
			Name:       svc.Name,
			PID:        svc.ProcessID,
			Exec:       svc.PathName,
			Username:   svc.StartName,
			State:      svc.State,
			StartMode:  svc.StartMode,
			Platform:   "windows",
			Confidence: confidence,
		})
	}

	return services
}
