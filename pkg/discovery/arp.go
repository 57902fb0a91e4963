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
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/provlab/provscan/pkg/models"
)

var (
	darwinARPPattern  = regexp.MustCompile(`\((.*?)\) at ([0-9a-f:]+)`)
	windowsARPPattern = regexp.MustCompile(`(?i)(\d+\.\d+\.\d+\.\d+)\s+([0-9a-f]{2}(?:-[0-9a-f]{2}){5})\s+(\w+)`)
)

// RawARPCache returns the unparsed output of the platform arp command.
func RawARPCache(ctx context.Context) string {
	args := []string{"-n"}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		args = []string{"-a"}
	}

	out, err := exec.CommandContext(ctx, "arp", args...).Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}

// ParseARPCache reads and parses the kernel ARP cache into typed entries.
func ParseARPCache(ctx context.Context) []models.ARPEntry {
	raw := RawARPCache(ctx)
	if raw == "" {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return parseDarwinARP(raw)
	case "windows":
		return parseWindowsARP(raw)
	default:
		return parseLinuxARP(raw)
	}
}

// parseLinuxARP parses `arp -n` tabular output, skipping the header line.
func parseLinuxARP(raw string) []models.ARPEntry {
	var entries []models.ARPEntry

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}

		entries = append(entries, models.ARPEntry{
			IP:    parts[0],
			MAC:   parts[2],
			Iface: parts[len(parts)-1],
		})
	}

	return entries
}

func parseDarwinARP(raw string) []models.ARPEntry {
	var entries []models.ARPEntry

	for _, line := range strings.Split(raw, "\n") {
		m := darwinARPPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		entries = append(entries, models.ARPEntry{
			IP:    m[1],
			MAC:   m[2],
			Iface: "unknown",
		})
	}

	return entries
}

func parseWindowsARP(raw string) []models.ARPEntry {
	var entries []models.ARPEntry

	for _, line := range strings.Split(raw, "\n") {
		m := windowsARPPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		entries = append(entries, models.ARPEntry{
			IP:    m[1],
			MAC:   m[2],
			Iface: m[3],
		})
	}

	return entries
}
