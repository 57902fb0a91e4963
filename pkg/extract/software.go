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
	"os"
	"path/filepath"
	"strings"

	"github.com/provlab/provscan/pkg/models"
)

// Software collects installed packages. Package managers are probed in a
// platform-fixed order; missing managers contribute nothing.
func Software(ctx context.Context) *models.SoftwareRecord {
	record := &models.SoftwareRecord{}

	switch goos {
	case "linux":
		record.Installed = append(record.Installed, dpkgPackages(ctx)...)
		record.Installed = append(record.Installed, rpmPackages(ctx)...)
	case "windows":
		record.Installed = append(record.Installed, windowsRegistryPackages(ctx)...)
		record.Installed = append(record.Installed, windowsMSIPackages(ctx)...)
		record.Installed = append(record.Installed, windowsPortablePackages()...)
	case "darwin":
		record.Installed = append(record.Installed, brewPackages(ctx)...)
	}

	return record
}

func dpkgPackages(ctx context.Context) []models.PackageInfo {
	out := runCommand(ctx, "dpkg-query", "-W", "-f=${Package}\t${Version}\n")

	return tabSeparatedPackages(out, "dpkg", "system", "high")
}

func rpmPackages(ctx context.Context) []models.PackageInfo {
	out := runCommand(ctx, "rpm", "-qa", "--qf", "%{NAME}\t%{VERSION}\n")

	return tabSeparatedPackages(out, "rpm", "system", "high")
}

func tabSeparatedPackages(out, source, scope, confidence string) []models.PackageInfo {
	if out == "" {
		return nil
	}

	var pkgs []models.PackageInfo

	for _, line := range strings.Split(out, "\n") {
		name, version, ok := strings.Cut(line, "\t")
		if !ok || name == "" {
			continue
		}

		pkgs = append(pkgs, models.PackageInfo{
			Name:       name,
			Version:    version,
			Source:     source,
			Scope:      scope,
			Confidence: confidence,
		})
	}

	return pkgs
}

type registryEntry struct {
	Name            string `json:"Name"`
	Version         string `json:"Version"`
	InstallLocation string `json:"InstallLocation"`
	Scope           string `json:"Scope"`
}

const registryQuery = `
$paths = @(
  "HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*",
  "HKLM:\Software\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\*",
  "HKCU:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*"
)
$results = @()
foreach ($p in $paths) {
  try {
    Get-ItemProperty $p -ErrorAction SilentlyContinue |
      Where-Object { $_.DisplayName } |
      ForEach-Object {
        $results += [PSCustomObject]@{
          Name = $_.DisplayName
          Version = $_.DisplayVersion
          InstallLocation = $_.InstallLocation
          Scope = if ($p.StartsWith("HKCU")) { "user" } else { "system" }
        }
      }
  } catch {}
}
$results | ConvertTo-Json`

func windowsRegistryPackages(ctx context.Context) []models.PackageInfo {
	entries := powershellJSON[registryEntry](ctx, registryQuery)

	var pkgs []models.PackageInfo

	for _, e := range entries {
		if e.Name == "" {
			continue
		}

		pkgs = append(pkgs, models.PackageInfo{
			Name:        e.Name,
			Version:     e.Version,
			InstallPath: e.InstallLocation,
			Source:      "registry",
			Scope:       e.Scope,
			Confidence:  "medium",
		})
	}

	return pkgs
}

func windowsMSIPackages(ctx context.Context) []models.PackageInfo {
	entries := powershellJSON[registryEntry](ctx,
		"Get-WmiObject Win32_Product | Select Name, Version | ConvertTo-Json")

	var pkgs []models.PackageInfo

	for _, e := range entries {
		if e.Name == "" {
			continue
		}

		pkgs = append(pkgs, models.PackageInfo{
			Name:       e.Name,
			Version:    e.Version,
			Source:     "msi",
			Scope:      "system",
			Confidence: "medium",
		})
	}

	return pkgs
}

// windowsPortablePackages guesses at portable installs: directories under
// the program roots that contain an exe named after the directory.
func windowsPortablePackages() []models.PackageInfo {
	var pkgs []models.PackageInfo

	roots := []string{
		os.Getenv("PROGRAMFILES"),
		os.Getenv("PROGRAMFILES(X86)"),
		os.Getenv("LOCALAPPDATA"),
	}

	for _, root := range roots {
		if root == "" {
			continue
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			full := filepath.Join(root, entry.Name())
			exe := filepath.Join(full, entry.Name()+".exe")

			if _, err := os.Stat(exe); err != nil {
				continue
			}

			pkgs = append(pkgs, models.PackageInfo{
				Name:        entry.Name(),
				InstallPath: full,
				Source:      "portable_heuristic",
				Scope:       "user",
				Confidence:  "low",
			})
		}
	}

	return pkgs
}

func brewPackages(ctx context.Context) []models.PackageInfo {
	out := runCommand(ctx, "brew", "list", "--versions")
	if out == "" {
		return nil
	}

	var pkgs []models.PackageInfo

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		pkgs = append(pkgs, models.PackageInfo{
			Name:       fields[0],
			Version:    fields[1],
			Source:     "brew",
			Scope:      "user",
			Confidence: "high",
		})
	}

	return pkgs
}

// powershellJSON runs a PowerShell snippet that emits JSON and decodes it,
// tolerating the single-object form ConvertTo-Json uses for one result.
func powershellJSON[T any](ctx context.Context, script string) []T {
	out := runCommand(ctx, "powershell", "-Command", script)
	if out == "" {
		return nil
	}

	var list []T
	if err := json.Unmarshal([]byte(out), &list); err == nil {
		return list
	}

	var single T
	if err := json.Unmarshal([]byte(out), &single); err == nil {
		return []T{single}
	}

	return nil
}
