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
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/provlab/provscan/pkg/models"
)

// Windows group membership to role mapping.
var windowsGroupRoles = map[string]string{
	"Administrators":       "admin",
	"Users":                "user",
	"Remote Desktop Users": "rdp",
	"Backup Operators":     "backup",
	"Domain Admins":        "domain_admin",
	"Enterprise Admins":    "enterprise_admin",
	"Account Operators":    "account_operator",
}

// Users collects logged sessions and system accounts with inferred roles.
func Users(ctx context.Context) *models.UsersRecord {
	record := &models.UsersRecord{}

	sessions, err := host.UsersWithContext(ctx)
	if err == nil {
		for _, u := range sessions {
			record.LoggedUsers = append(record.LoggedUsers, models.SessionInfo{
				Username: u.User,
				Terminal: u.Terminal,
				Host:     u.Host,
				Started:  int64(u.Started),
			})
		}
	}

	switch goos {
	case "linux":
		accounts, err := linuxAccounts()
		if err != nil {
			record.Error = err.Error()
		}

		record.SystemUsers = accounts
	case "darwin":
		record.SystemUsers = darwinAccounts(ctx)
	case "windows":
		record.SystemUsers = windowsAccounts(ctx)
	}

	return record
}

// linuxAccounts parses the password database and infers roles from uid,
// shell and group membership.
func linuxAccounts() ([]models.AccountInfo, error) {
	data, err := os.ReadFile("/etc/passwd")
	if err != nil {
		return nil, err
	}

	groups := linuxGroups()

	var accounts []models.AccountInfo

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ":")
		if len(parts) < 7 {
			continue
		}

		uid, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}

		gid, _ := strconv.Atoi(parts[3])
		shell := strings.TrimSpace(parts[6])
		username := parts[0]

		memberOf := groups.membership(username, gid)

		accounts = append(accounts, models.AccountInfo{
			Username: username,
			UID:      uid,
			GID:      gid,
			Home:     parts[5],
			Shell:    shell,
			Roles:    InferPosixRoles(uid, shell, memberOf),
			Groups:   memberOf,
			Source:   "passwd",
		})
	}

	return accounts, nil
}

// InferPosixRoles derives account roles: uid 0 is root, uid < 1000 system,
// else human; nologin shells mark service accounts, interactive otherwise;
// sudo or wheel membership adds admin.
func InferPosixRoles(uid int, shell string, groups []string) []string {
	roles := make(map[string]struct{})

	switch {
	case uid == 0:
		roles["root"] = struct{}{}
	case uid < 1000:
		roles["system"] = struct{}{}
	default:
		roles["human"] = struct{}{}
	}

	base := shell
	if idx := strings.LastIndex(shell, "/"); idx >= 0 {
		base = shell[idx+1:]
	}

	if base == "nologin" || base == "false" {
		roles["service"] = struct{}{}
	} else {
		roles["interactive"] = struct{}{}
	}

	for _, g := range groups {
		if g == "sudo" || g == "wheel" {
			roles["admin"] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(roles))
	for r := range roles {
		sorted = append(sorted, r)
	}

	sort.Strings(sorted)

	return sorted
}

type groupTable struct {
	byMember map[string][]string
	byGID    map[int]string
}

func linuxGroups() *groupTable {
	table := &groupTable{
		byMember: make(map[string][]string),
		byGID:    make(map[int]string),
	}

	data, err := os.ReadFile("/etc/group")
	if err != nil {
		return table
	}

	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.Split(strings.TrimSpace(line), ":")
		if len(parts) < 4 {
			continue
		}

		name := parts[0]

		if gid, err := strconv.Atoi(parts[2]); err == nil {
			table.byGID[gid] = name
		}

		for _, member := range strings.Split(parts[3], ",") {
			member = strings.TrimSpace(member)
			if member != "" {
				table.byMember[member] = append(table.byMember[member], name)
			}
		}
	}

	return table
}

func (t *groupTable) membership(username string, gid int) []string {
	seen := make(map[string]struct{})

	for _, g := range t.byMember[username] {
		seen[g] = struct{}{}
	}

	if primary, ok := t.byGID[gid]; ok {
		seen[primary] = struct{}{}
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)

	return groups
}

// darwinAccounts lists users via dscl, tagging admin group members.
func darwinAccounts(ctx context.Context) []models.AccountInfo {
	out := runCommand(ctx, "dscl", ".", "-list", "/Users")
	if out == "" {
		return nil
	}

	admins := runCommand(ctx, "dscl", ".", "-read", "/Groups/admin", "GroupMembership")

	var accounts []models.AccountInfo

	for _, username := range strings.Split(out, "\n") {
		username = strings.TrimSpace(username)
		if username == "" || strings.HasPrefix(username, "_") {
			continue
		}

		roles := []string{"human"}
		if strings.Contains(admins, username) {
			roles = append(roles, "admin")
		}

		sort.Strings(roles)

		accounts = append(accounts, models.AccountInfo{
			Username: username,
			Roles:    roles,
			Source:   "dscl",
		})
	}

	return accounts
}

// windowsAccounts enumerates local groups and maps membership to roles via
// the fixed group-role table. Domain-scope users keep their domain.
func windowsAccounts(ctx context.Context) []models.AccountInfo {
	byUser := make(map[string]*models.AccountInfo)

	for group, role := range windowsGroupRoles {
		out := runCommand(ctx, "net", "localgroup", group)
		if out == "" {
			continue
		}

		for _, username := range parseNetLocalgroup(out) {
			acct, ok := byUser[username]
			if !ok {
				name, domain := splitWindowsUser(username)
				scope := "local"

				if domain != "" {
					scope = "domain"
				}

				acct = &models.AccountInfo{
					Username: name,
					Domain:   domain,
					Scope:    scope,
					Source:   "windows_security",
				}
				byUser[username] = acct
			}

			acct.Roles = appendUnique(acct.Roles, role)
			acct.Groups = appendUnique(acct.Groups, group)
		}
	}

	usernames := make([]string, 0, len(byUser))
	for u := range byUser {
		usernames = append(usernames, u)
	}

	sort.Strings(usernames)

	accounts := make([]models.AccountInfo, 0, len(usernames))

	for _, u := range usernames {
		acct := byUser[u]
		sort.Strings(acct.Roles)
		sort.Strings(acct.Groups)
		accounts = append(accounts, *acct)
	}

	return accounts
}

// parseNetLocalgroup extracts member names from `net localgroup <g>` output:
// members are listed between the two dashed separator lines.
func parseNetLocalgroup(out string) []string {
	var members []string

	parsing := false

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "----") {
			parsing = !parsing
			continue
		}

		if !parsing || line == "" || strings.HasPrefix(line, "The command completed") {
			continue
		}

		members = append(members, line)
	}

	return members
}

func splitWindowsUser(qualified string) (user, domain string) {
	if idx := strings.Index(qualified, `\`); idx >= 0 {
		return qualified[idx+1:], qualified[:idx]
	}

	return qualified, ""
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}

	return append(list, value)
}
