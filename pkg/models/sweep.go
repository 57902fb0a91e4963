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

// Package models provides the shared data models for the provenance scanner.
package models

import "time"

// SweepMode selects a probe method for local network discovery.
type SweepMode string

const (
	ModeARP  SweepMode = "arp"
	ModeTCP  SweepMode = "tcp"
	ModeICMP SweepMode = "icmp"
)

// ContainsMode checks if a mode is in a list of modes.
func ContainsMode(modes []SweepMode, mode SweepMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}

	return false
}

// Target represents a network target to be probed.
type Target struct {
	Host string
	Port int
	Mode SweepMode
}

// Result represents the outcome of a probe against a target.
type Result struct {
	Target    Target
	Available bool
	RespTime  time.Duration
	Error     error
}
