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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/provlab/provscan/pkg/extract"
	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
	"github.com/provlab/provscan/pkg/transport"
)

// Extraction methods assigned to Phase 2 targets.
const (
	MethodSSH   = "ssh"
	MethodWinRM = "winrm"
	MethodLocal = "local"
)

// Ports implying a remote management channel.
var winrmPorts = []int{5985, 5986}

// AgentTarget is one host selected for agent-based extraction.
type AgentTarget struct {
	IP     string
	Method string
}

// Phase2Config controls agent rollout.
type Phase2Config struct {
	// AgentPath is the local POSIX agent binary; WindowsAgentPath the
	// cross-compiled .exe for Windows targets.
	AgentPath        string
	WindowsAgentPath string

	Credentials transport.Credentials

	// Parallelism bounds concurrent remote sessions. Lab VMs share a
	// hypervisor, so the default is one at a time.
	Parallelism int

	SkipCleanup bool
}

// Dialers open remote sessions; injectable so tests run without a network.
type Dialers struct {
	SSH   func(ctx context.Context, host string, creds transport.Credentials, log logger.Logger) (transport.Session, error)
	WinRM func(ctx context.Context, host string, creds transport.Credentials, log logger.Logger) (transport.Session, error)
}

func defaultDialers() Dialers {
	return Dialers{
		SSH: func(ctx context.Context, host string, creds transport.Credentials, log logger.Logger) (transport.Session, error) {
			return transport.DialSSH(ctx, host, creds, log)
		},
		WinRM: func(ctx context.Context, host string, creds transport.Credentials, log logger.Logger) (transport.Session, error) {
			return transport.DialWinRM(ctx, host, creds, log)
		},
	}
}

// Phase2 deploys the extraction agent to selected Phase 1 responders and
// gathers their host records.
type Phase2 struct {
	cfg     Phase2Config
	dialers Dialers
	log     logger.Logger
}

func NewPhase2(cfg Phase2Config, log logger.Logger) *Phase2 {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	return &Phase2{cfg: cfg, dialers: defaultDialers(), log: log}
}

// NewPhase2WithDialers builds a Phase2 with injected session dialers.
func NewPhase2WithDialers(cfg Phase2Config, dialers Dialers, log logger.Logger) *Phase2 {
	p := NewPhase2(cfg, log)
	p.dialers = dialers

	return p
}

// SelectTargets picks extraction candidates from the Phase 1 report. Only
// laboratory networks are eligible, and infrastructure roles are skipped.
// WinRM wins over SSH when a host exposes both.
func SelectTargets(report *models.Phase1Report, inv *models.SelfInventory) []AgentTarget {
	labIfaces := make(map[string]struct{})

	for _, s := range report.InterfacesScanned {
		if isLabNetwork(s.Reason) {
			labIfaces[s.Interface] = struct{}{}
		}
	}

	selfIPs := make(map[string]struct{})
	for _, iface := range inv.Interfaces {
		if iface.IP != "" {
			selfIPs[iface.IP] = struct{}{}
		}
	}

	chosen := make(map[string]string)

	for ifaceName, result := range report.Results {
		if _, ok := labIfaces[ifaceName]; !ok {
			continue
		}

		for ip, detail := range result.Details {
			if _, self := selfIPs[ip]; self {
				continue
			}

			if detail.Type == models.HostTypeGateway || detail.Type == models.HostTypeNetworkDevice {
				continue
			}

			method := extractionMethod(detail.TCP)
			if method == "" {
				continue
			}

			// WinRM takes priority when a host was seen on two
			// interfaces with different port sets.
			if prev, ok := chosen[ip]; !ok || (prev == MethodSSH && method == MethodWinRM) {
				chosen[ip] = method
			}
		}
	}

	targets := make([]AgentTarget, 0, len(chosen))
	for ip, method := range chosen {
		targets = append(targets, AgentTarget{IP: ip, Method: method})
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].IP < targets[j].IP })

	return targets
}

func isLabNetwork(reason string) bool {
	lower := strings.ToLower(reason)

	return strings.Contains(lower, "host-only") || strings.Contains(lower, "vagrant")
}

func extractionMethod(tcp []int) string {
	open := make(map[int]struct{}, len(tcp))
	for _, p := range tcp {
		open[p] = struct{}{}
	}

	for _, p := range winrmPorts {
		if _, ok := open[p]; ok {
			return MethodWinRM
		}
	}

	if _, ok := open[22]; ok {
		return MethodSSH
	}

	return ""
}

// Run extracts host records from every target plus the scanner host itself.
// Remote failures are logged and skipped; the local record always lands.
func (p *Phase2) Run(ctx context.Context, report *models.Phase1Report, inv *models.SelfInventory) map[string]*models.HostRecord {
	records := make(map[string]*models.HostRecord)

	var mu sync.Mutex

	targets := SelectTargets(report, inv)

	p.log.Info().Int("targets", len(targets)).Int("parallelism", p.cfg.Parallelism).Msg("starting agent rollout")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	for _, target := range targets {
		target := target

		g.Go(func() error {
			record, err := p.extractRemote(gctx, target)
			if err != nil {
				p.log.Warn().Err(err).Str("host", target.IP).Str("method", target.Method).Msg("remote extraction failed")

				return nil
			}

			mu.Lock()
			records[target.IP] = record
			mu.Unlock()

			return nil
		})
	}

	// The scanner host runs the extractors in-process.
	local := extract.RunAll(ctx, p.log)

	_ = g.Wait()

	if ip := inv.Network.IP; ip != "" {
		records[ip] = local
	} else {
		records[inv.Hostname] = local
	}

	return records
}

func (p *Phase2) extractRemote(ctx context.Context, target AgentTarget) (*models.HostRecord, error) {
	var (
		session transport.Session
		err     error
	)

	switch target.Method {
	case MethodWinRM:
		session, err = p.dialers.WinRM(ctx, target.IP, p.cfg.Credentials, p.log)
	default:
		session, err = p.dialers.SSH(ctx, target.IP, p.cfg.Credentials, p.log)
	}

	if err != nil {
		return nil, err
	}
	defer session.Close()

	agentPath := p.cfg.AgentPath
	if session.OS() == transport.OSWindows {
		agentPath = p.cfg.WindowsAgentPath
	}

	if agentPath == "" {
		return nil, fmt.Errorf("no agent binary configured for %s targets", session.OS())
	}

	if err := session.Deploy(ctx, agentPath); err != nil {
		return nil, err
	}

	if err := session.Execute(ctx); err != nil {
		return nil, err
	}

	jsonOut, _, err := session.Collect(ctx)
	if err != nil {
		return nil, err
	}

	if !p.cfg.SkipCleanup {
		if err := session.Cleanup(ctx); err != nil {
			p.log.Warn().Err(err).Str("host", target.IP).Msg("agent directory left behind")
		}
	}

	var record models.HostRecord
	if err := json.Unmarshal(jsonOut, &record); err != nil {
		return nil, fmt.Errorf("%w: parse agent output from %s: %v", transport.ErrCollectFailed, target.IP, err)
	}

	// A newer agent may emit sections this scanner cannot interpret.
	if record.SchemaVersion > models.SchemaVersion {
		return nil, fmt.Errorf("%w: host %s reports schema version %d, scanner supports up to %d",
			transport.ErrCollectFailed, target.IP, record.SchemaVersion, models.SchemaVersion)
	}

	record.ExtractionMethod = target.Method

	return &record, nil
}
