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
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
	"github.com/provlab/provscan/pkg/scan"
)

const (
	defaultMaxHosts = 1024

	dnsProbeTimeout = 500 * time.Millisecond
)

// Phase1Config tunes the local network sweep.
type Phase1Config struct {
	EnableICMP  bool
	MaxHosts    int
	TCPTimeout  time.Duration
	ICMPTimeout time.Duration
	Concurrency int
}

// Phase1 sweeps the network behind each selected interface and classifies
// every responder.
type Phase1 struct {
	cfg Phase1Config
	log logger.Logger
}

func NewPhase1(cfg Phase1Config, log logger.Logger) *Phase1 {
	if cfg.MaxHosts == 0 {
		cfg.MaxHosts = defaultMaxHosts
	}

	return &Phase1{cfg: cfg, log: log}
}

// Run sweeps every candidate interface and aggregates the per-interface
// results into a single report with a cross-interface summary.
func (p *Phase1) Run(ctx context.Context, candidates []models.InterfaceCandidate, inv *models.SelfInventory) *models.Phase1Report {
	report := &models.Phase1Report{
		Results: make(map[string]*models.DiscoveryResult),
	}

	seen := make(map[string]struct{})
	networks := make(map[string]struct{})

	for _, cand := range candidates {
		result, err := p.ScanInterface(ctx, cand, inv)
		if err != nil {
			p.log.Warn().Err(err).Str("interface", cand.Name).Msg("interface sweep failed")

			continue
		}

		report.InterfacesScanned = append(report.InterfacesScanned, models.ScannedInterface{
			Interface: cand.Name,
			IP:        cand.IP,
			Netmask:   cand.Netmask,
			Score:     cand.Score,
			Reason:    cand.Reason,
		})

		report.Results[cand.Name] = result
		networks[result.Network] = struct{}{}

		for _, host := range result.DiscoveredHosts {
			seen[host] = struct{}{}
		}
	}

	report.OverallSummary = summarize(report.InterfacesScanned, seen, networks)

	return report
}

func summarize(scanned []models.ScannedInterface, seen, networks map[string]struct{}) models.DiscoverySummary {
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}

	sort.Strings(hosts)

	nets := make([]string, 0, len(networks))
	for n := range networks {
		nets = append(nets, n)
	}

	sort.Strings(nets)

	return models.DiscoverySummary{
		TotalInterfacesScanned: len(scanned),
		TotalUniqueHosts:       len(hosts),
		UniqueHosts:            hosts,
		NetworksDiscovered:     nets,
	}
}

// sweepModes lists the probe modes one interface sweep will run. ARP seeding
// and the TCP connect sweep are always on; ICMP is opt-in because it shells
// out to the system ping binary.
func (p *Phase1) sweepModes() []models.SweepMode {
	modes := []models.SweepMode{models.ModeARP, models.ModeTCP}

	if p.cfg.EnableICMP {
		modes = append(modes, models.ModeICMP)
	}

	return modes
}

// ScanInterface probes one interface's network: ARP cache seed, bounded TCP
// connect sweep, optional ICMP, then per-responder classification.
func (p *Phase1) ScanInterface(ctx context.Context, cand models.InterfaceCandidate, inv *models.SelfInventory) (*models.DiscoveryResult, error) {
	cidr, err := scan.CIDRFromAddr(cand.IP, cand.Netmask)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", cand.Name, err)
	}

	modes := p.sweepModes()

	methods := make([]string, 0, len(modes))
	for _, mode := range modes {
		methods = append(methods, string(mode))
	}

	result := &models.DiscoveryResult{
		Network:   cidr,
		Details:   make(map[string]*models.HostDetail),
		ScannerIP: cand.IP,
		Methods:   methods,
	}

	alive := make(map[string]struct{})

	// ARP entries are evidence of recent traffic; membership is still
	// re-validated against the interface CIDR.
	for _, entry := range inv.ARPEntries {
		if entry.IP == cand.IP {
			continue
		}

		if scan.ContainsHost(cidr, entry.IP) {
			alive[entry.IP] = struct{}{}
		}
	}

	hosts, err := scan.ExpandCIDR(cidr, p.cfg.MaxHosts)
	if err != nil {
		return nil, err
	}

	tcpAlive, err := p.tcpSweep(ctx, hosts, cand.IP)
	if err != nil {
		return nil, err
	}

	for host := range tcpAlive {
		alive[host] = struct{}{}
	}

	if models.ContainsMode(modes, models.ModeICMP) {
		for host := range p.icmpSweep(ctx, hosts, cand.IP) {
			alive[host] = struct{}{}
		}
	}

	for host := range alive {
		detail := p.classify(ctx, host, inv.Network.Gateway)
		result.Details[host] = detail
		result.DiscoveredHosts = append(result.DiscoveredHosts, host)
	}

	sort.Strings(result.DiscoveredHosts)

	p.log.Info().
		Str("interface", cand.Name).
		Str("network", cidr).
		Int("hosts", len(result.DiscoveredHosts)).
		Strs("methods", result.Methods).
		Msg("interface sweep complete")

	return result, nil
}

// tcpSweep probes the discovery port set on every expanded host and returns
// the set of hosts with at least one open port.
func (p *Phase1) tcpSweep(ctx context.Context, hosts []string, self string) (map[string]struct{}, error) {
	targets := make([]models.Target, 0, len(hosts)*len(scan.DiscoveryPorts))

	for _, host := range hosts {
		if host == self {
			continue
		}

		for _, port := range scan.DiscoveryPorts {
			targets = append(targets, models.Target{Host: host, Port: port, Mode: models.ModeTCP})
		}
	}

	sweeper := scan.NewTCPSweeper(p.cfg.TCPTimeout, p.cfg.Concurrency, p.log)

	results, err := sweeper.Scan(ctx, targets)
	if err != nil {
		return nil, err
	}

	alive := make(map[string]struct{})

	for r := range results {
		if r.Available {
			alive[r.Target.Host] = struct{}{}
		}
	}

	return alive, nil
}

func (p *Phase1) icmpSweep(ctx context.Context, hosts []string, self string) map[string]struct{} {
	targets := make([]models.Target, 0, len(hosts))

	for _, host := range hosts {
		if host == self {
			continue
		}

		targets = append(targets, models.Target{Host: host, Mode: models.ModeICMP})
	}

	sweeper := scan.NewICMPSweeper(p.cfg.ICMPTimeout, 0, p.log)

	results, err := sweeper.Scan(ctx, targets)
	if err != nil {
		return nil
	}

	alive := make(map[string]struct{})

	for r := range results {
		if r.Available {
			alive[r.Target.Host] = struct{}{}
		}
	}

	return alive
}

// classify probes the wider classification port set on one responder, reads
// a TTL hint, checks UDP DNS and assigns a role.
func (p *Phase1) classify(ctx context.Context, host, gateway string) *models.HostDetail {
	detail := &models.HostDetail{
		TCP:    p.openPorts(ctx, host),
		OSHint: models.OSHintUnknown,
	}

	if _, ttl := scan.Ping(ctx, host, p.cfg.ICMPTimeout); ttl > 0 {
		detail.OSHint = scan.OSHintFromTTL(ttl)
	}

	if ev, ok := probeDNS(ctx, host); ok {
		detail.UDP = append(detail.UDP, ev)
	}

	detail.Type = ClassifyHost(host, gateway, detail.OSHint, detail.TCP, detail.UDP)

	if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
		detail.Hostname = strings.TrimSuffix(names[0], ".")
	}

	return detail
}

func (p *Phase1) openPorts(ctx context.Context, host string) []int {
	targets := make([]models.Target, 0, len(scan.ClassificationPorts))

	for _, port := range scan.ClassificationPorts {
		targets = append(targets, models.Target{Host: host, Port: port, Mode: models.ModeTCP})
	}

	sweeper := scan.NewTCPSweeper(p.cfg.TCPTimeout, p.cfg.Concurrency, p.log)

	results, err := sweeper.Scan(ctx, targets)
	if err != nil {
		return nil
	}

	var open []int

	for r := range results {
		if r.Available {
			open = append(open, r.Target.Port)
		}
	}

	sort.Ints(open)

	return open
}

// ClassifyHost assigns a role to a responder. Rules apply in order; the
// first match wins.
func ClassifyHost(ip, gateway string, hint models.OSHint, tcp []int, udp []models.UDPEvidence) models.HostType {
	open := make(map[int]struct{}, len(tcp))
	for _, port := range tcp {
		open[port] = struct{}{}
	}

	hasPort := func(ports ...int) bool {
		for _, port := range ports {
			if _, ok := open[port]; ok {
				return true
			}
		}

		return false
	}

	switch {
	case gateway != "" && ip == gateway:
		return models.HostTypeGateway
	case hint == models.OSHintNetworkDeviceLike:
		return models.HostTypeNetworkDevice
	case hasPort(9100, 631):
		return models.HostTypePrinter
	case hasPort(80, 443):
		return models.HostTypeWebService
	case hasPort(22):
		return models.HostTypeSSHService
	case hasDNSEvidence(udp):
		return models.HostTypeDNSLike
	default:
		return models.HostTypeUnknown
	}
}

func hasDNSEvidence(udp []models.UDPEvidence) bool {
	for _, ev := range udp {
		if ev.Port == 53 {
			return true
		}
	}

	return false
}

// probeDNS sends a minimal A query for "." to udp/53 and reports whether a
// response came back. A reply is high-confidence evidence of a resolver.
func probeDNS(ctx context.Context, host string) (models.UDPEvidence, bool) {
	var d net.Dialer

	probeCtx, cancel := context.WithTimeout(ctx, dnsProbeTimeout)
	defer cancel()

	conn, err := d.DialContext(probeCtx, "udp", net.JoinHostPort(host, "53"))
	if err != nil {
		return models.UDPEvidence{}, false
	}
	defer conn.Close()

	// Header-only query: id 0x1234, RD set, one question for the root.
	query := []byte{
		0x12, 0x34, 0x01, 0x00,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01,
	}

	if err := conn.SetDeadline(time.Now().Add(dnsProbeTimeout)); err != nil {
		return models.UDPEvidence{}, false
	}

	if _, err := conn.Write(query); err != nil {
		return models.UDPEvidence{}, false
	}

	buf := make([]byte, 512)

	n, err := conn.Read(buf)
	if err != nil || n < 12 {
		return models.UDPEvidence{}, false
	}

	return models.UDPEvidence{Port: 53, Evidence: "dns_response", Confidence: "high"}, true
}
