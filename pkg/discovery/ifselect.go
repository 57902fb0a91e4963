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
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

// ErrNoSuitableInterface means no interface survived the rejection rules.
var ErrNoSuitableInterface = errors.New("no suitable interface for active scanning")

// MAC prefixes assigned to virtual adapters.
var virtualMACPrefixes = []string{
	"02:42",    // Docker
	"00:15:5d", // Hyper-V
	"08:00:27", // VirtualBox
	"00:0c:29", "00:05:69", "00:50:56", // VMware
}

// Interface name prefixes that indicate virtual or tunnel devices.
var ignoredInterfacePrefixes = []string{
	"lo", "loopback",
	"docker", "br-", "veth", "virbr", "vboxnet",
	"vmnet", "tap", "tun", "zt", "tailscale",
}

// Interface score adjustments.
const (
	scoreVagrantHostOnly = 100
	scoreVagrantNAT      = 80
	scoreNATInsideVM     = 15
	scorePrivateSubnet   = 4
	scoreARPNeighbors    = 3
	scoreEmptyARP        = -2
	scoreGatewayIface    = 3
	scoreLargeSubnet     = -3

	largeSubnetPrefix = 20
	minARPNeighbors   = 3
)

// SelectorEnv captures the host facts the scoring cascade consults. It is
// separated from the selector so tests can pin the environment.
type SelectorEnv struct {
	InsideVM       bool
	InsideVagrant  bool
	GatewayIface   string
	HasDNSSuffix   bool
	ARPNeighborsOf func(ip string) int
}

// Selector ranks local interfaces by suitability for active probing.
type Selector struct {
	env SelectorEnv
	log logger.Logger
}

func NewSelector(env SelectorEnv, log logger.Logger) *Selector {
	if env.ARPNeighborsOf == nil {
		env.ARPNeighborsOf = func(string) int { return 0 }
	}

	return &Selector{env: env, log: log}
}

// DetectEnv probes the running host once and builds the selector environment.
func DetectEnv(_ context.Context, inv *models.SelfInventory) SelectorEnv {
	entries := inv.ARPEntries

	return SelectorEnv{
		InsideVM:      runningInsideVM(),
		InsideVagrant: runningInsideVagrant(),
		GatewayIface:  gatewayInterface(inv),
		HasDNSSuffix:  len(inv.Network.DNS) > 0 && inv.Domain != "No domain",
		ARPNeighborsOf: func(ip string) int {
			octet, _, _ := strings.Cut(ip, ".")

			count := 0

			for _, e := range entries {
				if strings.HasPrefix(e.IP, octet+".") {
					count++
				}
			}

			return count
		},
	}
}

func gatewayInterface(inv *models.SelfInventory) string {
	gw := net.ParseIP(inv.Network.Gateway)
	if gw == nil {
		return ""
	}

	for _, iface := range inv.Interfaces {
		if iface.IP == "" || iface.Netmask == "" {
			continue
		}

		mask := net.IPMask(net.ParseIP(iface.Netmask).To4())
		ip := net.ParseIP(iface.IP)

		if ip == nil || mask == nil {
			continue
		}

		if ip.Mask(mask).Equal(gw.Mask(mask)) {
			return iface.Name
		}
	}

	return ""
}

// Select scores every interface with an IPv4 and returns survivors sorted
// by descending score. Returns ErrNoSuitableInterface when all are rejected.
func (s *Selector) Select(ctx context.Context) ([]models.InterfaceCandidate, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("interface enumeration: %w", err)
	}

	var candidates []models.InterfaceCandidate

	for _, iface := range stats {
		var ipv4, netmask string

		for _, addr := range iface.Addrs {
			ip, ipnet, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil {
				continue
			}

			ipv4 = ip.String()
			netmask = net.IP(ipnet.Mask).String()

			break
		}

		if ipv4 == "" {
			continue
		}

		score, reason, ok := s.Score(iface.Name, ipv4, netmask, iface.HardwareAddr)

		s.log.Debug().
			Str("interface", iface.Name).
			Str("ip", ipv4).
			Int("score", score).
			Bool("selected", ok).
			Str("reason", reason).
			Msg("interface scored")

		if !ok {
			continue
		}

		candidates = append(candidates, models.InterfaceCandidate{
			Name:    iface.Name,
			IP:      ipv4,
			Netmask: netmask,
			MAC:     iface.HardwareAddr,
			Score:   score,
			Reason:  reason,
		})
	}

	if len(candidates) == 0 {
		return nil, ErrNoSuitableInterface
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates, nil
}

// Score runs the rule cascade for one interface. ok=false means rejected;
// the reason always explains the decision.
func (s *Selector) Score(name, ip, netmask, mac string) (score int, reason string, ok bool) {
	if ip == "" || netmask == "" {
		return 0, "No IPv4 address", false
	}

	if strings.HasPrefix(ip, "169.254.") {
		return 0, "APIPA address", false
	}

	if s.env.InsideVagrant {
		if strings.HasPrefix(ip, "192.168.56.") {
			return scoreVagrantHostOnly, "Vagrant Host-Only network", true
		}

		if strings.HasPrefix(ip, "10.0.2.") {
			return scoreVagrantNAT, "Vagrant NAT network", true
		}

		return 0, "Non-Vagrant interface skipped inside VM", false
	}

	if isIgnoredName(name) {
		return 0, "Ignored interface name", false
	}

	if isVirtualMAC(mac) && !s.env.InsideVM {
		return 0, "Virtual MAC detected", false
	}

	if nat := isNATInterface(ip, mac); nat {
		if !s.env.InsideVM {
			return 0, "NAT adapter on host OS (skipped)", false
		}

		return scoreNATInsideVM, "NAT adapter inside VM", true
	}

	if s.isPublicWiFi(name, ip, netmask) {
		return 0, "Public Wi-Fi (unsafe to scan)", false
	}

	var reasons []string

	if ipIsPrivate(ip) {
		score += scorePrivateSubnet

		reasons = append(reasons, "Private network")
	}

	neighbors := s.env.ARPNeighborsOf(ip)

	switch {
	case neighbors >= minARPNeighbors:
		score += scoreARPNeighbors

		reasons = append(reasons, fmt.Sprintf("%d ARP neighbors", neighbors))
	case neighbors == 0:
		score += scoreEmptyARP

		reasons = append(reasons, "Empty ARP table")
	}

	if s.env.GatewayIface != "" && s.env.GatewayIface == name {
		score += scoreGatewayIface

		reasons = append(reasons, "Default gateway reachable")
	}

	if prefix, ok := prefixLen(ip, netmask); ok && prefix <= largeSubnetPrefix {
		score += scoreLargeSubnet

		reasons = append(reasons, "Very large subnet (/20 or larger)")
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Generic interface")
	}

	return score, strings.Join(reasons, "; "), true
}

func isIgnoredName(name string) bool {
	lower := strings.ToLower(name)

	for _, prefix := range ignoredInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	return false
}

func isVirtualMAC(mac string) bool {
	if mac == "" {
		return false
	}

	lower := strings.ToLower(mac)

	for _, prefix := range virtualMACPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	return false
}

// isNATInterface detects VirtualBox/VMware NAT adapters by MAC vendor or
// the VirtualBox default NAT subnet.
func isNATInterface(ip, mac string) bool {
	lower := strings.ToLower(mac)

	if strings.HasPrefix(lower, "08:00:27") {
		return true
	}

	for _, prefix := range []string{"00:50:56", "00:0c:29", "00:05:69"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	return strings.HasPrefix(ip, "10.0.2.")
}

// isPublicWiFi flags wireless interfaces that look like hotel or campus
// hotspots: very large subnets, or no DNS suffix at all.
func (s *Selector) isPublicWiFi(name, ip, netmask string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "wi-fi") && !strings.Contains(lower, "wlan") {
		return false
	}

	if prefix, ok := prefixLen(ip, netmask); ok && prefix <= largeSubnetPrefix {
		return true
	}

	return !s.env.HasDNSSuffix
}

func ipIsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)

	return parsed != nil && parsed.IsPrivate()
}

func prefixLen(ip, netmask string) (int, bool) {
	maskIP := net.ParseIP(netmask)
	if maskIP == nil || maskIP.To4() == nil || net.ParseIP(ip) == nil {
		return 0, false
	}

	ones, _ := net.IPMask(maskIP.To4()).Size()

	return ones, true
}

// runningInsideVM checks hypervisor evidence in DMI (Linux) or the machine
// model (Windows).
func runningInsideVM() bool {
	if prod, err := os.ReadFile("/sys/class/dmi/id/product_name"); err == nil {
		lower := strings.ToLower(string(prod))
		for _, v := range []string{"virtualbox", "vmware", "kvm", "qemu"} {
			if strings.Contains(lower, v) {
				return true
			}
		}
	}

	if vendor, err := os.ReadFile("/sys/class/dmi/id/sys_vendor"); err == nil {
		lower := strings.ToLower(string(vendor))
		for _, v := range []string{"innotek", "vmware", "microsoft"} {
			if strings.Contains(lower, v) {
				return true
			}
		}
	}

	return false
}

// runningInsideVagrant checks for the vagrant user or a vagrant-tagged
// init environment.
func runningInsideVagrant() bool {
	if passwd, err := os.ReadFile("/etc/passwd"); err == nil {
		if strings.Contains(string(passwd), "vagrant") {
			return true
		}
	}

	if env, err := os.ReadFile("/proc/1/environ"); err == nil {
		if strings.Contains(strings.ToLower(string(env)), "vagrant") {
			return true
		}
	}

	return false
}
