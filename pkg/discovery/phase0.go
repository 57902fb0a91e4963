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

// Package discovery implements the scanner's phased discovery pipeline:
// self inventory, interface selection, local network probing and remote
// extraction.
package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/provlab/provscan/pkg/logger"
	"github.com/provlab/provscan/pkg/models"
)

const activeConnectionPreview = 10

var (
	windowsGatewayPattern = regexp.MustCompile(`Default Gateway[ .:]+([\d.]+)`)
	darwinGatewayPattern  = regexp.MustCompile(`gateway:\s+([\d.]+)`)
	dnsServerPattern      = regexp.MustCompile(`DNS Servers[ .:]+([\d.]+)`)
	leadingIPPattern      = regexp.MustCompile(`^\s*([\d.]+)`)
)

// SelfDiscover inventories the scanner host: hostname, domain, addressing,
// gateway, DNS, interfaces and the ARP cache. It sends nothing on the wire.
func SelfDiscover(ctx context.Context, log logger.Logger) *models.SelfInventory {
	hostname, _ := os.Hostname()

	inv := &models.SelfInventory{
		Hostname:          hostname,
		Domain:            domainOf(hostname),
		Interfaces:        allInterfaces(ctx),
		ActiveConnections: activeConnections(ctx),
		ARPCacheRaw:       RawARPCache(ctx),
		ARPEntries:        ParseARPCache(ctx),
	}

	ip, netmask := primaryIPv4(inv.Interfaces)

	inv.Network = models.NetworkInfo{
		IP:               ip,
		Netmask:          netmask,
		Gateway:          defaultGateway(ctx),
		DNS:              dnsServers(ctx),
		PrimaryInterface: primaryInterface(ctx),
	}

	log.Info().
		Str("hostname", inv.Hostname).
		Str("ip", ip).
		Str("gateway", inv.Network.Gateway).
		Int("interfaces", len(inv.Interfaces)).
		Int("arp_entries", len(inv.ARPEntries)).
		Msg("self discovery complete")

	return inv
}

// domainOf derives the DNS domain from the FQDN, or "No domain".
func domainOf(hostname string) string {
	fqdn := fqdnOf(hostname)
	if fqdn == hostname || fqdn == "" {
		return "No domain"
	}

	return strings.Trim(strings.TrimPrefix(fqdn, hostname), ".")
}

func fqdnOf(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}

	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname
	}

	return strings.TrimSuffix(names[0], ".")
}

// ClassifyInterface buckets an interface by its name.
func ClassifyInterface(name string) string {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "virtual"), strings.Contains(lower, "vbox"), strings.HasPrefix(lower, "veth"):
		return models.InterfaceVirtual
	case strings.Contains(lower, "wifi"), strings.Contains(lower, "wlan"), strings.Contains(lower, "wi-fi"):
		return models.InterfaceWireless
	case strings.Contains(lower, "bridge"), strings.HasPrefix(lower, "br-"):
		return models.InterfaceBridge
	default:
		return models.InterfacePhysical
	}
}

func allInterfaces(ctx context.Context) []models.InterfaceInfo {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil
	}

	infos := make([]models.InterfaceInfo, 0, len(stats))

	for _, iface := range stats {
		info := models.InterfaceInfo{
			Name: iface.Name,
			MAC:  iface.HardwareAddr,
			Type: ClassifyInterface(iface.Name),
		}

		for _, addr := range iface.Addrs {
			ip, ipnet, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil {
				continue
			}

			info.IP = ip.String()
			info.Netmask = net.IP(ipnet.Mask).String()

			break
		}

		infos = append(infos, info)
	}

	return infos
}

// primaryIPv4 returns the first non-loopback IPv4 with its netmask.
func primaryIPv4(interfaces []models.InterfaceInfo) (ip, netmask string) {
	for _, iface := range interfaces {
		if iface.IP == "" || strings.HasPrefix(iface.IP, "127.") {
			continue
		}

		return iface.IP, iface.Netmask
	}

	return "", ""
}

// defaultGateway reads the default route from the platform routing table.
func defaultGateway(ctx context.Context) string {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.CommandContext(ctx, "ipconfig").Output()
		if err != nil {
			return ""
		}

		if m := windowsGatewayPattern.FindSubmatch(out); m != nil {
			return string(m[1])
		}

		return ""
	case "darwin":
		out, err := exec.CommandContext(ctx, "route", "-n", "get", "default").Output()
		if err != nil {
			return ""
		}

		if m := darwinGatewayPattern.FindSubmatch(out); m != nil {
			return string(m[1])
		}

		return ""
	default:
		return linuxGatewayFromProc()
	}
}

// linuxGatewayFromProc parses /proc/net/route; the gateway column is a
// little-endian hex IPv4.
func linuxGatewayFromProc() string {
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}

		var raw uint32
		if _, err := fmt.Sscanf(fields[2], "%08X", &raw); err != nil {
			continue
		}

		ip := make(net.IP, 4)
		binary.LittleEndian.PutUint32(ip, raw)

		return ip.String()
	}

	return ""
}

func dnsServers(ctx context.Context) []string {
	if runtime.GOOS == "windows" {
		return windowsDNSServers(ctx)
	}

	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return nil
	}

	var servers []string

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "nameserver") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				servers = append(servers, fields[1])
			}
		}
	}

	return servers
}

func windowsDNSServers(ctx context.Context) []string {
	out, err := exec.CommandContext(ctx, "ipconfig", "/all").Output()
	if err != nil {
		return nil
	}

	var servers []string

	capture := false

	for _, line := range strings.Split(string(out), "\n") {
		if m := dnsServerPattern.FindStringSubmatch(line); m != nil {
			servers = append(servers, m[1])
			capture = true

			continue
		}

		if capture {
			if m := leadingIPPattern.FindStringSubmatch(line); m != nil {
				servers = append(servers, m[1])
			} else {
				capture = false
			}
		}
	}

	return servers
}

// primaryInterface names the interface that carries the default route.
func primaryInterface(ctx context.Context) string {
	switch runtime.GOOS {
	case "linux":
		out, err := exec.CommandContext(ctx, "ip", "route").Output()
		if err != nil {
			return ""
		}

		for _, line := range strings.Split(string(out), "\n") {
			if strings.HasPrefix(line, "default") {
				fields := strings.Fields(line)
				for i, f := range fields {
					if f == "dev" && i+1 < len(fields) {
						return fields[i+1]
					}
				}
			}
		}
	case "darwin":
		out, err := exec.CommandContext(ctx, "route", "-n", "get", "default").Output()
		if err != nil {
			return ""
		}

		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "interface:") {
				parts := strings.Split(line, ":")

				return strings.TrimSpace(parts[len(parts)-1])
			}
		}
	case "windows":
		out, err := exec.CommandContext(ctx, "powershell", "-Command",
			"(Get-NetRoute -DestinationPrefix 0.0.0.0/0 | Sort-Object RouteMetric | Select -First 1).InterfaceAlias").Output()
		if err != nil {
			return ""
		}

		return strings.TrimSpace(string(out))
	}

	return ""
}

func activeConnections(ctx context.Context) []models.ConnectionPreview {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil
	}

	var previews []models.ConnectionPreview

	for _, c := range conns {
		var laddr, raddr string

		if c.Laddr.IP != "" {
			laddr = fmt.Sprintf("%s:%d", c.Laddr.IP, c.Laddr.Port)
		}

		if c.Raddr.IP != "" {
			raddr = fmt.Sprintf("%s:%d", c.Raddr.IP, c.Raddr.Port)
		}

		previews = append(previews, models.ConnectionPreview{
			LAddr:  laddr,
			RAddr:  raddr,
			Status: c.Status,
		})

		if len(previews) >= activeConnectionPreview {
			break
		}
	}

	return previews
}
