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
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/provlab/provscan/pkg/models"
	"github.com/provlab/provscan/pkg/scan"
)

const (
	sockStream = 1 // syscall.SOCK_STREAM on every supported platform
	sockDgram  = 2

	connectionPreviewLimit = 200
)

// Network collects per-interface addressing and the classified socket table.
func Network(ctx context.Context) *models.NetworkRecord {
	record := &models.NetworkRecord{
		Interfaces: make(map[string]*models.InterfaceAddrs),
	}

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		record.Error = err.Error()
	}

	for _, iface := range ifaces {
		addrs := &models.InterfaceAddrs{MAC: iface.HardwareAddr}

		for _, addr := range iface.Addrs {
			ip, ipnet, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				continue
			}

			if ip.To4() != nil {
				addrs.IPv4 = append(addrs.IPv4, models.IPNetmask{
					IP:      ip.String(),
					Netmask: net.IP(ipnet.Mask).String(),
				})
			} else {
				addrs.IPv6 = append(addrs.IPv6, ip.String())
			}
		}

		record.Interfaces[iface.Name] = addrs
	}

	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		if record.Error == "" {
			record.Error = err.Error()
		}

		return record
	}

	preview := 0

	for _, c := range conns {
		sock := classifyConnection(ctx, &c)

		if sock.Direction == models.DirectionListening {
			record.ListeningPorts = append(record.ListeningPorts, *sock)
			continue
		}

		if preview < connectionPreviewLimit {
			record.ConnectionsPreview = append(record.ConnectionsPreview, *sock)
			preview++
		}
	}

	return record
}

func classifyConnection(ctx context.Context, c *psnet.ConnectionStat) *models.SocketRecord {
	sock := &models.SocketRecord{
		Status: c.Status,
		PID:    c.Pid,
	}

	switch c.Type {
	case sockStream:
		sock.Protocol = "tcp"
	case sockDgram:
		sock.Protocol = "udp"
	}

	if c.Laddr.IP != "" {
		sock.LAddr = &models.SocketAddr{IP: c.Laddr.IP, Port: int(c.Laddr.Port)}
	}

	if c.Raddr.IP != "" {
		sock.RAddr = &models.SocketAddr{IP: c.Raddr.IP, Port: int(c.Raddr.Port)}
	}

	switch {
	case c.Status == "LISTEN" || (sock.Protocol == "udp" && sock.RAddr == nil):
		sock.Direction = models.DirectionListening
	case sock.RAddr != nil:
		sock.Direction = models.DirectionOutbound
	default:
		sock.Direction = models.DirectionUnknown
	}

	if sock.Direction == models.DirectionListening && sock.LAddr != nil {
		sock.Bind, sock.Exposure = ClassifyListenAddr(sock.LAddr.IP)
	}

	if sock.Direction == models.DirectionOutbound && sock.LAddr != nil && sock.RAddr != nil {
		sock.NATSuspected = scan.IsRFC1918(sock.LAddr.IP) && !scan.IsRFC1918(sock.RAddr.IP)
	}

	if c.Pid > 0 {
		sock.Process = processRef(ctx, c.Pid)
	}

	return sock
}

// ClassifyListenAddr normalizes a listening address into bind and exposure
// classes: wildcard binds are public, loopback binds are local, anything
// else is internal.
func ClassifyListenAddr(ip string) (models.BindClass, models.Exposure) {
	switch {
	case ip == "0.0.0.0" || ip == "::" || ip == "*":
		return models.BindAllInterfaces, models.ExposurePublic
	case strings.HasPrefix(ip, "127.") || ip == "::1":
		return models.BindLoopback, models.ExposureLocal
	default:
		return models.BindSpecific, models.ExposureInternal
	}
}

func processRef(ctx context.Context, pid int32) *models.ProcessRef {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil
	}

	ref := &models.ProcessRef{}

	if name, err := p.NameWithContext(ctx); err == nil {
		ref.Name = name
	}

	if exe, err := p.ExeWithContext(ctx); err == nil {
		ref.Exe = exe
	}

	if user, err := p.UsernameWithContext(ctx); err == nil {
		ref.Username = user
	}

	if ref.Name == "" && ref.Exe == "" && ref.Username == "" {
		return nil
	}

	return ref
}
