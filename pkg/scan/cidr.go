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

package scan

import (
	"fmt"
	"net"
)

// CIDRFromAddr computes the network CIDR for an interface address given as
// dotted IP and netmask (e.g. 192.168.56.10 + 255.255.255.0 -> 192.168.56.0/24).
func CIDRFromAddr(ip, netmask string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCIDR, ip)
	}

	maskIP := net.ParseIP(netmask)
	if maskIP == nil || maskIP.To4() == nil {
		return "", fmt.Errorf("%w: netmask %q", ErrInvalidCIDR, netmask)
	}

	mask := net.IPMask(maskIP.To4())
	network := parsed.To4().Mask(mask)
	ones, _ := mask.Size()

	return fmt.Sprintf("%s/%d", network.String(), ones), nil
}

// ExpandCIDR expands a CIDR notation into a slice of host IP addresses.
// Skips network and broadcast addresses for non-/32 networks. The maxHosts
// cap bounds wall-clock even for very large networks; pass 0 for no cap.
func ExpandCIDR(cidr string, maxHosts int) ([]string, error) {
	baseIP, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCIDR, cidr)
	}

	var ips []string

	for currentIP := baseIP.Mask(ipnet.Mask); ipnet.Contains(currentIP); incIP(currentIP) {
		ones, _ := ipnet.Mask.Size()
		if currentIP.To4() != nil && ones != 32 {
			if currentIP.Equal(ipnet.IP) || isBroadcast(currentIP, ipnet) {
				continue
			}
		}

		ips = append(ips, currentIP.String())

		if maxHosts > 0 && len(ips) >= maxHosts {
			break
		}
	}

	return ips, nil
}

// ContainsHost reports whether ip is a usable host address inside cidr:
// a member that is neither the network nor the broadcast address, and not
// multicast or loopback.
func ContainsHost(cidr, ip string) bool {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	if parsed.IsMulticast() || parsed.IsLoopback() {
		return false
	}

	if !ipnet.Contains(parsed) {
		return false
	}

	if v4 := parsed.To4(); v4 != nil {
		if v4.Equal(ipnet.IP) || isBroadcast(v4, ipnet) {
			return false
		}
	}

	return true
}

// incIP increments an IP address in place.
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

// isBroadcast checks if an IP is the broadcast address of a network.
func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	ip = ip.To4()
	netIP := ipnet.IP.To4()

	if ip == nil || netIP == nil {
		return false
	}

	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}

	broadcast := make(net.IP, len(ip))
	for i := range ip {
		broadcast[i] = netIP[i] | ^mask[i]
	}

	return ip.Equal(broadcast)
}

// IsRFC1918 reports whether ip is in a private IPv4 range.
func IsRFC1918(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	v4 := parsed.To4()
	if v4 == nil {
		return false
	}

	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	}

	return false
}
