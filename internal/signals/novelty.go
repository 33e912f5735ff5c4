// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package signals

import (
	"net/netip"
	"strings"
)

// FirstToken returns the first whitespace-delimited token of ua, or "".
func FirstToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NovelAgent reports whether none of the known agents shares a first token
// with ua. With no known agents there is nothing to compare against and the
// agent is not novel.
func NovelAgent(ua string, known []string) bool {
	if len(known) == 0 {
		return false
	}
	tok := FirstToken(ua)
	for _, k := range known {
		if FirstToken(k) == tok {
			return false
		}
	}
	return true
}

// NovelIP reports whether ip is absent from a non-empty known set. IPs are
// compared in canonical form so "::ffff:10.0.0.1" equals "10.0.0.1".
func NovelIP(ip string, known []string) bool {
	if len(known) == 0 {
		return false
	}
	want := NormalizeIP(ip)
	for _, k := range known {
		if NormalizeIP(k) == want {
			return false
		}
	}
	return true
}

// NormalizeIP returns the canonical text form of ip, unmapping IPv4-in-IPv6.
// Unparseable input is returned trimmed and unchanged.
func NormalizeIP(ip string) string {
	s := strings.TrimSpace(ip)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().String()
}

// IsPublicIP reports whether ip is a routable unicast address. Private,
// loopback, link-local, and unparseable addresses are not public.
func IsPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsGlobalUnicast() && !addr.IsPrivate() && !addr.IsLoopback()
}
