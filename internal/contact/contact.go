// Package contact implements the Contact Customiser (spec.md §4.10):
// rewriting a single Contact header's host on outgoing INVITE/OPTIONS
// traffic, for NAT/load-balancer topologies where the box's local address
// isn't reachable from the far side.
package contact

import (
	"fmt"
	"net"
	"strings"
)

// Targets are the configured rewrite destinations (spec.md §6 configuration
// keys PublicContactHostname/IPv4/IPv6).
type Targets struct {
	PublicHostname string
	PublicIPv4     string
	PublicIPv6     string
}

// Contact is the minimal view of a SIP Contact URI this package needs,
// decoupled from sipcore.Uri so it's independently testable.
type Contact struct {
	Scheme string // "sip" or "sips"
	Host   string
	Port   int // 0 means "no port / default"
}

// Rewrite computes the customised host:port for a Contact, given the
// negotiated destination IP the request/response is being sent to. ok is
// false when no rewrite rule applies and the original Contact should be
// left untouched.
func Rewrite(c Contact, destination net.IP, t Targets) (host string, port int, ok bool) {
	isTLS := c.Scheme == "sips"

	switch {
	case isTLS && t.PublicHostname != "":
		return t.PublicHostname, portOrZero(c.Port), true

	case destination != nil && destination.To4() != nil && t.PublicIPv4 != "":
		return t.PublicIPv4, portOrZero(c.Port), true

	case destination != nil && destination.To4() == nil && t.PublicIPv6 != "":
		return bracket(t.PublicIPv6), portOrZero(c.Port), true

	case t.PublicHostname != "":
		return t.PublicHostname, portOrZero(c.Port), true
	}
	return "", 0, false
}

// portOrZero implements the "source port 0 means let transport decide"
// rule: the rewrite omits the port entirely in that case.
func portOrZero(p int) int {
	if p == 0 {
		return 0
	}
	return p
}

func bracket(ip string) string {
	if strings.HasPrefix(ip, "[") {
		return ip
	}
	return fmt.Sprintf("[%s]", ip)
}

// IsPrivate reports whether ip is within any of the given CIDR blocks
// (spec.md §6 PrivateSubnets — contacts destined there are never rewritten,
// mirroring the abuse filter's exemption).
func IsPrivate(ip net.IP, subnets []*net.IPNet) bool {
	for _, n := range subnets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseSubnets parses configured CIDR strings, skipping malformed entries.
func ParseSubnets(cidrs []string) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
