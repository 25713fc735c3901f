package contact

import (
	"net"
	"testing"
)

func TestTLSSchemePrefersHostname(t *testing.T) {
	c := Contact{Scheme: "sips", Host: "10.0.0.5", Port: 5061}
	host, port, ok := Rewrite(c, net.ParseIP("203.0.113.1"), Targets{
		PublicHostname: "sip.example.com", PublicIPv4: "198.51.100.1",
	})
	if !ok || host != "sip.example.com" || port != 5061 {
		t.Fatalf("Rewrite() = (%s, %d, %v), want (sip.example.com, 5061, true)", host, port, ok)
	}
}

func TestV4DestinationPrefersPublicV4(t *testing.T) {
	c := Contact{Scheme: "sip", Host: "10.0.0.5", Port: 5060}
	host, _, ok := Rewrite(c, net.ParseIP("203.0.113.1"), Targets{
		PublicIPv4: "198.51.100.1", PublicHostname: "sip.example.com",
	})
	if !ok || host != "198.51.100.1" {
		t.Fatalf("Rewrite() host = %s, want 198.51.100.1", host)
	}
}

func TestV6DestinationBracketsPublicV6(t *testing.T) {
	c := Contact{Scheme: "sip", Host: "fd00::5", Port: 5060}
	host, _, ok := Rewrite(c, net.ParseIP("2001:db8::1"), Targets{PublicIPv6: "2001:db8::9"})
	if !ok || host != "[2001:db8::9]" {
		t.Fatalf("Rewrite() host = %s, want [2001:db8::9]", host)
	}
}

func TestFallsBackToHostnameWhenNoDestinationMatch(t *testing.T) {
	c := Contact{Scheme: "sip", Host: "10.0.0.5"}
	host, _, ok := Rewrite(c, nil, Targets{PublicHostname: "sip.example.com"})
	if !ok || host != "sip.example.com" {
		t.Fatalf("Rewrite() host = %s, want sip.example.com", host)
	}
}

func TestNoConfiguredTargetsMeansNoRewrite(t *testing.T) {
	c := Contact{Scheme: "sip", Host: "10.0.0.5", Port: 5060}
	_, _, ok := Rewrite(c, net.ParseIP("203.0.113.1"), Targets{})
	if ok {
		t.Fatalf("expected no rewrite with empty Targets")
	}
}

func TestZeroPortStaysOmitted(t *testing.T) {
	c := Contact{Scheme: "sip", Host: "10.0.0.5", Port: 0}
	_, port, ok := Rewrite(c, net.ParseIP("203.0.113.1"), Targets{PublicIPv4: "198.51.100.1"})
	if !ok || port != 0 {
		t.Fatalf("expected port to stay 0 (let transport decide), got %d", port)
	}
}

func TestIsPrivate(t *testing.T) {
	subnets := ParseSubnets([]string{"192.168.0.0/16", "10.0.0.0/8"})
	if !IsPrivate(net.ParseIP("192.168.1.1"), subnets) {
		t.Fatalf("expected 192.168.1.1 to be private")
	}
	if IsPrivate(net.ParseIP("203.0.113.1"), subnets) {
		t.Fatalf("expected 203.0.113.1 to be public")
	}
}
