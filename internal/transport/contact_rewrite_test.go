package transport

import (
	"net"
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/zurustar/signalrtc/internal/contact"
)

func newTestResponse(t *testing.T, contactHost string, contactPort int) *sip.Response {
	t.Helper()
	var ruri sip.Uri
	if err := sip.ParseUri("sip:100@example.com", &ruri); err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	req := sip.NewRequest(sip.INVITE, ruri)
	req.AppendHeader(&sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "100", Host: "example.com"}, Params: sip.NewParams()})
	req.AppendHeader(&sip.ToHeader{Address: ruri, Params: sip.NewParams()})
	res := sip.NewResponseFromRequest(req, sip.StatusCode(200), "OK", nil)
	res.AppendHeader(&sip.ContactHeader{Address: sip.Uri{Scheme: "sip", User: "100", Host: contactHost, Port: contactPort}})
	return res
}

func TestRewriteContactHeaderAppliesPublicIPv4(t *testing.T) {
	res := newTestResponse(t, "192.168.1.5", 5060)
	targets := contact.Targets{PublicIPv4: "203.0.113.10"}

	rewriteContactHeader(res, "8.8.8.8:5060", targets, func(net.IP) bool { return false })

	h := res.GetHeader("Contact").(*sip.ContactHeader)
	if h.Address.Host != "203.0.113.10" {
		t.Fatalf("expected rewritten host 203.0.113.10, got %s", h.Address.Host)
	}
	if h.Address.Port != 5060 {
		t.Fatalf("expected port preserved, got %d", h.Address.Port)
	}
}

func TestRewriteContactHeaderSkipsPrivateDestination(t *testing.T) {
	res := newTestResponse(t, "192.168.1.5", 5060)
	targets := contact.Targets{PublicIPv4: "203.0.113.10"}

	rewriteContactHeader(res, "10.0.0.9:5060", targets, func(net.IP) bool { return true })

	h := res.GetHeader("Contact").(*sip.ContactHeader)
	if h.Address.Host != "192.168.1.5" {
		t.Fatalf("expected original host preserved for private destination, got %s", h.Address.Host)
	}
}

func TestRewriteContactHeaderNoTargetsConfiguredIsNoop(t *testing.T) {
	res := newTestResponse(t, "192.168.1.5", 5060)

	rewriteContactHeader(res, "8.8.8.8:5060", contact.Targets{}, func(net.IP) bool { return false })

	h := res.GetHeader("Contact").(*sip.ContactHeader)
	if h.Address.Host != "192.168.1.5" {
		t.Fatalf("expected original host preserved when no rewrite target applies, got %s", h.Address.Host)
	}
}

func TestDestinationIPParsesHostPort(t *testing.T) {
	ip := destinationIP("203.0.113.5:5060")
	if ip == nil || ip.String() != "203.0.113.5" {
		t.Fatalf("expected 203.0.113.5, got %v", ip)
	}
}

func TestDestinationIPHandlesBareHost(t *testing.T) {
	ip := destinationIP("203.0.113.5")
	if ip == nil || ip.String() != "203.0.113.5" {
		t.Fatalf("expected 203.0.113.5, got %v", ip)
	}
}
