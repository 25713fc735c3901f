package transport

import (
	"net"

	"github.com/emiago/sipgo/sip"

	"github.com/zurustar/signalrtc/internal/contact"
	"github.com/zurustar/signalrtc/internal/sipcore"
)

// rewritingTx wraps a ServerTransaction so every outbound response to an
// INVITE or OPTIONS transaction gets its Contact header customised for the
// far side before it's sent (spec.md §4.10). Every other ServerTransaction
// method is promoted straight from the embedded value.
type rewritingTx struct {
	sipcore.ServerTransaction
	req       *sipcore.Request
	targets   contact.Targets
	isPrivate func(net.IP) bool
}

// Respond rewrites the Contact header, if any, then forwards to the real
// transaction.
func (t *rewritingTx) Respond(res *sipcore.Response) error {
	if t.req.Method == sipcore.INVITE || t.req.Method == sipcore.OPTIONS {
		rewriteContactHeader(res, t.req.Source(), t.targets, t.isPrivate)
	}
	return t.ServerTransaction.Respond(res)
}

func rewriteContactHeader(res *sipcore.Response, remoteEP string, targets contact.Targets, isPrivate func(net.IP) bool) {
	h := res.GetHeader("Contact")
	if h == nil {
		return
	}
	ch, ok := h.(*sip.ContactHeader)
	if !ok {
		return
	}

	dest := destinationIP(remoteEP)
	if dest != nil && isPrivate != nil && isPrivate(dest) {
		return
	}

	scheme := ch.Address.Scheme
	if scheme == "" {
		scheme = "sip"
	}

	host, port, ok := contact.Rewrite(contact.Contact{
		Scheme: scheme,
		Host:   ch.Address.Host,
		Port:   ch.Address.Port,
	}, dest, targets)
	if !ok {
		return
	}

	ch.Address.Host = host
	if port != 0 {
		ch.Address.Port = port
	}
}

// destinationIP parses a sipgo "host:port" remote endpoint string, the form
// req.Source() returns.
func destinationIP(remoteEP string) net.IP {
	host, _, err := net.SplitHostPort(remoteEP)
	if err != nil {
		host = remoteEP
	}
	return net.ParseIP(host)
}
