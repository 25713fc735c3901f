// Package transport implements the Transport Adapter (spec.md §4.1): binds
// the configured UDP/TCP/TLS sockets, runs every inbound message through the
// Abuse Filter before the Dispatcher ever sees it, and rewrites outbound
// Contact headers for NAT/load-balancer topologies. Grounded on the
// teacher's per-transport goroutine-under-errgroup shape and on
// emiago-diago's multi-transport Server wiring.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/signalrtc/internal/abuse"
	"github.com/zurustar/signalrtc/internal/contact"
	"github.com/zurustar/signalrtc/internal/dispatch"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
)

// Config describes which sockets the adapter binds and how outbound Contact
// headers get customised (spec.md §6 configuration keys).
type Config struct {
	UDPAddr string // e.g. "0.0.0.0:5060"; empty disables the UDP listener
	TCPAddr string // e.g. "0.0.0.0:5060"; empty disables the TCP listener
	TLSAddr string // e.g. "0.0.0.0:5061"; empty or nil TLSConfig disables it
	TLSConfig *tls.Config

	ContactTargets contact.Targets
	PrivateSubnets []*net.IPNet
}

// Adapter is the Transport Adapter.
type Adapter struct {
	stack       *sipcore.Stack
	dispatcher  *dispatch.Dispatcher
	abuseFilter *abuse.Filter
	retransmits *retransmitTracker
	cfg         Config
	logger      logging.Logger
}

// New builds an Adapter over an already-constructed Stack and Dispatcher.
func New(stack *sipcore.Stack, dispatcher *dispatch.Dispatcher, abuseFilter *abuse.Filter, cfg Config, logger logging.Logger) *Adapter {
	return &Adapter{stack: stack, dispatcher: dispatcher, abuseFilter: abuseFilter, retransmits: &retransmitTracker{}, cfg: cfg, logger: logger}
}

// RegisterHandlers wires every method this engine accepts to the shared
// entry point (spec.md §2 data flow: "Transport Adapter → Abuse Filter (drop
// if banned) → Dispatcher"). OnRegister/OnSubscribe/OnOptions/OnCancel/
// OnNotify follow the same On<Method> convention as the OnInvite/OnAck/OnBye
// triple sipgo's own multi-transport server wiring uses.
func (a *Adapter) RegisterHandlers() {
	srv := a.stack.Server
	srv.OnInvite(a.handle)
	srv.OnAck(a.handle)
	srv.OnBye(a.handle)
	srv.OnCancel(a.handle)
	srv.OnRegister(a.handle)
	srv.OnSubscribe(a.handle)
	srv.OnOptions(a.handle)
	srv.OnNotify(a.handle)
}

// handle is the single funnel every inbound request passes through: drop
// silently if the source is banned, otherwise hand off to the Dispatcher
// behind a Contact-rewriting transaction wrapper.
func (a *Adapter) handle(req *sipcore.Request, tx sipcore.ServerTransaction) {
	source := req.Source()
	if reason, banned := a.abuseFilter.IsBanned(source); banned {
		a.logger.Debug("dropping request from banned source",
			logging.String("source", source), logging.String("reason", string(reason)))
		return
	}

	if a.retransmits.seenBefore(branchOf(req)) {
		isIPLiteral := net.ParseIP(req.Recipient.Host) != nil
		if reason := a.abuseFilter.Record(source, destinationIP(source), abuse.SignalRetransmit, isIPLiteral); reason != abuse.ReasonNone {
			a.logger.Warn("source banned for excessive retransmits",
				logging.String("source", source), logging.String("reason", string(reason)))
		}
	}

	a.dispatcher.Dispatch(req, &rewritingTx{
		ServerTransaction: tx,
		req:               req,
		targets:           a.cfg.ContactTargets,
		isPrivate:         a.isPrivate,
	})
}

func (a *Adapter) isPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return contact.IsPrivate(ip, a.cfg.PrivateSubnets)
}

// Run brings up every configured listener under one errgroup: a failure on
// one socket cancels the others and the whole adapter returns, the way the
// teacher's SIPServer.Run drives its UDP/TCP goroutines.
func (a *Adapter) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.UDPAddr != "" {
		g.Go(func() error {
			return a.stack.Server.ListenAndServe(gctx, "udp", a.cfg.UDPAddr)
		})
	}
	if a.cfg.TCPAddr != "" {
		g.Go(func() error {
			return a.stack.Server.ListenAndServe(gctx, "tcp", a.cfg.TCPAddr)
		})
	}
	if a.cfg.TLSAddr != "" && a.cfg.TLSConfig != nil {
		g.Go(func() error {
			return a.stack.Server.ListenAndServeTLS(gctx, "tls", a.cfg.TLSAddr, a.cfg.TLSConfig)
		})
	}
	g.Go(func() error { return a.pruneRetransmits(gctx) })

	return g.Wait()
}

// pruneRetransmits periodically evicts idle branches from the retransmit
// tracker so memory use stays bounded regardless of call volume.
func (a *Adapter) pruneRetransmits(ctx context.Context) error {
	ticker := time.NewTicker(retransmitWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.retransmits.prune(time.Now())
		}
	}
}
