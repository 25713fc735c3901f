// Package host wires every component into a running process (spec.md
// §4.13): storage, domain registry, binding manager, dialplan evaluator,
// call manager, the three request-queue cores, the abuse filter, the
// transport adapter and the two HTTP surfaces (WebRTC relay, web admin).
// Grounded on the teacher's SIPServerImpl.Start/Stop/RunWithSignalHandling
// shape, generalized from one monolithic struct to an explicit dependency
// chain built bottom-up.
package host

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/signalrtc/internal/abuse"
	"github.com/zurustar/signalrtc/internal/auth"
	"github.com/zurustar/signalrtc/internal/b2bua"
	"github.com/zurustar/signalrtc/internal/binding"
	"github.com/zurustar/signalrtc/internal/callmanager"
	"github.com/zurustar/signalrtc/internal/config"
	"github.com/zurustar/signalrtc/internal/contact"
	"github.com/zurustar/signalrtc/internal/dialplan"
	"github.com/zurustar/signalrtc/internal/dispatch"
	"github.com/zurustar/signalrtc/internal/domainregistry"
	"github.com/zurustar/signalrtc/internal/httprelay"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/registrar"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
	"github.com/zurustar/signalrtc/internal/subscriber"
	"github.com/zurustar/signalrtc/internal/transport"
	"github.com/zurustar/signalrtc/internal/webadmin"
	"github.com/zurustar/signalrtc/internal/webrtcrelay"
)

// Service owns every long-lived component of one signalrtc process.
type Service struct {
	cfg    *config.Config
	logger logging.Logger

	store     *storage.DB
	bindings  *binding.Manager
	stack     *sipcore.Stack
	tAdapter  *transport.Adapter
	relayHTTP *http.Server
	admin     *webadmin.Server

	regCore   *registrar.Core
	b2buaCore *b2bua.Core
	subsCore  *subscriber.Core

	stop chan struct{}
}

// New builds every component from cfg, wiring the dependency chain spec.md
// §4.13 describes: Storage → Domain Registry → Binding Manager → Dialplan
// Evaluator → Call Manager → B2BUA Core → Registrar Core → Subscriber Core →
// Abuse Filter → Transport Adapter → WebRTC Relay HTTP server.
func New(cfg *config.Config, logger logging.Logger) (*Service, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	domains, err := domainregistry.Load(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain registry: %w", err)
	}

	bindings := binding.New(store, logger)

	dp := dialplan.New(store, logger)
	if err := dp.Warm(); err != nil {
		logger.Warn("dialplan warmup failed, starting with an empty table", logging.Err(err))
	}

	calls := callmanager.New(store, logger)
	authn := auth.New(time.Duration(cfg.Authentication.NonceExpirySeconds) * time.Second)

	stack, err := sipcore.NewStack(cfg.SIP.Domain, sipcore.ServerHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to build sip stack: %w", err)
	}

	subnets := contact.ParseSubnets(cfg.PrivateSubnets)
	isPrivate := func(ip net.IP) bool { return contact.IsPrivate(ip, subnets) }
	abuseFlt := abuse.New(isPrivate)

	onRegisterFailure := func(remoteEP string, reason registrar.FailureReason, req *sipcore.Request) {
		recordFailure(abuseFlt, logger, remoteEP, req, abuse.SignalRegisterFailure, string(reason))
	}
	onAcceptFailure := func(remoteEP string, reason b2bua.FailureReason, req *sipcore.Request) {
		recordFailure(abuseFlt, logger, remoteEP, req, abuse.SignalAcceptFailure, string(reason))
	}

	regCore := registrar.New(domains, store, bindings, authn, 0, onRegisterFailure, logger)
	b2buaCore := b2bua.New(stack, domains, store, dp, calls, 0, onAcceptFailure, logger)
	subsCore := subscriber.New(stack, domains, store, authn, 0, logger)

	dispatcher := dispatch.New(stack, calls, b2buaCore, regCore, subsCore, logger)

	// Certificate acquisition (Azure Key Vault et al.) is out of scope
	// (spec.md Non-goals); the TLS listener stays disabled until the process
	// is handed a cert/key pair some other way.
	var tlsConf *tls.Config

	tAdapter := transport.New(stack, dispatcher, abuseFlt, transport.Config{
		UDPAddr:   fmt.Sprintf(":%d", cfg.SIP.ListenPort),
		TCPAddr:   fmt.Sprintf(":%d", cfg.SIP.ListenPort),
		TLSAddr:   fmt.Sprintf(":%d", cfg.SIP.TLSListenPort),
		TLSConfig: tlsConf,
		ContactTargets: contact.Targets{
			PublicHostname: cfg.Contact.PublicHostname,
			PublicIPv4:     cfg.Contact.PublicIPv4,
			PublicIPv6:     cfg.Contact.PublicIPv6,
		},
		PrivateSubnets: subnets,
	}, logger)
	tAdapter.RegisterHandlers()

	relay := webrtcrelay.New(store)
	relayRouter := httprelay.NewRouter(relay, logger)
	relayHTTP := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.WebAdmin.Port+1),
		Handler:      relayRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	admin := webadmin.NewServer(store, dp, logger)

	return &Service{
		cfg: cfg, logger: logger,
		store: store, bindings: bindings,
		stack: stack, tAdapter: tAdapter, relayHTTP: relayHTTP, admin: admin,
		regCore: regCore, b2buaCore: b2buaCore, subsCore: subsCore,
		stop: make(chan struct{}),
	}, nil
}

// recordFailure feeds a Registrar/B2BUA failure event into the Abuse
// Filter, the OnRegisterFailure/OnAcceptCallFailure subscription spec.md
// §4.9 describes.
func recordFailure(flt *abuse.Filter, logger logging.Logger, remoteEP string, req *sipcore.Request, signal abuse.Signal, reason string) {
	host, _, err := net.SplitHostPort(remoteEP)
	if err != nil {
		host = remoteEP
	}
	ip := net.ParseIP(host)
	isIPLiteral := net.ParseIP(req.Recipient.Host) != nil

	if banReason := flt.Record(remoteEP, ip, signal, isIPLiteral); banReason != abuse.ReasonNone {
		logger.Warn("source banned", logging.String("source", remoteEP), logging.String("trigger", reason), logging.String("ban_reason", string(banReason)))
	}
}

// Run starts every worker pool, listener and HTTP surface, and blocks until
// ctx is cancelled or a component fails (spec.md §4.13).
func (s *Service) Run(ctx context.Context) error {
	s.regCore.Run(s.stop)
	s.b2buaCore.Run(s.stop)
	s.subsCore.Run(s.stop)

	if s.cfg.WebAdmin.Enabled {
		if err := s.admin.Start(s.cfg.WebAdmin.Port); err != nil {
			return fmt.Errorf("failed to start web admin server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tAdapter.Run(gctx) })
	g.Go(func() error { return s.runBindingSweep(gctx) })
	g.Go(func() error { return serveUntilCancelled(gctx, s.relayHTTP) })

	err := g.Wait()
	close(s.stop)
	return err
}

// Stop gracefully shuts down the HTTP surfaces; worker pools stop as part of
// Run's close(s.stop) once every errgroup goroutine has returned.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := s.relayHTTP.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.admin.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) runBindingSweep(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.bindings.RunSweep(ctx); err != nil {
				s.logger.Warn("binding sweep failed", logging.Err(err))
			}
		}
	}
}

func serveUntilCancelled(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
