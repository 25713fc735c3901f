// Package subscriber implements the Subscriber Core (spec.md §4.8): the
// SUBSCRIBE request queue and worker pool, mirroring the Registrar Core's
// shape, plus the dummy message-waiting NOTIFY.
package subscriber

import (
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/zurustar/signalrtc/internal/auth"
	"github.com/zurustar/signalrtc/internal/domainregistry"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

const (
	// MaxQueue bounds the SUBSCRIBE work queue, the same shape as the
	// Registrar Core's queue (spec.md §4.8: "Same queue/worker shape as the
	// Registrar").
	MaxQueue = 1000
	// DefaultWorkers is the worker pool size when the caller doesn't pick one.
	DefaultWorkers = 4
	// NotifyDelay is the "short delay" spec.md §4.8 asks for before the dummy
	// NOTIFY is sent.
	NotifyDelay = 2 * time.Second
	// MWIEventPackage is the only event package that triggers a NOTIFY.
	MWIEventPackage = "message-summary"
)

type job struct {
	req *sipcore.Request
	tx  sipcore.ServerTransaction
}

// Core is the Subscriber Core.
type Core struct {
	queue   chan job
	workers int

	stack   *sipcore.Stack
	domains *domainregistry.Registry
	store   *storage.DB
	authn   *auth.Authenticator
	logger  logging.Logger
}

// New builds a Core.
func New(stack *sipcore.Stack, domains *domainregistry.Registry, store *storage.DB, authn *auth.Authenticator, workers int, logger logging.Logger) *Core {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Core{
		queue:   make(chan job, MaxQueue),
		workers: workers,
		stack:   stack,
		domains: domains,
		store:   store,
		authn:   authn,
		logger:  logger,
	}
}

// Run starts the worker pool.
func (c *Core) Run(stop <-chan struct{}) {
	for i := 0; i < c.workers; i++ {
		go c.workerLoop(stop)
	}
}

func (c *Core) workerLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case j, ok := <-c.queue:
			if !ok {
				return
			}
			c.process(j.req, j.tx)
		}
	}
}

// AddSubscribe validates and enqueues a SUBSCRIBE transaction.
func (c *Core) AddSubscribe(req *sipcore.Request, tx sipcore.ServerTransaction) {
	if req.Method != sipcore.SUBSCRIBE {
		tx.Respond(sipcore.NewResponse(req, 405, "Method Not Allowed"))
		return
	}

	select {
	case c.queue <- job{req: req, tx: tx}:
	default:
		tx.Respond(sipcore.NewResponse(req, 480, "Temporarily Unavailable"))
	}
}

func (c *Core) process(req *sipcore.Request, tx sipcore.ServerTransaction) {
	to := req.To()
	if to == nil {
		tx.Respond(sipcore.NewResponse(req, 400, "Bad Request"))
		return
	}

	canonicalDomain, hosted := c.domains.Canonicalise(to.Address.Host)
	if !hosted {
		tx.Respond(sipcore.NewResponse(req, 403, "Domain not serviced"))
		return
	}
	domainID, _ := c.domains.DomainID(canonicalDomain)

	account, err := c.store.GetAccountByUsernameAndDomain(to.Address.User, domainID)
	if err != nil {
		c.logger.Error("account lookup failed", logging.Err(err))
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}
	if account == nil || account.Disabled {
		tx.Respond(sipcore.NewResponse(req, 403, "Forbidden"))
		return
	}

	authHeader := req.GetHeader("Authorization")
	if authHeader == nil {
		c.challenge(req, tx, canonicalDomain)
		return
	}
	if _, ok := c.authn.Validate(authHeader.Value(), string(sipcore.SUBSCRIBE), account.HA1Digest); !ok {
		c.challenge(req, tx, canonicalDomain)
		return
	}

	tx.Respond(sipcore.NewResponse(req, 200, "OK"))

	event := ""
	if h := req.GetHeader("Event"); h != nil {
		event = h.Value()
	}
	expiry := 0
	if h := req.GetHeader("Expires"); h != nil {
		fmt.Sscanf(h.Value(), "%d", &expiry)
	}
	if shouldNotify(event, expiry) {
		go c.sendDummyNotifyAfterDelay(req, NotifyDelay)
	}
}

// shouldNotify reports whether a subscribed event package/expiry pair
// warrants the dummy MWI NOTIFY (spec.md §4.8).
func shouldNotify(event string, expiry int) bool {
	return event == MWIEventPackage && expiry > 0
}

func (c *Core) challenge(req *sipcore.Request, tx sipcore.ServerTransaction, realm string) {
	res := sipcore.NewResponse(req, 401, "Unauthorized")
	value, err := c.authn.Challenge(realm)
	if err != nil {
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}
	res.AppendHeader(sipcore.SipHeader("WWW-Authenticate", value))
	tx.Respond(res)
}

// sendDummyNotifyAfterDelay builds and writes the "Messages-Waiting: no"
// NOTIFY to the SUBSCRIBE's remote endpoint rather than its Contact URI, a
// deliberate NAT-friendly choice for cloud-deployed servers (spec.md §4.8).
func (c *Core) sendDummyNotifyAfterDelay(subReq *sipcore.Request, delay time.Duration) {
	time.Sleep(delay)

	from := subReq.From()
	to := subReq.To()
	if from == nil || to == nil {
		return
	}

	notify := sip.NewRequest(sipcore.NOTIFY, from.Address)
	notify.SetDestination(subReq.Source())
	notify.AppendHeader(&sip.FromHeader{Address: to.Address, Params: to.Params})
	notify.AppendHeader(&sip.ToHeader{Address: from.Address, Params: from.Params})
	if callID := subReq.CallID(); callID != nil {
		notify.AppendHeader(sip.NewHeader("Call-ID", callID.Value()))
	}
	notify.AppendHeader(sip.NewHeader("Event", MWIEventPackage))
	notify.AppendHeader(sip.NewHeader("Subscription-State", "active"))
	notify.AppendHeader(sip.NewHeader("Content-Type", "application/simple-message-summary"))
	notify.AppendHeader(sip.NewHeader("Server", sipcore.ServerHeader))
	notify.SetBody([]byte("Messages-Waiting: no\r\n"))

	if err := c.stack.Write(notify); err != nil {
		c.logger.Warn("failed to send dummy mwi notify", logging.Err(err))
	}
}
