// Package registrar implements the Registrar Core (spec.md §4.4): the
// REGISTER request queue, its worker pool, digest authentication and binding
// mutation. Grounded on the teacher's SIPRegistrar (contact parsing, AOR
// extraction, expires-limit handling), generalized to sipcore's request
// vocabulary and to storage-backed accounts/bindings.
package registrar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zurustar/signalrtc/internal/auth"
	"github.com/zurustar/signalrtc/internal/binding"
	"github.com/zurustar/signalrtc/internal/domainregistry"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

const (
	// MaxQueue bounds the REGISTER work queue (spec.md §4.4).
	MaxQueue = 1000
	// DefaultWorkers is the worker pool size when the caller doesn't pick one.
	DefaultWorkers = 4
)

// FailureReason names why a REGISTER was rejected, fed to the OnRegisterFailure
// hook (spec.md §6; the Abuse Filter subscribes).
type FailureReason string

const (
	ReasonDomainNotServiced FailureReason = "DomainNotServiced"
	ReasonForbidden         FailureReason = "Forbidden"
)

// FailureHook is invoked for every non-authenticated outcome (spec.md §4.4:
// "Fires OnRegisterFailure for every non-authenticated outcome"). It must
// not block.
type FailureHook func(remoteEP string, reason FailureReason, req *sipcore.Request)

type job struct {
	req *sipcore.Request
	tx  sipcore.ServerTransaction
}

// Core is the Registrar Core.
type Core struct {
	queue   chan job
	workers int

	domains  *domainregistry.Registry
	store    *storage.DB
	bindings *binding.Manager
	authn    *auth.Authenticator
	onFail   FailureHook
	logger   logging.Logger
}

// New builds a Core. onFail may be nil.
func New(domains *domainregistry.Registry, store *storage.DB, bindings *binding.Manager, authn *auth.Authenticator, workers int, onFail FailureHook, logger logging.Logger) *Core {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if onFail == nil {
		onFail = func(string, FailureReason, *sipcore.Request) {}
	}
	return &Core{
		queue:    make(chan job, MaxQueue),
		workers:  workers,
		domains:  domains,
		store:    store,
		bindings: bindings,
		authn:    authn,
		onFail:   onFail,
		logger:   logger,
	}
}

// Run starts the worker pool. Workers exit once stop is closed and the
// queue is drained (spec.md §5: "Stop signals all workers via the queue
// semaphore; workers observe an exit flag between items").
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

// AddRegister validates and enqueues a REGISTER transaction per spec.md
// §4.4's pre-queue checks: method, minimum expiry, queue capacity.
func (c *Core) AddRegister(req *sipcore.Request, tx sipcore.ServerTransaction) {
	if req.Method != sipcore.REGISTER {
		tx.Respond(sipcore.NewResponse(req, 405, "Method Not Allowed"))
		return
	}

	if tooBrief, hasContact := anyContactTooBrief(req); hasContact && tooBrief {
		res := sipcore.NewResponse(req, 423, "Interval Too Brief")
		res.AppendHeader(sipcore.SipHeader("Min-Expires", strconv.Itoa(binding.MinExpiry)))
		tx.Respond(res)
		return
	}

	select {
	case c.queue <- job{req: req, tx: tx}:
	default:
		tx.Respond(sipcore.NewResponse(req, 480, "Temporarily Unavailable"))
	}
}

func (c *Core) process(req *sipcore.Request, tx sipcore.ServerTransaction) {
	remoteEP := req.Source()
	to := req.To()
	if to == nil {
		tx.Respond(sipcore.NewResponse(req, 400, "Bad Request"))
		return
	}

	canonicalDomain, ok := c.domains.Canonicalise(to.Address.Host)
	if !ok {
		tx.Respond(sipcore.NewResponse(req, 403, "Domain not serviced"))
		c.onFail(remoteEP, ReasonDomainNotServiced, req)
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
		c.onFail(remoteEP, ReasonForbidden, req)
		return
	}

	authHeader := req.GetHeader("Authorization")
	if authHeader == nil {
		c.challenge(req, tx, canonicalDomain)
		return
	}
	if _, ok := c.authn.Validate(authHeader.Value(), string(sipcore.REGISTER), account.HA1Digest); !ok {
		c.challenge(req, tx, canonicalDomain)
		return
	}

	contacts := req.GetHeaders("Contact")
	if len(contacts) == 0 {
		c.respondWithCurrentBindings(req, tx, account.ID)
		return
	}

	parsed := parseContacts(req)

	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	cseq := 0
	if h := req.CSeq(); h != nil {
		cseq = int(h.SeqNo)
	}
	userAgent := ""
	if h := req.GetHeader("User-Agent"); h != nil {
		userAgent = h.Value()
	}

	bindings, err := c.bindings.Update(account.ID, parsed, callID, cseq, userAgent, remoteEP, "", remoteEP)
	if err != nil {
		// Storage errors during binding refresh are a soft failure (spec.md
		// §7): respond 200 but force the short-expiry retry path.
		c.logger.Error("binding update failed, forcing short retry", logging.Err(err))
		res := sipcore.NewResponse(req, 200, "OK")
		res.AppendHeader(sipcore.SipHeader("Contact", forceShortExpiryContact(parsed)))
		tx.Respond(res)
		return
	}

	c.respondWithBindings(req, tx, bindings)
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

func (c *Core) respondWithCurrentBindings(req *sipcore.Request, tx sipcore.ServerTransaction, accountID int64) {
	bindings, err := c.bindings.GetForAccount(accountID)
	if err != nil {
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}
	c.respondWithBindings(req, tx, bindings)
}

func (c *Core) respondWithBindings(req *sipcore.Request, tx sipcore.ServerTransaction, bindings []*storage.Binding) {
	res := sipcore.NewResponse(req, 200, "OK")
	now := time.Now()
	for _, b := range bindings {
		remaining := int(b.ExpiryTime.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		res.AppendHeader(sipcore.SipHeader("Contact", fmt.Sprintf("<%s>;expires=%d", b.ContactURI, remaining)))
	}
	tx.Respond(res)
}

func forceShortExpiryContact(contacts []binding.Contact) string {
	if len(contacts) == 0 {
		return ""
	}
	return fmt.Sprintf("<%s>;expires=%d", contacts[0].URI, binding.MinExpiry)
}

// anyContactTooBrief reports whether any Contact's expires (falling back to
// the request's Expires header when a Contact carries no param of its own)
// lands in (0, MinExpiry) (spec.md §4.3 expiry policy). A REGISTER mixing a
// too-short Contact with a valid one must still be rejected, so every
// Contact is checked rather than just the last one. hasContact is false when
// the REGISTER carries no Contact header at all (a bindings query, which is
// never subject to the minimum-expiry rejection).
func anyContactTooBrief(req *sipcore.Request) (tooBrief bool, hasContact bool) {
	contacts := req.GetHeaders("Contact")
	if len(contacts) == 0 {
		return false, false
	}
	def := defaultExpiresHeader(req)
	for _, c := range contacts {
		expiry := def
		if v, ok := contactExpiresParam(c.Value()); ok {
			expiry = v
		}
		if expiry > 0 && expiry < binding.MinExpiry {
			return true, true
		}
	}
	return false, true
}

func defaultExpiresHeader(req *sipcore.Request) int {
	if h := req.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil {
			return v
		}
	}
	return 0
}

func parseContacts(req *sipcore.Request) []binding.Contact {
	defaultExpiry := defaultExpiresHeader(req)
	var out []binding.Contact
	for _, h := range req.GetHeaders("Contact") {
		uri := extractContactURI(h.Value())
		expiry := defaultExpiry
		if v, ok := contactExpiresParam(h.Value()); ok {
			expiry = v
		}
		out = append(out, binding.Contact{URI: uri, Expiry: binding.ClampExpiry(expiry)})
	}
	return out
}

// extractContactURI mirrors the teacher's parseContactHeader URI extraction:
// prefer the <...> form, else everything before the first parameter.
func extractContactURI(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j >= 0 {
			return s[i+1 : i+j]
		}
	}
	if i := strings.Index(s, ";"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func contactExpiresParam(raw string) (int, bool) {
	const marker = "expires="
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return 0, false
	}
	rest := raw[idx+len(marker):]
	if end := strings.IndexAny(rest, ";, "); end >= 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return v, true
}
