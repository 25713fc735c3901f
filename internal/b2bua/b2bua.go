// Package b2bua implements the B2BUA Core (spec.md §4.5): the bounded
// INVITE queue and worker pool that resolves the caller, invokes the
// Dialplan Evaluator, originates a UAC leg toward the resolved destination
// and hands the pair off to the Call Manager once it answers. Grounded on
// the teacher's proxy.StatefulProxyEngine.processInviteRequest/forkRequest
// shape, generalized from proxying to a true back-to-back UA.
package b2bua

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zurustar/signalrtc/internal/callmanager"
	"github.com/zurustar/signalrtc/internal/dialplan"
	"github.com/zurustar/signalrtc/internal/domainregistry"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

const (
	// MaxQueue bounds the INVITE work queue (spec.md §4.5).
	MaxQueue = 5
	// DefaultWorkers is the worker pool size when the caller doesn't pick one.
	DefaultWorkers = 4
	// InviteTimeout bounds how long the UAC leg waits for a final response.
	InviteTimeout = 32 * time.Second
)

// FailureReason names why a call was rejected, fed to the OnAcceptCallFailure
// hook the Abuse Filter subscribes to (spec.md §4.9).
type FailureReason string

const (
	ReasonNoSIPAccount FailureReason = "NoSIPAccount"
	ReasonNotFound     FailureReason = "NotFound"
)

// FailureHook is invoked for every call-accept failure. Must not block.
type FailureHook func(remoteEP string, reason FailureReason, req *sipcore.Request)

type job struct {
	req *sipcore.Request
	tx  sipcore.ServerTransaction
}

// Core is the B2BUA Core.
type Core struct {
	queue   chan job
	workers int

	stack    *sipcore.Stack
	domains  *domainregistry.Registry
	store    *storage.DB
	dialplan *dialplan.Evaluator
	calls    *callmanager.Manager
	onFail   FailureHook
	logger   logging.Logger
}

// New builds a Core. onFail may be nil.
func New(stack *sipcore.Stack, domains *domainregistry.Registry, store *storage.DB, dp *dialplan.Evaluator, calls *callmanager.Manager, workers int, onFail FailureHook, logger logging.Logger) *Core {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if onFail == nil {
		onFail = func(string, FailureReason, *sipcore.Request) {}
	}
	return &Core{
		queue:    make(chan job, MaxQueue),
		workers:  workers,
		stack:    stack,
		domains:  domains,
		store:    store,
		dialplan: dp,
		calls:    calls,
		onFail:   onFail,
		logger:   logger,
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

// AddInvite validates and enqueues an INVITE transaction per spec.md §4.5's
// pre-queue checks: method, queue capacity, immediate 100 Trying.
func (c *Core) AddInvite(req *sipcore.Request, tx sipcore.ServerTransaction) {
	if req.Method != sipcore.INVITE {
		tx.Respond(sipcore.NewResponse(req, 405, "Method Not Allowed"))
		return
	}

	select {
	case c.queue <- job{req: req, tx: tx}:
		tx.Respond(sipcore.NewResponse(req, 100, "Trying"))
	default:
		tx.Respond(sipcore.NewResponse(req, 480, "Temporarily Unavailable"))
	}
}

func (c *Core) process(req *sipcore.Request, tx sipcore.ServerTransaction) {
	remoteEP := req.Source()

	callerAccount, ok := c.resolveCaller(req)
	if !ok {
		tx.Respond(sipcore.NewResponse(req, 403, "Forbidden"))
		c.onFail(remoteEP, ReasonNoSIPAccount, req)
		return
	}

	dialledUser := req.Recipient.User
	descriptor, err := c.dialplan.Lookup(dialledUser, callerAccount)
	if err != nil {
		c.logger.Error("dialplan lookup failed", logging.Err(err))
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}
	if descriptor == nil {
		tx.Respond(sipcore.NewResponse(req, 404, "Not Found"))
		c.onFail(remoteEP, ReasonNotFound, req)
		return
	}

	c.originate(req, tx, descriptor)
}

// resolveCaller looks up the caller's account when From's host is hosted by
// this box. An external (non-hosted) From is a valid anonymous caller
// (spec.md §4.5 step 1): ok is true and account is nil in that case.
func (c *Core) resolveCaller(req *sipcore.Request) (account *storage.Account, ok bool) {
	from := req.From()
	if from == nil {
		return nil, false
	}
	canonicalDomain, hosted := c.domains.Canonicalise(from.Address.Host)
	if !hosted {
		return nil, true
	}
	domainID, _ := c.domains.DomainID(canonicalDomain)
	acct, err := c.store.GetAccountByUsernameAndDomain(from.Address.User, domainID)
	if err != nil {
		c.logger.Error("caller account lookup failed", logging.Err(err))
		return nil, false
	}
	if acct == nil || acct.Disabled {
		return nil, false
	}
	return acct, true
}

func (c *Core) originate(req *sipcore.Request, tx sipcore.ServerTransaction, descriptor *dialplan.CallDescriptor) {
	var destURI sipcore.Uri
	if err := sipcore.ParseUri(descriptor.DestinationURI, &destURI); err != nil {
		c.logger.Error("dialplan produced an unparseable destination", logging.String("destination", descriptor.DestinationURI), logging.Err(err))
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}

	localTag := uuid.NewString()
	from := req.From()
	uacFrom := &sipcore.FromHeader{
		DisplayName: from.DisplayName,
		Address:     from.Address,
		Params:      sipcore.NewParams(),
	}
	uacFrom.Params.Add("tag", localTag)

	body := []byte(descriptor.Body)
	if len(body) == 0 {
		body = req.Body()
	}

	uacReq := sipcore.NewUACRequest(sipcore.INVITE, destURI, uacFrom, sipcore.NewContactHeader(destURI), body)

	ctx, cancel := context.WithTimeout(context.Background(), InviteTimeout)
	defer cancel()

	res, err := c.stack.Do(ctx, uacReq)
	if err != nil {
		c.logger.Warn("uac leg failed", logging.String("destination", descriptor.DestinationURI), logging.Err(err))
		tx.Respond(sipcore.NewResponse(req, 502, "Bad Gateway"))
		return
	}

	uasResponse := sipcore.NewResponseWithBody(req, int(res.StatusCode), res.Reason, "application/sdp", res.Body())
	tx.Respond(uasResponse)

	if res.StatusCode >= 300 {
		return
	}
	c.bridge(req, uacReq, res)
}

func (c *Core) bridge(uasReq, uacReq *sipcore.Request, uacRes *sipcore.Response) {
	callID := ""
	if h := uasReq.CallID(); h != nil {
		callID = h.Value()
	}
	uasFrom := uasReq.From()
	uasTo := uasReq.To()
	uacTo := uacRes.To()

	bridgeID := callmanager.NewBridgeID()

	cdr, err := c.calls.CreateCDR("outbound", uacReq.Recipient.String(), uasFrom.Value(), callID, uasReq.Source(), uacReq.Destination(), bridgeID)
	if err != nil {
		c.logger.Error("failed to open cdr for bridged call", logging.Err(err))
		return
	}

	uacFrom := uacReq.From()

	// LocalUserField/RemoteUserField persist the exact From/To identities each
	// leg's dialog was established with, so the Call Manager can later build a
	// correctly-tagged in-dialog request on the peer leg (spec.md §4.7).
	legUAS := &storage.SIPCall{
		CDRID: cdr.ID, LocalTag: uasTo.Params["tag"], RemoteTag: uasFrom.Params["tag"],
		CallID: callID, Direction: "uas", RemoteTarget: uasFrom.Address.String(), RemoteSocket: uasReq.Source(),
		LocalUserField: uasTo.Address.String(), RemoteUserField: uasFrom.Address.String(),
	}
	legUAC := &storage.SIPCall{
		CDRID: cdr.ID, LocalTag: uacFrom.Params["tag"], RemoteTag: uacTo.Params["tag"],
		CallID: callID, Direction: "uac", RemoteTarget: uacReq.Recipient.String(), RemoteSocket: uacReq.Destination(),
		LocalUserField: uacFrom.Address.String(), RemoteUserField: uacTo.Address.String(),
	}

	if err := c.calls.Bridge(bridgeID, legUAS, legUAC); err != nil {
		c.logger.Error("failed to bridge dialog legs", logging.Err(err))
		return
	}
	if err := c.calls.RecordAnswered(cdr.ID, int(uacRes.StatusCode), uacRes.Reason, 0); err != nil {
		c.logger.Error("failed to record cdr answer", logging.Err(err))
	}
}
