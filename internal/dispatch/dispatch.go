// Package dispatch implements the Dispatcher (spec.md §2): it classifies
// each inbound request into in-dialog / method-specific / rejected and
// routes it to the matching core. Grounded on the teacher's
// handlers.Manager (method table + 405/Allow fallback), generalized from a
// registered-handler list to the fixed set of cores this engine wires.
package dispatch

import (
	"github.com/zurustar/signalrtc/internal/b2bua"
	"github.com/zurustar/signalrtc/internal/callmanager"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/registrar"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/subscriber"
)

// Allow is the fixed set of methods this engine ever accepts, advertised on
// every 405 (spec.md §6 wire surface).
const Allow = "INVITE, ACK, BYE, CANCEL, OPTIONS, REGISTER, SUBSCRIBE, NOTIFY"

// Dispatcher routes inbound requests to the Call Manager, B2BUA Core,
// Registrar Core, Subscriber Core, or replies directly for OPTIONS/rejects.
type Dispatcher struct {
	stack  *sipcore.Stack
	calls  *callmanager.Manager
	b2bua  *b2bua.Core
	reg    *registrar.Core
	subs   *subscriber.Core
	logger logging.Logger
}

// New builds a Dispatcher over the already-wired cores.
func New(stack *sipcore.Stack, calls *callmanager.Manager, b2buaCore *b2bua.Core, reg *registrar.Core, subs *subscriber.Core, logger logging.Logger) *Dispatcher {
	return &Dispatcher{stack: stack, calls: calls, b2bua: b2buaCore, reg: reg, subs: subs, logger: logger}
}

// Dispatch classifies and routes one inbound request.
func (d *Dispatcher) Dispatch(req *sipcore.Request, tx sipcore.ServerTransaction) {
	if isInDialog(req) {
		d.dispatchInDialog(req, tx)
		return
	}

	switch req.Method {
	case sipcore.REGISTER:
		d.reg.AddRegister(req, tx)
	case sipcore.INVITE:
		d.b2bua.AddInvite(req, tx)
	case sipcore.SUBSCRIBE:
		d.subs.AddSubscribe(req, tx)
	case sipcore.OPTIONS:
		d.replyOptions(req, tx)
	case sipcore.ACK, sipcore.CANCEL:
		// Out-of-dialog ACK/CANCEL with no matching transaction: nothing to
		// do, no response is sent for ACK per RFC 3261; CANCEL with no
		// matching INVITE transaction gets a 481 by the stack adapter.
	default:
		d.methodNotAllowed(req, tx)
	}
}

// isInDialog reports whether req carries a To-tag, the marker of a request
// inside an already-established dialog (spec.md §4.7).
func isInDialog(req *sipcore.Request) bool {
	to := req.To()
	if to == nil {
		return false
	}
	return to.Params["tag"] != ""
}

func (d *Dispatcher) dispatchInDialog(req *sipcore.Request, tx sipcore.ServerTransaction) {
	res, err := d.calls.ForwardInDialog(d.stack, req)
	if err != nil {
		if err == callmanager.ErrNoSuchDialog {
			tx.Respond(sipcore.NewResponse(req, 481, "Call/Transaction Does Not Exist"))
			return
		}
		d.logger.Error("failed to forward in-dialog request", logging.Err(err))
		tx.Respond(sipcore.NewResponse(req, 500, "Server Internal Error"))
		return
	}
	tx.Respond(sipcore.NewResponseWithBody(req, int(res.StatusCode), res.Reason, "application/sdp", res.Body()))
}

func (d *Dispatcher) replyOptions(req *sipcore.Request, tx sipcore.ServerTransaction) {
	res := sipcore.NewResponse(req, 200, "OK")
	res.AppendHeader(sipcore.SipHeader("Allow", Allow))
	tx.Respond(res)
}

func (d *Dispatcher) methodNotAllowed(req *sipcore.Request, tx sipcore.ServerTransaction) {
	res := sipcore.NewResponse(req, 405, "Method Not Allowed")
	res.AppendHeader(sipcore.SipHeader("Allow", Allow))
	tx.Respond(res)
}
