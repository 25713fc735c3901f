// Package callmanager implements the Call Manager (spec.md §4.7): tracks
// active bridges between UAC/UAS dialog legs, forwards in-dialog requests
// between them, and drives the CDR lifecycle.
package callmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

// ErrNoSuchDialog is returned by ForwardInDialog when the request does not
// belong to any tracked bridge.
var ErrNoSuchDialog = errors.New("callmanager: no such dialog")

// DialogRef identifies one leg of a bridge, the (callId, localTag, remoteTag)
// triple spec.md §4.7 uses to route in-dialog requests.
type DialogRef struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Manager is the Call Manager.
type Manager struct {
	store  *storage.DB
	logger logging.Logger
}

// New builds a Manager over store.
func New(store *storage.DB, logger logging.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// NewBridgeID mints a fresh bridge id, sharable by exactly two legs.
func NewBridgeID() string { return uuid.NewString() }

// CreateCDR opens a CDR when a UAS/UAC transaction begins (spec.md §3 CDR).
func (m *Manager) CreateCDR(direction, destinationURI, fromHeader, callID, localSocket, remoteSocket, bridgeID string) (*storage.CDR, error) {
	c := &storage.CDR{
		Direction: direction, Created: time.Now(), DestinationURI: destinationURI,
		FromHeader: fromHeader, CallID: callID, LocalSocket: localSocket,
		RemoteSocket: remoteSocket, BridgeID: bridgeID,
	}
	if err := m.store.CreateCDR(c); err != nil {
		return nil, sipcore.Wrap(err, "create cdr")
	}
	return c, nil
}

// RecordProgress writes a provisional-response event to the CDR (spec.md §4.7
// CDRCreated/Answered/Updated/Hungup event subscription).
func (m *Manager) RecordProgress(cdrID int64, status int, reason string) error {
	now := time.Now()
	return sipcore.Wrap(m.store.UpdateCDRProgress(cdrID, &storage.CDR{
		ProgressAt: &now, ProgressStatus: &status, ProgressReason: &reason,
	}), "record cdr progress")
}

// RecordAnswered writes the answering final response and ring duration.
func (m *Manager) RecordAnswered(cdrID int64, status int, reason string, ringDuration time.Duration) error {
	now := time.Now()
	return sipcore.Wrap(m.store.UpdateCDRAnswered(cdrID, &storage.CDR{
		AnsweredAt: &now, AnsweredStatus: &status, AnsweredReason: &reason, RingDuration: &ringDuration,
	}), "record cdr answered")
}

// RecordHungup finalises the CDR when either bridged leg terminates.
func (m *Manager) RecordHungup(cdrID int64, reason string, duration time.Duration) error {
	now := time.Now()
	return sipcore.Wrap(m.store.UpdateCDRHungup(cdrID, &storage.CDR{
		HungupAt: &now, HungupReason: &reason, Duration: &duration,
	}), "record cdr hungup")
}

// Bridge persists both legs of a call under a shared bridgeId (spec.md
// §4.7). Each leg stores the other's routing details so ProcessInDialog can
// find the paired leg later.
func (m *Manager) Bridge(bridgeID string, legA, legB *storage.SIPCall) error {
	legA.BridgeID = bridgeID
	legB.BridgeID = bridgeID
	if err := m.store.CreateSIPCall(legA); err != nil {
		return sipcore.Wrap(err, "bridge: create leg A")
	}
	if err := m.store.CreateSIPCall(legB); err != nil {
		return sipcore.Wrap(err, "bridge: create leg B")
	}
	return nil
}

// FindPairedLeg identifies the owning dialog via (callId, localTag,
// remoteTag) and returns the other leg of its bridge, or nil if ref does not
// belong to any tracked bridge.
func (m *Manager) FindPairedLeg(ref DialogRef) (*storage.SIPCall, error) {
	owning, err := m.store.GetSIPCallByDialog(ref.CallID, ref.LocalTag, ref.RemoteTag)
	if err != nil {
		return nil, sipcore.Wrap(err, "find owning leg")
	}
	if owning == nil {
		return nil, nil
	}
	legs, err := m.store.GetSIPCallsByBridge(owning.BridgeID)
	if err != nil {
		return nil, sipcore.Wrap(err, "list bridge legs")
	}
	for _, leg := range legs {
		if leg.ID != owning.ID {
			return leg, nil
		}
	}
	return nil, nil
}

// Unbridge terminates a bridge: both legs are destroyed (spec.md §4.7 "BYE
// on one leg terminates the other").
func (m *Manager) Unbridge(bridgeID string) error {
	if err := m.store.DeleteSIPCallsByBridge(bridgeID); err != nil {
		return sipcore.Wrap(err, "unbridge")
	}
	return nil
}

// ForwardInDialog locates the dialog leg owning req and relays it to the
// paired leg (spec.md §4.7: "forward to the paired leg, rewriting Via,
// Route, Contact as a proxy would"). BYE additionally terminates the bridge
// and finalises the CDR.
func (m *Manager) ForwardInDialog(stack *sipcore.Stack, req *sipcore.Request) (*sipcore.Response, error) {
	ref, err := RefFromRequest(req)
	if err != nil {
		return nil, sipcore.Wrap(err, "forward in-dialog request")
	}
	owning, err := m.store.GetSIPCallByDialog(ref.CallID, ref.LocalTag, ref.RemoteTag)
	if err != nil {
		return nil, sipcore.Wrap(err, "find owning leg")
	}
	if owning == nil {
		return nil, ErrNoSuchDialog
	}
	legs, err := m.store.GetSIPCallsByBridge(owning.BridgeID)
	if err != nil {
		return nil, sipcore.Wrap(err, "list bridge legs")
	}
	var peer *storage.SIPCall
	for _, leg := range legs {
		if leg.ID != owning.ID {
			peer = leg
		}
	}
	if peer == nil {
		return nil, ErrNoSuchDialog
	}

	fwd, cseq, err := buildForwardedRequest(peer, req.Method, req.Body())
	if err != nil {
		return nil, sipcore.Wrap(err, "build forwarded in-dialog request")
	}

	res, doErr := stack.Do(context.Background(), fwd)

	if uerr := m.store.UpdateSIPCallCSeq(peer.ID, cseq); uerr != nil {
		m.logger.Error("failed to persist peer leg cseq", logging.Err(uerr))
	}

	if req.Method == sipcore.BYE {
		if uerr := m.Unbridge(owning.BridgeID); uerr != nil {
			m.logger.Error("failed to unbridge after bye", logging.Err(uerr))
		}
		if herr := m.RecordHungup(owning.CDRID, "normal clearing", 0); herr != nil {
			m.logger.Error("failed to record cdr hangup", logging.Err(herr))
		}
	}

	if doErr != nil {
		return nil, sipcore.Wrap(doErr, "forward in-dialog request to peer")
	}
	return res, nil
}

// buildForwardedRequest builds the request to send on peer's dialog: From
// carries peer's own local identity and tag, To carries peer's remote
// identity and tag, matching exactly what peer's far end established its
// dialog with, so the far end can match it instead of answering 481. The
// returned cseq is peer.CSeq+1, the value the caller must persist once the
// request has been sent.
func buildForwardedRequest(peer *storage.SIPCall, method sip.RequestMethod, body []byte) (*sip.Request, int, error) {
	var destURI, fromURI, toURI sipcore.Uri
	if err := sipcore.ParseUri(peer.RemoteTarget, &destURI); err != nil {
		return nil, 0, fmt.Errorf("parse peer remote target: %w", err)
	}
	if err := sipcore.ParseUri(peer.LocalUserField, &fromURI); err != nil {
		return nil, 0, fmt.Errorf("parse peer local identity: %w", err)
	}
	if err := sipcore.ParseUri(peer.RemoteUserField, &toURI); err != nil {
		return nil, 0, fmt.Errorf("parse peer remote identity: %w", err)
	}

	fromParams := sip.NewParams()
	fromParams["tag"] = peer.LocalTag
	toParams := sip.NewParams()
	toParams["tag"] = peer.RemoteTag

	cseq := peer.CSeq + 1
	fwd := sip.NewRequest(method, destURI)
	fwd.SetDestination(peer.RemoteSocket)
	fwd.SetBody(body)
	fwd.AppendHeader(sip.NewHeader("Call-ID", peer.CallID))
	fwd.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	fwd.AppendHeader(&sip.ToHeader{Address: toURI, Params: toParams})
	fwd.AppendHeader(&sip.CSeqHeader{SeqNo: uint32(cseq), MethodName: method})
	fwd.AppendHeader(sip.NewHeader("Server", sipcore.ServerHeader))
	return fwd, cseq, nil
}

// RefFromRequest extracts the (callId, localTag, remoteTag) routing key from
// an in-dialog request. localTag/remoteTag are from this box's perspective:
// the request's To-tag is ours (we're the far end that set it), the From-tag
// is the sender's.
func RefFromRequest(req *sipcore.Request) (DialogRef, error) {
	callID := req.CallID()
	if callID == nil {
		return DialogRef{}, fmt.Errorf("in-dialog request missing Call-ID")
	}
	from := req.From()
	to := req.To()
	if from == nil || to == nil {
		return DialogRef{}, fmt.Errorf("in-dialog request missing From/To")
	}
	return DialogRef{CallID: callID.Value(), LocalTag: to.Params["tag"], RemoteTag: from.Params["tag"]}, nil
}
