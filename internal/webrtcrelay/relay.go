// Package webrtcrelay implements the WebRTC Signal Relay (spec.md §4.12): a
// durable store-and-forward mailbox for SDP/ICE messages between browser
// peers, keyed by (from, to).
package webrtcrelay

import (
	"time"

	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

// SDPType distinguishes offer/answer bodies.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// Relay is the WebRTC Signal Relay.
type Relay struct {
	store *storage.DB
}

// New builds a Relay over store.
func New(store *storage.DB) *Relay {
	return &Relay{store: store}
}

// PutSDP appends an SDP message from -> to. An offer first purges every
// queued message for either direction of the pair (spec.md §4.12, §8
// scenario 6).
func (r *Relay) PutSDP(from, to string, sdpType SDPType, body string) error {
	if sdpType == SDPOffer {
		if err := r.store.PurgeWebRTCSignalsForPair(from, to); err != nil {
			return sipcore.Wrap(err, "webrtc relay purge on offer")
		}
	}
	sig := &storage.WebRTCSignal{From: from, To: to, SignalType: storage.SignalSDP, Body: body, Inserted: time.Now()}
	if err := r.store.InsertWebRTCSignal(sig); err != nil {
		return sipcore.Wrap(err, "webrtc relay put sdp")
	}
	return nil
}

// PutICE appends an ICE candidate message from -> to.
func (r *Relay) PutICE(from, to, candidate string) error {
	sig := &storage.WebRTCSignal{From: from, To: to, SignalType: storage.SignalICE, Body: candidate, Inserted: time.Now()}
	if err := r.store.InsertWebRTCSignal(sig); err != nil {
		return sipcore.Wrap(err, "webrtc relay put ice")
	}
	return nil
}

// GetNext returns the oldest undelivered message to<-from matching
// signalType ("" means any), marking it delivered. ok is false when the
// mailbox is empty for that filter (spec.md §4.12: at-least-once from the
// client's perspective, GET marks delivered exactly once).
func (r *Relay) GetNext(to, from string, signalType string) (body string, kind storage.SignalType, ok bool, err error) {
	sig, err := r.store.NextUndeliveredWebRTCSignal(to, from, signalType)
	if err != nil {
		return "", "", false, sipcore.Wrap(err, "webrtc relay get")
	}
	if sig == nil {
		return "", "", false, nil
	}
	if err := r.store.MarkWebRTCSignalDelivered(sig.ID, time.Now()); err != nil {
		return "", "", false, sipcore.Wrap(err, "webrtc relay mark delivered")
	}
	return sig.Body, sig.SignalType, true, nil
}
