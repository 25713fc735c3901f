package transport

import (
	"sync"
	"time"

	"github.com/zurustar/signalrtc/internal/sipcore"
)

// retransmitWindow bounds how long a Via branch is remembered: RFC 3261's
// Timer B (the INVITE client transaction's overall retransmit ceiling)
// caps at 32s, so a request sharing a branch with one seen inside that
// window is a retransmit, not a coincidentally reused value.
const retransmitWindow = 32 * time.Second

// retransmitTracker detects retransmitted requests/responses at the
// transport layer (spec.md §4.1: "TLS handshake failures are counted but
// not banned directly, the Abuse Filter handles that via retransmit
// counts"; §4.9 "Retransmits of any request/response"). sipgo's
// transaction layer absorbs and retries messages internally without
// exposing a callback for this, so the branch parameter — unique per
// transaction per RFC 3261 §8.1.1.7 — is compared against what the same
// source has recently sent.
type retransmitTracker struct {
	seen sync.Map // branch string -> time.Time
}

// seenBefore reports whether branch was already recorded within
// retransmitWindow, recording it either way.
func (t *retransmitTracker) seenBefore(branch string) bool {
	if branch == "" {
		return false
	}
	now := time.Now()
	v, loaded := t.seen.LoadOrStore(branch, now)
	if !loaded {
		return false
	}
	last := v.(time.Time)
	if now.Sub(last) > retransmitWindow {
		t.seen.Store(branch, now)
		return false
	}
	return true
}

// prune evicts branches idle longer than retransmitWindow so the map
// doesn't grow unbounded over the process lifetime.
func (t *retransmitTracker) prune(now time.Time) {
	t.seen.Range(func(k, v interface{}) bool {
		if now.Sub(v.(time.Time)) > retransmitWindow {
			t.seen.Delete(k)
		}
		return true
	})
}

// branchOf returns req's Via branch parameter, or "" if the request has no
// Via header (malformed enough that sipgo would ordinarily reject it first).
func branchOf(req *sipcore.Request) string {
	via := req.Via()
	if via == nil {
		return ""
	}
	return via.Params["branch"]
}
