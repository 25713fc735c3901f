// Package abuse implements the Abuse Filter (spec.md §4.9): per-source-IP
// counters and a ban table fed by Transport Adapter trace events and by
// Registrar/B2BUA failure callbacks.
package abuse

import (
	"net"
	"sync"
	"time"
)

// Signal identifies which counter a violation increments.
type Signal int

const (
	SignalRegisterFailure Signal = iota
	SignalRetransmit
	SignalAcceptFailure
)

// Reason names why a source is currently banned.
type Reason string

const (
	ReasonNone                         Reason = ""
	ReasonExcessiveRegistrationFailures Reason = "ExcessiveRegistrationFailures"
	ReasonExcessiveRetransmits          Reason = "ExcessiveRetransmits"
	ReasonExcessiveAcceptFailures       Reason = "ExcessiveAcceptFailures"
)

const (
	registerFailureThreshold = 5
	retransmitThreshold      = 20
	acceptFailureThreshold   = 5

	// ruleViolationCountForIPAddress is the weight a single violation
	// carries when the request-URI host is a bare IP literal (spec.md
	// §4.9: scanners use IP literals, not hostnames).
	ruleViolationCountForIPAddress = 3

	// BanResetWindow is how long a signal must be idle before its counter
	// resets to zero.
	BanResetWindow = 10 * time.Minute
)

// BanEntry is the per-source accounting record (spec.md §3).
type BanEntry struct {
	mu sync.Mutex

	regFailureCount    int
	lastRegFailureAt   time.Time
	retransmitCount    int
	lastRetransmitAt   time.Time
	acceptFailureCount int
	lastAcceptFailureAt time.Time

	bannedAt           time.Time
	banDurationMinutes int
	banReason          Reason
	banCounts          int
}

// IsPrivateSubnet reports whether an address should be exempt from all
// counting (spec.md §4.9).
type IsPrivateSubnet func(ip net.IP) bool

// Filter is the Abuse Filter.
type Filter struct {
	entries   sync.Map // string(source) -> *BanEntry
	isPrivate IsPrivateSubnet
}

// New builds a Filter. isPrivate may be nil, meaning no subnet is exempt.
func New(isPrivate IsPrivateSubnet) *Filter {
	if isPrivate == nil {
		isPrivate = func(net.IP) bool { return false }
	}
	return &Filter{isPrivate: isPrivate}
}

// IsBanned reports whether source is currently banned and, if so, why.
// Expired bans are lazily cleared here so a caller never sees a stale ban.
func (f *Filter) IsBanned(source string) (Reason, bool) {
	v, ok := f.entries.Load(source)
	if !ok {
		return ReasonNone, false
	}
	e := v.(*BanEntry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.banReason == ReasonNone {
		return ReasonNone, false
	}
	if time.Since(e.bannedAt) > time.Duration(e.banDurationMinutes)*time.Minute {
		e.regFailureCount = 0
		e.retransmitCount = 0
		e.acceptFailureCount = 0
		e.banReason = ReasonNone
		return ReasonNone, false
	}
	return e.banReason, true
}

// Record registers a violation for source, optionally weighted by whether
// the offending request-URI host was a bare IP literal. It returns the
// reason a ban was just triggered, or ReasonNone if the source remains
// unbanned. Safe to call from the Transport Adapter's synchronous trace-event
// callback — it never blocks on I/O.
func (f *Filter) Record(source string, ip net.IP, signal Signal, uriHostIsIPLiteral bool) Reason {
	if ip != nil && f.isPrivate(ip) {
		return ReasonNone
	}

	v, _ := f.entries.LoadOrStore(source, &BanEntry{})
	e := v.(*BanEntry)

	weight := 1
	if uriHostIsIPLiteral {
		weight = ruleViolationCountForIPAddress
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var reason Reason
	switch signal {
	case SignalRegisterFailure:
		if now.Sub(e.lastRegFailureAt) > BanResetWindow {
			e.regFailureCount = 0
		}
		e.regFailureCount += weight
		e.lastRegFailureAt = now
		if e.regFailureCount >= registerFailureThreshold {
			reason = ReasonExcessiveRegistrationFailures
		}
	case SignalRetransmit:
		if now.Sub(e.lastRetransmitAt) > BanResetWindow {
			e.retransmitCount = 0
		}
		e.retransmitCount += weight
		e.lastRetransmitAt = now
		if e.retransmitCount >= retransmitThreshold {
			reason = ReasonExcessiveRetransmits
		}
	case SignalAcceptFailure:
		if now.Sub(e.lastAcceptFailureAt) > BanResetWindow {
			e.acceptFailureCount = 0
		}
		e.acceptFailureCount += weight
		e.lastAcceptFailureAt = now
		if e.acceptFailureCount >= acceptFailureThreshold {
			reason = ReasonExcessiveAcceptFailures
		}
	}

	if reason != ReasonNone && e.banReason == ReasonNone {
		e.banCounts++
		e.bannedAt = now
		e.banDurationMinutes = 5 * (1 << (e.banCounts - 1))
		e.banReason = reason
	}
	return e.banReason
}
