package storage

import "time"

// Domain is an owned SIP domain with its aliases (spec.md §3 Domain).
type Domain struct {
	ID      int64
	Name    string
	Aliases []string
}

// Account is a hosted SIP account (spec.md §3 Account). The plaintext
// password never appears here — only its digest.
type Account struct {
	ID         int64
	DomainID   int64
	Username   string
	HA1Digest  string
	Disabled   bool
	Inserted   time.Time
}

// Binding is a single registered contact for an account (spec.md §3
// RegistrarBinding).
type Binding struct {
	ID              int64
	AccountID       int64
	ContactURI      string
	UserAgent       string
	Expiry          int
	ExpiryTime      time.Time
	RemoteSocket    string
	ProxySocket     string
	RegistrarSocket string
	CallID          string
	CSeq            int
	LastUpdate      time.Time
}

// Dialplan is the singleton routing script record (spec.md §3 Dialplan).
type Dialplan struct {
	Name         string
	ScriptSource string
	LastUpdate   time.Time
}

// CDR is a call detail record (spec.md §3 CDR).
type CDR struct {
	ID             int64
	Direction      string
	Created        time.Time
	DestinationURI string
	FromHeader     string
	CallID         string
	LocalSocket    string
	RemoteSocket   string
	BridgeID       string

	ProgressAt     *time.Time
	ProgressStatus *int
	ProgressReason *string

	RingDuration *time.Duration

	AnsweredAt     *time.Time
	AnsweredStatus *int
	AnsweredReason *string

	Duration *time.Duration

	HungupAt     *time.Time
	HungupReason *string
}

// SIPCall is one leg of a bridged dialog (spec.md §3 SIPCall).
type SIPCall struct {
	ID              int64
	CDRID           int64
	LocalTag        string
	RemoteTag       string
	CallID          string
	CSeq            int
	BridgeID        string
	RemoteTarget    string
	LocalUserField  string
	RemoteUserField string
	RouteSet        string
	Direction       string
	RemoteSocket    string
}

// SignalType enumerates the WebRTC relay message kinds (spec.md §3
// WebRTCSignal).
type SignalType string

const (
	SignalSDP SignalType = "sdp"
	SignalICE SignalType = "ice"
)

// WebRTCSignal is a single queued relay message.
type WebRTCSignal struct {
	ID          int64
	From        string
	To          string
	SignalType  SignalType
	Body        string
	Inserted    time.Time
	DeliveredAt *time.Time
}
