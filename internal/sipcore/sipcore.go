// Package sipcore is the thin seam between the signalling engine and the
// external SIP parsing/transaction library named as an out-of-scope
// collaborator in spec.md §1/§6. Every other package in this module talks
// to SIP messages through the vocabulary re-exported here instead of
// importing sipgo directly, so the black-box boundary spec.md draws is
// enforced at the Go package level too.
package sipcore

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Re-exported wire vocabulary. Keeping these as aliases (not new types)
// means every helper in this package and its callers can pass sipgo values
// straight through without conversion boilerplate.
type (
	Request           = sip.Request
	Response          = sip.Response
	ServerTransaction = sip.ServerTransaction
	ClientTransaction = sip.ClientTransaction
	Uri               = sip.Uri
	FromHeader        = sip.FromHeader
	ToHeader          = sip.ToHeader
	ContactHeader     = sip.ContactHeader
	RequestMethod     = sip.RequestMethod
)

// ParseUri and NewParams are re-exported directly (not wrapped) so their
// signatures always track sipgo's exactly.
var (
	ParseUri  = sip.ParseUri
	NewParams = sip.NewParams
)

// Methods used throughout the engine (spec.md §6 SIP wire).
const (
	REGISTER  = sip.REGISTER
	INVITE    = sip.INVITE
	ACK       = sip.ACK
	BYE       = sip.BYE
	CANCEL    = sip.CANCEL
	OPTIONS   = sip.OPTIONS
	SUBSCRIBE = sip.SUBSCRIBE
	NOTIFY    = sip.NOTIFY
)

// ServerHeader is the fixed Server header value spec.md §6 requires.
const ServerHeader = "signalrtc"

// Stack owns the sipgo UserAgent/Client/Server triple and is the only place
// in this module that constructs them.
type Stack struct {
	UA     *sipgo.UserAgent
	Client *sipgo.Client
	Server *sipgo.Server
}

// NewStack builds a Stack bound to hostname/userAgent, the identity sipgo
// uses to fill in From/Contact when the engine originates requests (the
// B2BUA's UAC leg, §4.5).
func NewStack(hostname, userAgent string) (*Stack, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(userAgent), sipgo.WithUserAgentHostname(hostname))
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}
	return &Stack{UA: ua, Client: client, Server: server}, nil
}

// NewResponse builds a final response to req, stamping the fixed Server
// header (spec.md §6).
func NewResponse(req *Request, code int, reason string) *Response {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)
	res.AppendHeader(sip.NewHeader("Server", ServerHeader))
	return res
}

// NewResponseWithBody is NewResponse plus a body and Content-Type, used by
// the Registrar (current bindings) and Subscriber (NOTIFY body) cores.
func NewResponseWithBody(req *Request, code int, reason, contentType string, body []byte) *Response {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, body)
	res.AppendHeader(sip.NewHeader("Server", ServerHeader))
	if len(body) > 0 {
		res.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}
	return res
}

// SipHeader builds a generic named header, the vocabulary every core uses to
// append Min-Expires, WWW-Authenticate and Contact values to a response.
func SipHeader(name, value string) sip.Header {
	return sip.NewHeader(name, value)
}

// Do sends req as a new client transaction and blocks for its final
// response, skipping provisional (1xx) responses along the way. Used by the
// B2BUA's UAC leg (§4.5) and the Call Manager's in-dialog forwarding (§4.7).
func (s *Stack) Do(ctx context.Context, req *Request) (*Response, error) {
	tx, err := s.Client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start client transaction: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tx.Done():
			return nil, fmt.Errorf("client transaction terminated without a final response")
		case res := <-tx.Responses():
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		}
	}
}

// Write sends req as a standalone message with no transaction tracking, used
// by the Subscriber Core's fire-and-forget dummy NOTIFY (§4.8).
func (s *Stack) Write(req *Request) error {
	return s.Client.WriteRequest(req)
}

// NewContactHeader builds a Contact header pointed at addr.
func NewContactHeader(addr Uri) *ContactHeader {
	return &sip.ContactHeader{Address: addr}
}

// NewUACRequest builds an INVITE (or other method) request addressed to
// destination, stamping From identity and Contact the way the B2BUA's UAC
// leg originates calls.
func NewUACRequest(method RequestMethod, destination Uri, from *FromHeader, contact *ContactHeader, body []byte) *Request {
	req := sip.NewRequest(method, destination)
	req.AppendHeader(from)
	req.AppendHeader(contact)
	if len(body) > 0 {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	req.AppendHeader(sip.NewHeader("Server", ServerHeader))
	return req
}
