package registrar

import (
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/zurustar/signalrtc/internal/binding"
)

func TestContactExpiresParamParsesValue(t *testing.T) {
	v, ok := contactExpiresParam(`<sip:100@1.2.3.4:5060>;expires=120`)
	if !ok || v != 120 {
		t.Fatalf("contactExpiresParam = %d, %v, want 120, true", v, ok)
	}
}

func TestContactExpiresParamAbsent(t *testing.T) {
	_, ok := contactExpiresParam(`<sip:100@1.2.3.4:5060>`)
	if ok {
		t.Fatalf("expected no expires param")
	}
}

func TestContactExpiresParamStopsAtNextParam(t *testing.T) {
	v, ok := contactExpiresParam(`<sip:100@1.2.3.4:5060>;expires=45;q=0.5`)
	if !ok || v != 45 {
		t.Fatalf("contactExpiresParam = %d, %v, want 45, true", v, ok)
	}
}

func TestExtractContactURIBracketedForm(t *testing.T) {
	got := extractContactURI(`<sip:100@1.2.3.4:5060>;expires=120`)
	if got != "sip:100@1.2.3.4:5060" {
		t.Fatalf("extractContactURI = %q, want sip:100@1.2.3.4:5060", got)
	}
}

func TestExtractContactURIBareForm(t *testing.T) {
	got := extractContactURI(`sip:100@1.2.3.4:5060;expires=120`)
	if got != "sip:100@1.2.3.4:5060" {
		t.Fatalf("extractContactURI = %q, want sip:100@1.2.3.4:5060", got)
	}
}

func TestExtractContactURINoParams(t *testing.T) {
	got := extractContactURI(`sip:100@1.2.3.4:5060`)
	if got != "sip:100@1.2.3.4:5060" {
		t.Fatalf("extractContactURI = %q, want sip:100@1.2.3.4:5060", got)
	}
}

func TestForceShortExpiryContactUsesMinExpiry(t *testing.T) {
	got := forceShortExpiryContact([]binding.Contact{{URI: "sip:100@1.2.3.4:5060", Expiry: 3600}})
	want := "<sip:100@1.2.3.4:5060>;expires=60"
	if got != want {
		t.Fatalf("forceShortExpiryContact = %q, want %q", got, want)
	}
}

func TestForceShortExpiryContactEmpty(t *testing.T) {
	if got := forceShortExpiryContact(nil); got != "" {
		t.Fatalf("forceShortExpiryContact(nil) = %q, want empty", got)
	}
}

func newRegisterWithContacts(t *testing.T, contactHeaders ...string) *sip.Request {
	t.Helper()
	var ruri sip.Uri
	if err := sip.ParseUri("sip:example.com", &ruri); err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	req := sip.NewRequest(sip.REGISTER, ruri)
	for _, h := range contactHeaders {
		req.AppendHeader(sip.NewHeader("Contact", h))
	}
	return req
}

func TestAnyContactTooBriefFlagsAnyOutOfMultiple(t *testing.T) {
	req := newRegisterWithContacts(t,
		"<sip:100@1.2.3.4:5060>;expires=30",
		"<sip:100@5.6.7.8:5060>;expires=3600",
	)
	tooBrief, hasContact := anyContactTooBrief(req)
	if !hasContact {
		t.Fatalf("expected hasContact true")
	}
	if !tooBrief {
		t.Fatalf("expected a multi-Contact REGISTER with one sub-minimum expires to be rejected")
	}
}

func TestAnyContactTooBriefAllValid(t *testing.T) {
	req := newRegisterWithContacts(t,
		"<sip:100@1.2.3.4:5060>;expires=3600",
		"<sip:100@5.6.7.8:5060>;expires=120",
	)
	tooBrief, hasContact := anyContactTooBrief(req)
	if !hasContact {
		t.Fatalf("expected hasContact true")
	}
	if tooBrief {
		t.Fatalf("expected no rejection when every contact meets the minimum")
	}
}

func TestAnyContactTooBriefNoContactHeader(t *testing.T) {
	req := newRegisterWithContacts(t)
	if _, hasContact := anyContactTooBrief(req); hasContact {
		t.Fatalf("expected hasContact false for a bindings query with no Contact header")
	}
}

func TestAnyContactTooBriefUnregisterIsNotTooBrief(t *testing.T) {
	req := newRegisterWithContacts(t, "<sip:100@1.2.3.4:5060>;expires=0")
	tooBrief, hasContact := anyContactTooBrief(req)
	if !hasContact {
		t.Fatalf("expected hasContact true")
	}
	if tooBrief {
		t.Fatalf("expires=0 (unregister) must not be rejected as too brief")
	}
}
