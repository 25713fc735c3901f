package dispatch

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestIsInDialogTrueWhenToTagPresent(t *testing.T) {
	var ruri sip.Uri
	_ = sip.ParseUri("sip:100@example.com", &ruri)
	req := sip.NewRequest(sip.BYE, ruri)
	toParams := sip.NewParams()
	toParams.Add("tag", "abc123")
	req.AppendHeader(&sip.ToHeader{Address: ruri, Params: toParams})

	if !isInDialog(req) {
		t.Fatalf("expected a request with a To-tag to be classified in-dialog")
	}
}

func TestIsInDialogFalseWithoutToTag(t *testing.T) {
	var ruri sip.Uri
	_ = sip.ParseUri("sip:100@example.com", &ruri)
	req := sip.NewRequest(sip.INVITE, ruri)
	req.AppendHeader(&sip.ToHeader{Address: ruri, Params: sip.NewParams()})

	if isInDialog(req) {
		t.Fatalf("expected an initial request without a To-tag to be classified method-specific")
	}
}

func TestIsInDialogFalseWithNoToHeader(t *testing.T) {
	var ruri sip.Uri
	_ = sip.ParseUri("sip:100@example.com", &ruri)
	req := sip.NewRequest(sip.INVITE, ruri)

	if isInDialog(req) {
		t.Fatalf("expected a request with no To header at all to be classified method-specific")
	}
}
