package transport

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
)

func TestRetransmitTrackerFlagsRepeatedBranchWithinWindow(t *testing.T) {
	rt := &retransmitTracker{}

	if rt.seenBefore("z9hG4bK-1") {
		t.Fatalf("first sighting of a branch should not be a retransmit")
	}
	if !rt.seenBefore("z9hG4bK-1") {
		t.Fatalf("second sighting of the same branch within the window should be a retransmit")
	}
}

func TestRetransmitTrackerIgnoresEmptyBranch(t *testing.T) {
	rt := &retransmitTracker{}
	if rt.seenBefore("") {
		t.Fatalf("an empty branch should never be flagged")
	}
	if rt.seenBefore("") {
		t.Fatalf("an empty branch should never be flagged")
	}
}

func TestRetransmitTrackerDistinctBranchesDoNotCollide(t *testing.T) {
	rt := &retransmitTracker{}
	if rt.seenBefore("branch-a") {
		t.Fatalf("first sighting of branch-a should not be a retransmit")
	}
	if rt.seenBefore("branch-b") {
		t.Fatalf("first sighting of branch-b should not be a retransmit")
	}
}

func TestRetransmitTrackerPruneEvictsStaleBranches(t *testing.T) {
	rt := &retransmitTracker{}
	rt.seen.Store("stale", time.Now().Add(-2*retransmitWindow))
	rt.seen.Store("fresh", time.Now())

	rt.prune(time.Now())

	if _, ok := rt.seen.Load("stale"); ok {
		t.Fatalf("expected stale branch to be evicted")
	}
	if _, ok := rt.seen.Load("fresh"); !ok {
		t.Fatalf("expected fresh branch to survive prune")
	}
}

func TestBranchOfReadsViaParam(t *testing.T) {
	var ruri sip.Uri
	if err := sip.ParseUri("sip:100@example.com", &ruri); err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	req := sip.NewRequest(sip.INVITE, ruri)
	via := &sip.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: "UDP", Host: "192.168.0.1", Port: 5060, Params: sip.NewParams()}
	via.Params["branch"] = "z9hG4bK-test"
	req.AppendHeader(via)

	if got := branchOf(req); got != "z9hG4bK-test" {
		t.Fatalf("expected branch z9hG4bK-test, got %q", got)
	}
}

func TestBranchOfReturnsEmptyWithoutVia(t *testing.T) {
	var ruri sip.Uri
	if err := sip.ParseUri("sip:100@example.com", &ruri); err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	req := sip.NewRequest(sip.INVITE, ruri)
	if got := branchOf(req); got != "" {
		t.Fatalf("expected empty branch, got %q", got)
	}
}
