package abuse

import (
	"net"
	"testing"
)

func TestBansAfterFiveRegisterFailures(t *testing.T) {
	f := New(nil)
	const source = "203.0.113.7:5060"

	for i := 0; i < 4; i++ {
		if reason := f.Record(source, nil, SignalRegisterFailure, false); reason != ReasonNone {
			t.Fatalf("unexpected ban after %d failures: %v", i+1, reason)
		}
	}
	reason := f.Record(source, nil, SignalRegisterFailure, false)
	if reason != ReasonExcessiveRegistrationFailures {
		t.Fatalf("expected ban on 5th failure, got %v", reason)
	}

	banReason, banned := f.IsBanned(source)
	if !banned || banReason != ReasonExcessiveRegistrationFailures {
		t.Fatalf("IsBanned() = (%v, %v), want (ExcessiveRegistrationFailures, true)", banReason, banned)
	}
}

func TestIPLiteralViolationCountsTriple(t *testing.T) {
	f := New(nil)
	const source = "198.51.100.9:5060"

	// weight 3 per hit against IP-literal request-URIs: two hits should
	// already cross the 5-failure threshold (3 + 3 = 6 >= 5).
	f.Record(source, nil, SignalRegisterFailure, true)
	reason := f.Record(source, nil, SignalRegisterFailure, true)
	if reason != ReasonExcessiveRegistrationFailures {
		t.Fatalf("expected ban after two IP-literal-weighted hits, got %v", reason)
	}
}

func TestUnbannedSourceReturnsFalse(t *testing.T) {
	f := New(nil)
	if _, banned := f.IsBanned("10.0.0.1:5060"); banned {
		t.Fatalf("expected unknown source to be unbanned")
	}
}

func TestPrivateSubnetExemptFromCounting(t *testing.T) {
	f := New(func(ip net.IP) bool { return true })
	const source = "192.168.1.5:5060"

	for i := 0; i < 10; i++ {
		f.Record(source, net.ParseIP("192.168.1.5"), SignalRegisterFailure, false)
	}
	if _, banned := f.IsBanned(source); banned {
		t.Fatalf("expected private-subnet source to never be counted, let alone banned")
	}
}
