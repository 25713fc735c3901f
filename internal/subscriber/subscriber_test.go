package subscriber

import "testing"

func TestShouldNotifyMessageSummaryWithPositiveExpiry(t *testing.T) {
	if !shouldNotify(MWIEventPackage, 3600) {
		t.Fatalf("expected a message-summary subscribe with expiry>0 to trigger a notify")
	}
}

func TestShouldNotifySkipsZeroExpiry(t *testing.T) {
	if shouldNotify(MWIEventPackage, 0) {
		t.Fatalf("expected an unsubscribe (expires=0) to skip the notify")
	}
}

func TestShouldNotifySkipsOtherEventPackages(t *testing.T) {
	if shouldNotify("presence", 3600) {
		t.Fatalf("expected a non-message-summary event package to skip the notify")
	}
}
