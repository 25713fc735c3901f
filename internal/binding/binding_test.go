package binding

import (
	"os"
	"testing"
	"time"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

func newTestStore(t *testing.T) *storage.DB {
	t.Helper()
	f, err := os.CreateTemp("", "binding-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, db *storage.DB) int64 {
	t.Helper()
	if err := db.CreateDomain(&storage.Domain{Name: "example.com"}); err != nil {
		t.Fatalf("create domain: %v", err)
	}
	domains, err := db.ListDomains()
	if err != nil || len(domains) == 0 {
		t.Fatalf("list domains: %v", err)
	}
	acc := &storage.Account{DomainID: domains[0].ID, Username: "alice", HA1Digest: "x"}
	if err := db.CreateAccount(acc); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc.ID
}

func TestUpdateCreatesBindingWithExpectedExpiryTime(t *testing.T) {
	db := newTestStore(t)
	accountID := seedAccount(t, db)
	m := New(db, logging.NewConsole("error"))

	before := time.Now()
	_, err := m.Update(accountID, []Contact{{URI: "sip:alice@1.2.3.4:5060", Expiry: 3600}}, "call-1", 1, "ua", "remote", "", "")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	bindings, err := m.GetForAccount(accountID)
	if err != nil {
		t.Fatalf("GetForAccount: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(bindings))
	}
	want := before.Add(3600 * time.Second)
	if d := bindings[0].ExpiryTime.Sub(want); d > time.Second || d < -time.Second {
		t.Fatalf("expiryTime off by %v", d)
	}
}

func TestUpdateWithZeroExpiryRemovesBinding(t *testing.T) {
	db := newTestStore(t)
	accountID := seedAccount(t, db)
	m := New(db, logging.NewConsole("error"))

	if _, err := m.Update(accountID, []Contact{{URI: "sip:alice@1.2.3.4", Expiry: 3600}}, "c", 1, "", "", "", ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := m.Update(accountID, []Contact{{URI: "sip:alice@1.2.3.4", Expiry: 0}}, "c", 2, "", "", "", ""); err != nil {
		t.Fatalf("Update (remove): %v", err)
	}

	bindings, err := m.GetForAccount(accountID)
	if err != nil {
		t.Fatalf("GetForAccount: %v", err)
	}
	if len(bindings) != 0 {
		t.Fatalf("expected 0 bindings after removal, got %d", len(bindings))
	}
}

func TestOverflowEvictsOldestByLastUpdate(t *testing.T) {
	db := newTestStore(t)
	accountID := seedAccount(t, db)
	m := New(db, logging.NewConsole("error"))

	for i := 0; i < MaxBindingsPerAccount+1; i++ {
		uri := "sip:alice@10.0.0." + string(rune('1'+i))
		if _, err := m.Update(accountID, []Contact{{URI: uri, Expiry: 3600}}, "c", i, "", "", "", ""); err != nil {
			t.Fatalf("Update #%d: %v", i, err)
		}
	}

	bindings, err := m.GetForAccount(accountID)
	if err != nil {
		t.Fatalf("GetForAccount: %v", err)
	}
	if len(bindings) != MaxBindingsPerAccount {
		t.Fatalf("expected %d bindings after overflow, got %d", MaxBindingsPerAccount, len(bindings))
	}
	for _, b := range bindings {
		if b.ContactURI == "sip:alice@10.0.0.1" {
			t.Fatalf("expected the first (oldest) contact to have been evicted")
		}
	}
}

func TestClampExpiry(t *testing.T) {
	if got := ClampExpiry(100); got != 100 {
		t.Fatalf("ClampExpiry(100) = %d, want 100", got)
	}
	if got := ClampExpiry(MaxExpiry + 1000); got != MaxExpiry {
		t.Fatalf("ClampExpiry over max = %d, want %d", got, MaxExpiry)
	}
}

func TestClampExpiryFloorsSubMinimum(t *testing.T) {
	if got := ClampExpiry(30); got != MinExpiry {
		t.Fatalf("ClampExpiry(30) = %d, want %d", got, MinExpiry)
	}
}

func TestClampExpiryPassesUnregisterThrough(t *testing.T) {
	if got := ClampExpiry(0); got != 0 {
		t.Fatalf("ClampExpiry(0) = %d, want 0", got)
	}
}
