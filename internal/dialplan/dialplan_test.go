package dialplan

import (
	"os"
	"testing"
	"time"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

func newTestStore(t *testing.T) *storage.DB {
	t.Helper()
	f, err := os.CreateTemp("", "dialplan-test-*.db")
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

func TestLookupRoutesSeededDialplan(t *testing.T) {
	db := newTestStore(t)
	if err := db.SaveDialplan(`match 100 -> fwd("100@192.168.0.48")`, time.Now()); err != nil {
		t.Fatalf("SaveDialplan: %v", err)
	}
	e := New(db, logging.NewConsole("error"))
	if err := e.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	desc, err := e.Lookup("100", nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if desc == nil || desc.DestinationURI != "100@192.168.0.48" {
		t.Fatalf("Lookup(100) = %+v, want 100@192.168.0.48", desc)
	}
}

func TestLookupWithNoMatchingRuleReturnsNil(t *testing.T) {
	db := newTestStore(t)
	if err := db.SaveDialplan(`match 100 -> fwd("100@192.168.0.48")`, time.Now()); err != nil {
		t.Fatalf("SaveDialplan: %v", err)
	}
	e := New(db, logging.NewConsole("error"))
	if err := e.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	desc, err := e.Lookup("999", nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected no match, got %+v", desc)
	}
}

func TestWildcardMatchesAnyUser(t *testing.T) {
	db := newTestStore(t)
	if err := db.SaveDialplan("match _ -> fwd(\"catchall@192.168.0.48\")", time.Now()); err != nil {
		t.Fatalf("SaveDialplan: %v", err)
	}
	e := New(db, logging.NewConsole("error"))
	if err := e.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	desc, err := e.Lookup("anything", nil)
	if err != nil || desc == nil || desc.DestinationURI != "catchall@192.168.0.48" {
		t.Fatalf("Lookup(anything) = %+v, %v", desc, err)
	}
}

func TestHotReloadPicksUpNewSourceOnNextLookup(t *testing.T) {
	db := newTestStore(t)
	if err := db.SaveDialplan(`match 100 -> fwd("old@dest")`, time.Now()); err != nil {
		t.Fatalf("SaveDialplan: %v", err)
	}
	e := New(db, logging.NewConsole("error"))
	if err := e.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if err := db.SaveDialplan(`match 100 -> fwd("new@dest")`, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("SaveDialplan (update): %v", err)
	}

	desc, err := e.Lookup("100", nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if desc == nil || desc.DestinationURI != "new@dest" {
		t.Fatalf("Lookup after reload = %+v, want new@dest", desc)
	}
}

func TestCompileErrorKeepsPreviousGeneration(t *testing.T) {
	db := newTestStore(t)
	if err := db.SaveDialplan(`match 100 -> fwd("good@dest")`, time.Now()); err != nil {
		t.Fatalf("SaveDialplan: %v", err)
	}
	e := New(db, logging.NewConsole("error"))
	if err := e.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if err := db.SaveDialplan(`this is not a valid rule`, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("SaveDialplan (broken): %v", err)
	}

	desc, err := e.Lookup("100", nil)
	if err != nil {
		t.Fatalf("Lookup should not itself error on a bad compile: %v", err)
	}
	if desc == nil || desc.DestinationURI != "good@dest" {
		t.Fatalf("expected previous compile to remain in use, got %+v", desc)
	}
	if e.LastCompileError() == "" {
		t.Fatalf("expected LastCompileError to be set")
	}
}
