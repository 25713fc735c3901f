package b2bua

import (
	"os"
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/zurustar/signalrtc/internal/auth"
	"github.com/zurustar/signalrtc/internal/domainregistry"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

func newTestStore(t *testing.T) *storage.DB {
	t.Helper()
	f, err := os.CreateTemp("", "b2bua-test-*.db")
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

func inviteFrom(fromUser, fromHost string) *sip.Request {
	var ruri sip.Uri
	_ = sip.ParseUri("sip:100@example.com", &ruri)
	req := sip.NewRequest(sip.INVITE, ruri)
	fromURI := sip.Uri{Scheme: "sip", User: fromUser, Host: fromHost}
	fromParams := sip.NewParams()
	fromParams.Add("tag", "fromtag")
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	return req
}

func TestResolveCallerExternalFromIsAnonymousCaller(t *testing.T) {
	db := newTestStore(t)
	dom := &storage.Domain{Name: "example.com"}
	if err := db.CreateDomain(dom); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	reg, err := domainregistry.Load(db, logging.NewConsole("error"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c := New(nil, reg, db, nil, nil, 1, nil, logging.NewConsole("error"))
	req := inviteFrom("alice", "unknown-carrier.net")

	acct, ok := c.resolveCaller(req)
	if !ok {
		t.Fatalf("expected an unhosted From to be treated as a valid anonymous caller")
	}
	if acct != nil {
		t.Fatalf("expected nil account for an external caller, got %+v", acct)
	}
}

func TestResolveCallerHostedMissingAccountIsRejected(t *testing.T) {
	db := newTestStore(t)
	dom := &storage.Domain{Name: "example.com"}
	if err := db.CreateDomain(dom); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	reg, err := domainregistry.Load(db, logging.NewConsole("error"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c := New(nil, reg, db, nil, nil, 1, nil, logging.NewConsole("error"))
	req := inviteFrom("ghost", "example.com")

	_, ok := c.resolveCaller(req)
	if ok {
		t.Fatalf("expected a hosted domain with no matching account to be rejected")
	}
}

func TestResolveCallerHostedKnownAccountSucceeds(t *testing.T) {
	db := newTestStore(t)
	dom := &storage.Domain{Name: "example.com"}
	if err := db.CreateDomain(dom); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	acct := &storage.Account{DomainID: dom.ID, Username: "alice", HA1Digest: auth.HA1("alice", "example.com", "secret")}
	if err := db.CreateAccount(acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	reg, err := domainregistry.Load(db, logging.NewConsole("error"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c := New(nil, reg, db, nil, nil, 1, nil, logging.NewConsole("error"))
	req := inviteFrom("alice", "example.com")

	got, ok := c.resolveCaller(req)
	if !ok || got == nil || got.Username != "alice" {
		t.Fatalf("resolveCaller = %+v, %v, want alice account", got, ok)
	}
}
