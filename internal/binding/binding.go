// Package binding implements the Binding Manager (spec.md §4.3): the
// durable (account, contact-URI) → expiry store, its update-arbitration
// rules, and the background expiry sweep.
package binding

import (
	"context"
	"time"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/sipcore"
	"github.com/zurustar/signalrtc/internal/storage"
)

const (
	// MinExpiry is the minimum honored binding TTL; requests below it are
	// rejected with 423 Interval Too Brief (spec.md §4.3).
	MinExpiry = 60
	// MaxExpiry bounds the honored binding TTL.
	MaxExpiry = 3600
	// MaxBindingsPerAccount bounds live bindings; the oldest by LastUpdate
	// is evicted on overflow (spec.md §3).
	MaxBindingsPerAccount = 10

	sweepInterval = 10 * time.Second
)

// Contact is one Contact header value parsed out of a REGISTER, carrying the
// per-contact expiry the Registrar Core already resolved (spec.md §4.3
// expiry policy: contact param, else request Expires header).
type Contact struct {
	URI    string
	Expiry int
}

// Manager is the Binding Manager.
type Manager struct {
	store  *storage.DB
	logger logging.Logger
}

// New builds a Manager over store.
func New(store *storage.DB, logger logging.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// ClampExpiry clamps a requested expiry into [MinExpiry, MaxExpiry]. Callers
// should still reject anything in (0, MinExpiry) with a 423 before calling
// Update (spec.md §4.3); this floor is a second line of defense so a
// too-brief binding that slips past that check is never actually stored
// below MinExpiry. 0 (unregister) passes through untouched.
func ClampExpiry(requested int) int {
	if requested == 0 {
		return 0
	}
	if requested > MaxExpiry {
		return MaxExpiry
	}
	if requested < MinExpiry {
		return MinExpiry
	}
	return requested
}

// Update applies one REGISTER's contact set to an account's bindings,
// evicting the oldest binding on overflow. It returns the account's full
// binding set after the update, per spec.md §4.3.
func (m *Manager) Update(accountID int64, contacts []Contact, callID string, cseq int, userAgent, remoteEP, proxyEP, registrarEP string) ([]*storage.Binding, error) {
	now := time.Now()

	for _, c := range contacts {
		existing, err := m.store.GetBindingByAccountAndContact(accountID, c.URI)
		if err != nil {
			return nil, sipcore.Wrap(err, "binding lookup")
		}

		if c.Expiry == 0 {
			if existing != nil {
				if err := m.store.DeleteBinding(existing.ID); err != nil {
					return nil, sipcore.Wrap(err, "binding delete")
				}
			}
			continue
		}

		b := existing
		if b == nil {
			b = &storage.Binding{AccountID: accountID, ContactURI: c.URI}
		}
		b.UserAgent = userAgent
		b.Expiry = c.Expiry
		b.LastUpdate = now
		b.ExpiryTime = now.Add(time.Duration(c.Expiry) * time.Second)
		b.RemoteSocket = remoteEP
		b.ProxySocket = proxyEP
		b.RegistrarSocket = registrarEP
		b.CallID = callID
		b.CSeq = cseq

		if err := m.store.UpsertBinding(b); err != nil {
			return nil, sipcore.Wrap(err, "binding upsert")
		}
	}

	if err := m.evictOverflow(accountID); err != nil {
		return nil, err
	}
	return m.store.GetBindingsForAccount(accountID)
}

// evictOverflow removes the oldest bindings past MaxBindingsPerAccount.
// GetBindingsForAccount returns oldest-first, so the overflow is always a
// prefix of the slice.
func (m *Manager) evictOverflow(accountID int64) error {
	bindings, err := m.store.GetBindingsForAccount(accountID)
	if err != nil {
		return sipcore.Wrap(err, "binding list for eviction")
	}
	if len(bindings) <= MaxBindingsPerAccount {
		return nil
	}
	overflow := len(bindings) - MaxBindingsPerAccount
	for _, b := range bindings[:overflow] {
		if err := m.store.DeleteBinding(b.ID); err != nil {
			return sipcore.Wrap(err, "binding eviction")
		}
		m.logger.Info("evicted oldest binding on overflow",
			logging.Int("account_id", int(accountID)), logging.String("contact_uri", b.ContactURI))
	}
	return nil
}

// GetForAccount returns an account's live bindings, oldest first.
func (m *Manager) GetForAccount(accountID int64) ([]*storage.Binding, error) {
	bindings, err := m.store.GetBindingsForAccount(accountID)
	if err != nil {
		return nil, sipcore.Wrap(err, "binding list")
	}
	return bindings, nil
}

// RunSweep runs the background expiry sweep until ctx is cancelled, matching
// the "every few seconds, delete expired bindings" loop of spec.md §4.3.
func (m *Manager) RunSweep(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.store.DeleteExpiredBindings(time.Now())
			if err != nil {
				m.logger.Error("binding sweep failed", logging.Err(err))
				continue
			}
			if n > 0 {
				m.logger.Debug("swept expired bindings", logging.Int("count", int(n)))
			}
		}
	}
}
