// Package domainregistry implements the Domain Registry (spec.md §4.2): a
// read-only, write-once-at-startup resolver from a request host to the
// canonical owned domain name.
package domainregistry

import (
	"fmt"
	"strings"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

// entry pairs a domain's id with its canonical name, for fast id lookup
// once canonicalise has resolved a host.
type entry struct {
	id      int64
	name    string
	aliases []string
}

// Registry is immutable after Load; reads never take a lock.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// Load reads every domain row once at startup. It fails service init if the
// store is empty, per spec.md §4.2.
func Load(store *storage.DB, logger logging.Logger) (*Registry, error) {
	domains, err := store.ListDomains()
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("domain registry: no domains configured")
	}

	r := &Registry{byName: make(map[string]int, len(domains))}
	seenAlias := make(map[string]string)
	for _, d := range domains {
		idx := len(r.entries)
		r.entries = append(r.entries, entry{id: d.ID, name: d.Name, aliases: d.Aliases})
		r.byName[strings.ToLower(d.Name)] = idx

		for _, alias := range d.Aliases {
			key := strings.ToLower(strings.TrimSpace(alias))
			if key == "" {
				continue
			}
			if owner, exists := seenAlias[key]; exists && owner != d.Name {
				logger.Warn("duplicate domain alias ignored",
					logging.String("alias", alias), logging.String("owner", owner), logging.String("rejected_for", d.Name))
				continue
			}
			seenAlias[key] = d.Name
		}
	}
	return r, nil
}

// Canonicalise resolves host to the owned domain name, case-insensitively:
// direct name match first, then a linear alias scan (spec.md §4.2). Returns
// ("", false) if no domain owns host.
func (r *Registry) Canonicalise(host string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(host))
	if idx, ok := r.byName[key]; ok {
		return r.entries[idx].name, true
	}
	for _, e := range r.entries {
		for _, alias := range e.aliases {
			if strings.ToLower(strings.TrimSpace(alias)) == key {
				return e.name, true
			}
		}
	}
	return "", false
}

// DomainID returns the id of a canonical domain name, for account lookups
// keyed by domain_id.
func (r *Registry) DomainID(name string) (int64, bool) {
	if idx, ok := r.byName[strings.ToLower(name)]; ok {
		return r.entries[idx].id, true
	}
	return 0, false
}
