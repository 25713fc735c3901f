package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// ListDomains returns every domain row, used once at startup by the Domain
// Registry (spec.md §4.2).
func (d *DB) ListDomains() ([]*Domain, error) {
	rows, err := d.Query(`SELECT id, name, aliases FROM domains ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var out []*Domain
	for rows.Next() {
		var dom Domain
		var aliases string
		if err := rows.Scan(&dom.ID, &dom.Name, &aliases); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		if aliases != "" {
			dom.Aliases = strings.Split(aliases, ",")
		}
		out = append(out, &dom)
	}
	return out, rows.Err()
}

// CreateDomain inserts a new domain with its alias list.
func (d *DB) CreateDomain(dom *Domain) error {
	res, err := d.ExecWithResult(
		`INSERT INTO domains (name, aliases) VALUES (?, ?)`,
		dom.Name, strings.Join(dom.Aliases, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to create domain: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read domain id: %w", err)
	}
	dom.ID = id
	return nil
}

// GetAccountByUsernameAndDomain looks up a hosted account by (username,
// domainID), the unique key named in spec.md §3.
func (d *DB) GetAccountByUsernameAndDomain(username string, domainID int64) (*Account, error) {
	var a Account
	err := d.QueryRow(
		`SELECT id, domain_id, username, ha1_digest, disabled, inserted
		 FROM accounts WHERE username = ? AND domain_id = ?`,
		[]interface{}{&a.ID, &a.DomainID, &a.Username, &a.HA1Digest, &a.Disabled, &a.Inserted},
		username, domainID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &a, nil
}

// GetAccount looks up an account by its primary key.
func (d *DB) GetAccount(id int64) (*Account, error) {
	var a Account
	err := d.QueryRow(
		`SELECT id, domain_id, username, ha1_digest, disabled, inserted
		 FROM accounts WHERE id = ?`,
		[]interface{}{&a.ID, &a.DomainID, &a.Username, &a.HA1Digest, &a.Disabled, &a.Inserted},
		id,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts a new account. Callers are responsible for hashing
// the password into HA1Digest before calling this — see spec.md §9's open
// question about the bare data-access overload that skipped hashing; this
// layer never accepts a plaintext password at all, closing that hole.
func (d *DB) CreateAccount(a *Account) error {
	res, err := d.ExecWithResult(
		`INSERT INTO accounts (domain_id, username, ha1_digest, disabled, inserted)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		a.DomainID, a.Username, a.HA1Digest, a.Disabled,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read account id: %w", err)
	}
	a.ID = id
	return nil
}

// UpdateAccountHA1 rewrites an account's digest, the only supported way to
// change a password.
func (d *DB) UpdateAccountHA1(accountID int64, ha1 string) error {
	if err := d.Exec(`UPDATE accounts SET ha1_digest = ? WHERE id = ?`, ha1, accountID); err != nil {
		return fmt.Errorf("failed to update account digest: %w", err)
	}
	return nil
}
