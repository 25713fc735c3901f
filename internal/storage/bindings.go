package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetBindingByAccountAndContact looks up a binding matching (account,
// contactUri), the update-arbitration key in spec.md §4.3.
func (d *DB) GetBindingByAccountAndContact(accountID int64, contactURI string) (*Binding, error) {
	var b Binding
	err := d.QueryRow(
		`SELECT id, account_id, contact_uri, user_agent, expiry, expiry_time,
		        remote_socket, proxy_socket, registrar_socket, call_id, cseq, last_update
		 FROM registrar_bindings WHERE account_id = ? AND contact_uri = ?`,
		[]interface{}{&b.ID, &b.AccountID, &b.ContactURI, &b.UserAgent, &b.Expiry, &b.ExpiryTime,
			&b.RemoteSocket, &b.ProxySocket, &b.RegistrarSocket, &b.CallID, &b.CSeq, &b.LastUpdate},
		accountID, contactURI,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up binding: %w", err)
	}
	return &b, nil
}

// GetBindingsForAccount returns every binding owned by an account, oldest
// first by last_update — the order the Binding Manager evicts from.
func (d *DB) GetBindingsForAccount(accountID int64) ([]*Binding, error) {
	rows, err := d.Query(
		`SELECT id, account_id, contact_uri, user_agent, expiry, expiry_time,
		        remote_socket, proxy_socket, registrar_socket, call_id, cseq, last_update
		 FROM registrar_bindings WHERE account_id = ? ORDER BY last_update ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var out []*Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.AccountID, &b.ContactURI, &b.UserAgent, &b.Expiry, &b.ExpiryTime,
			&b.RemoteSocket, &b.ProxySocket, &b.RegistrarSocket, &b.CallID, &b.CSeq, &b.LastUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// UpsertBinding inserts a new binding or refreshes an existing one (matched
// by ID when set).
func (d *DB) UpsertBinding(b *Binding) error {
	if b.ID != 0 {
		err := d.Exec(
			`UPDATE registrar_bindings SET user_agent=?, expiry=?, expiry_time=?,
			 remote_socket=?, proxy_socket=?, registrar_socket=?, call_id=?, cseq=?, last_update=?
			 WHERE id=?`,
			b.UserAgent, b.Expiry, b.ExpiryTime, b.RemoteSocket, b.ProxySocket, b.RegistrarSocket,
			b.CallID, b.CSeq, b.LastUpdate, b.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh binding: %w", err)
		}
		return nil
	}

	res, err := d.ExecWithResult(
		`INSERT INTO registrar_bindings
		 (account_id, contact_uri, user_agent, expiry, expiry_time, remote_socket, proxy_socket,
		  registrar_socket, call_id, cseq, last_update)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.AccountID, b.ContactURI, b.UserAgent, b.Expiry, b.ExpiryTime, b.RemoteSocket, b.ProxySocket,
		b.RegistrarSocket, b.CallID, b.CSeq, b.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert binding: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read binding id: %w", err)
	}
	b.ID = id
	return nil
}

// DeleteBinding removes a single binding by ID.
func (d *DB) DeleteBinding(id int64) error {
	if err := d.Exec(`DELETE FROM registrar_bindings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return nil
}

// DeleteExpiredBindings removes every binding whose expiry_time has
// elapsed, used by the background sweep loop (spec.md §4.3).
func (d *DB) DeleteExpiredBindings(now time.Time) (int64, error) {
	res, err := d.ExecWithResult(`DELETE FROM registrar_bindings WHERE expiry_time <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired bindings: %w", err)
	}
	return res.RowsAffected()
}
