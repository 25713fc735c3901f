// Package storage is the opaque durable map named in spec.md §1/§3: it
// persists every schema owned by the SIP core (domains, accounts, registrar
// bindings, the dialplan singleton, CDRs, bridged-dialog legs and the
// WebRTC relay mailbox) behind a small hand-written SQL layer, grounded on
// the teacher's internal/huntgroup.Manager + database.DatabaseManager
// pattern: a thin interface over database/sql rather than a generated ORM
// (the generated data-access layer itself is the piece spec.md places out
// of scope, not the schemas).
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps database/sql with the Exec/Query helpers the storage
// implementations are written against, matching the teacher's
// database.DatabaseManager surface.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema in §3.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, like the teacher's single-file deployment
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Exec runs a statement that returns no rows.
func (d *DB) Exec(query string, args ...interface{}) error {
	_, err := d.conn.Exec(query, args...)
	return err
}

// ExecWithResult runs a statement and returns its sql.Result (for
// LastInsertId on inserts).
func (d *DB) ExecWithResult(query string, args ...interface{}) (sql.Result, error) {
	return d.conn.Exec(query, args...)
}

// QueryRow runs a single-row query, scanning into dest.
func (d *DB) QueryRow(query string, dest []interface{}, args ...interface{}) error {
	return d.conn.QueryRow(query, args...).Scan(dest...)
}

// Query runs a multi-row query and returns the raw rows for the caller to
// scan and close.
func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn.Query(query, args...)
}

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			aliases TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			ha1_digest TEXT NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT 0,
			inserted DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(username, domain_id)
		)`,
		`CREATE TABLE IF NOT EXISTS registrar_bindings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			contact_uri TEXT NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			expiry INTEGER NOT NULL,
			expiry_time DATETIME NOT NULL,
			remote_socket TEXT NOT NULL DEFAULT '',
			proxy_socket TEXT NOT NULL DEFAULT '',
			registrar_socket TEXT NOT NULL DEFAULT '',
			call_id TEXT NOT NULL DEFAULT '',
			cseq INTEGER NOT NULL DEFAULT 0,
			last_update DATETIME NOT NULL,
			UNIQUE(account_id, contact_uri)
		)`,
		`CREATE TABLE IF NOT EXISTS dialplans (
			name TEXT PRIMARY KEY,
			script_source TEXT NOT NULL,
			last_update DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cdrs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			direction TEXT NOT NULL,
			created DATETIME NOT NULL,
			destination_uri TEXT NOT NULL DEFAULT '',
			from_header TEXT NOT NULL DEFAULT '',
			call_id TEXT NOT NULL,
			local_socket TEXT NOT NULL DEFAULT '',
			remote_socket TEXT NOT NULL DEFAULT '',
			bridge_id TEXT NOT NULL DEFAULT '',
			progress_at DATETIME,
			progress_status INTEGER,
			progress_reason TEXT,
			ring_duration_ms INTEGER,
			answered_at DATETIME,
			answered_status INTEGER,
			answered_reason TEXT,
			duration_ms INTEGER,
			hungup_at DATETIME,
			hungup_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sip_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cdr_id INTEGER NOT NULL,
			local_tag TEXT NOT NULL,
			remote_tag TEXT NOT NULL DEFAULT '',
			call_id TEXT NOT NULL,
			cseq INTEGER NOT NULL DEFAULT 0,
			bridge_id TEXT NOT NULL,
			remote_target TEXT NOT NULL DEFAULT '',
			local_user_field TEXT NOT NULL DEFAULT '',
			remote_user_field TEXT NOT NULL DEFAULT '',
			route_set TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			remote_socket TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS webrtc_signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_peer TEXT NOT NULL,
			to_peer TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			body TEXT NOT NULL,
			inserted DATETIME NOT NULL,
			delivered_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_account ON registrar_bindings(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_expiry ON registrar_bindings(expiry_time)`,
		`CREATE INDEX IF NOT EXISTS idx_sip_calls_bridge ON sip_calls(bridge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webrtc_pair ON webrtc_signals(from_peer, to_peer, delivered_at)`,
	}
	for _, s := range stmts {
		if _, err := d.conn.Exec(s); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
