package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const defaultDialplanName = "default"

// GetDialplan loads the singleton dialplan record (spec.md §3 Dialplan).
func (d *DB) GetDialplan() (*Dialplan, error) {
	var dp Dialplan
	err := d.QueryRow(
		`SELECT name, script_source, last_update FROM dialplans WHERE name = ?`,
		[]interface{}{&dp.Name, &dp.ScriptSource, &dp.LastUpdate},
		defaultDialplanName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load dialplan: %w", err)
	}
	return &dp, nil
}

// SaveDialplan creates or replaces the singleton dialplan, stamping
// LastUpdate with now so the Dialplan Evaluator's recompile check fires.
func (d *DB) SaveDialplan(source string, now time.Time) error {
	err := d.Exec(
		`INSERT INTO dialplans (name, script_source, last_update) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET script_source = excluded.script_source, last_update = excluded.last_update`,
		defaultDialplanName, source, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save dialplan: %w", err)
	}
	return nil
}
