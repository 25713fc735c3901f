package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertWebRTCSignal appends a new mailbox message (spec.md §3 WebRTCSignal,
// §4.12).
func (d *DB) InsertWebRTCSignal(s *WebRTCSignal) error {
	res, err := d.ExecWithResult(
		`INSERT INTO webrtc_signals (from_peer, to_peer, signal_type, body, inserted, delivered_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		s.From, s.To, string(s.SignalType), s.Body, s.Inserted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webrtc signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read webrtc signal id: %w", err)
	}
	s.ID = id
	return nil
}

// PurgeWebRTCSignalsForPair deletes every queued message for either
// direction of (a, b) — invoked when a fresh SDP offer purges stale state
// (spec.md §4.12, §8 scenario 6).
func (d *DB) PurgeWebRTCSignalsForPair(a, b string) error {
	if err := d.Exec(
		`DELETE FROM webrtc_signals WHERE (from_peer = ? AND to_peer = ?) OR (from_peer = ? AND to_peer = ?)`,
		a, b, b, a,
	); err != nil {
		return fmt.Errorf("failed to purge webrtc signals: %w", err)
	}
	return nil
}

// NextUndeliveredWebRTCSignal returns the oldest undelivered message from
// `from` to `to` matching signalType (empty string matches any), or nil if
// none is queued.
func (d *DB) NextUndeliveredWebRTCSignal(to, from string, signalType string) (*WebRTCSignal, error) {
	query := `SELECT id, from_peer, to_peer, signal_type, body, inserted, delivered_at
	          FROM webrtc_signals
	          WHERE to_peer = ? AND from_peer = ? AND delivered_at IS NULL`
	args := []interface{}{to, from}
	if signalType != "" {
		query += ` AND signal_type = ?`
		args = append(args, signalType)
	}
	query += ` ORDER BY inserted ASC LIMIT 1`

	var s WebRTCSignal
	var st string
	err := d.QueryRow(query, []interface{}{&s.ID, &s.From, &s.To, &st, &s.Body, &s.Inserted, &s.DeliveredAt}, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query webrtc signal: %w", err)
	}
	s.SignalType = SignalType(st)
	return &s, nil
}

// MarkWebRTCSignalDelivered stamps deliveredAt so a message is returned at
// most once.
func (d *DB) MarkWebRTCSignalDelivered(id int64, now time.Time) error {
	if err := d.Exec(`UPDATE webrtc_signals SET delivered_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("failed to mark webrtc signal delivered: %w", err)
	}
	return nil
}
