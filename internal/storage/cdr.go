package storage

import (
	"fmt"
	"time"
)

// CreateCDR inserts a new call detail record when a UAS/UAC transaction
// begins (spec.md §3 CDR).
func (d *DB) CreateCDR(c *CDR) error {
	res, err := d.ExecWithResult(
		`INSERT INTO cdrs (direction, created, destination_uri, from_header, call_id,
		  local_socket, remote_socket, bridge_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Direction, c.Created, c.DestinationURI, c.FromHeader, c.CallID,
		c.LocalSocket, c.RemoteSocket, c.BridgeID,
	)
	if err != nil {
		return fmt.Errorf("failed to create CDR: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read CDR id: %w", err)
	}
	c.ID = id
	return nil
}

// UpdateCDRProgress records a provisional response event.
func (d *DB) UpdateCDRProgress(id int64, c *CDR) error {
	return d.Exec(
		`UPDATE cdrs SET progress_at=?, progress_status=?, progress_reason=? WHERE id=?`,
		c.ProgressAt, c.ProgressStatus, c.ProgressReason, id,
	)
}

// UpdateCDRAnswered records the answering final response and ring duration.
func (d *DB) UpdateCDRAnswered(id int64, c *CDR) error {
	return d.Exec(
		`UPDATE cdrs SET answered_at=?, answered_status=?, answered_reason=?, ring_duration_ms=? WHERE id=?`,
		c.AnsweredAt, c.AnsweredStatus, c.AnsweredReason, durationMillis(c.RingDuration), id,
	)
}

// UpdateCDRHungup finalises a CDR when either bridged leg terminates.
func (d *DB) UpdateCDRHungup(id int64, c *CDR) error {
	return d.Exec(
		`UPDATE cdrs SET hungup_at=?, hungup_reason=?, duration_ms=? WHERE id=?`,
		c.HungupAt, c.HungupReason, durationMillis(c.Duration), id,
	)
}

func durationMillis(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return d.Milliseconds()
}
