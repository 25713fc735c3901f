package storage

import (
	"database/sql"
	"fmt"
)

// CreateSIPCall inserts one bridged-dialog leg (spec.md §3 SIPCall).
func (d *DB) CreateSIPCall(c *SIPCall) error {
	res, err := d.ExecWithResult(
		`INSERT INTO sip_calls (cdr_id, local_tag, remote_tag, call_id, cseq, bridge_id,
		  remote_target, local_user_field, remote_user_field, route_set, direction, remote_socket)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CDRID, c.LocalTag, c.RemoteTag, c.CallID, c.CSeq, c.BridgeID,
		c.RemoteTarget, c.LocalUserField, c.RemoteUserField, c.RouteSet, c.Direction, c.RemoteSocket,
	)
	if err != nil {
		return fmt.Errorf("failed to create sip call leg: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read sip call id: %w", err)
	}
	c.ID = id
	return nil
}

// GetSIPCallsByBridge returns the (at most two) legs sharing a bridgeId.
func (d *DB) GetSIPCallsByBridge(bridgeID string) ([]*SIPCall, error) {
	rows, err := d.Query(
		`SELECT id, cdr_id, local_tag, remote_tag, call_id, cseq, bridge_id,
		        remote_target, local_user_field, remote_user_field, route_set, direction, remote_socket
		 FROM sip_calls WHERE bridge_id = ?`,
		bridgeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bridge legs: %w", err)
	}
	defer rows.Close()

	var out []*SIPCall
	for rows.Next() {
		var c SIPCall
		if err := rows.Scan(&c.ID, &c.CDRID, &c.LocalTag, &c.RemoteTag, &c.CallID, &c.CSeq, &c.BridgeID,
			&c.RemoteTarget, &c.LocalUserField, &c.RemoteUserField, &c.RouteSet, &c.Direction, &c.RemoteSocket); err != nil {
			return nil, fmt.Errorf("failed to scan sip call: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetSIPCallByDialog finds the leg owning (callId, localTag, remoteTag), the
// lookup key the Call Manager uses to route in-dialog requests.
func (d *DB) GetSIPCallByDialog(callID, localTag, remoteTag string) (*SIPCall, error) {
	var c SIPCall
	err := d.QueryRow(
		`SELECT id, cdr_id, local_tag, remote_tag, call_id, cseq, bridge_id,
		        remote_target, local_user_field, remote_user_field, route_set, direction, remote_socket
		 FROM sip_calls WHERE call_id = ? AND local_tag = ? AND remote_tag = ?`,
		[]interface{}{&c.ID, &c.CDRID, &c.LocalTag, &c.RemoteTag, &c.CallID, &c.CSeq, &c.BridgeID,
			&c.RemoteTarget, &c.LocalUserField, &c.RemoteUserField, &c.RouteSet, &c.Direction, &c.RemoteSocket},
		callID, localTag, remoteTag,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up dialog leg: %w", err)
	}
	return &c, nil
}

// UpdateSIPCallCSeq stamps the CSeq number last used on a leg's dialog, so
// the next forwarded in-dialog request increments from the right value.
func (d *DB) UpdateSIPCallCSeq(id int64, cseq int) error {
	if err := d.Exec(`UPDATE sip_calls SET cseq = ? WHERE id = ?`, cseq, id); err != nil {
		return fmt.Errorf("failed to update sip call cseq: %w", err)
	}
	return nil
}

// DeleteSIPCallsByBridge destroys both legs of a bridge once either
// terminates.
func (d *DB) DeleteSIPCallsByBridge(bridgeID string) error {
	if err := d.Exec(`DELETE FROM sip_calls WHERE bridge_id = ?`, bridgeID); err != nil {
		return fmt.Errorf("failed to delete bridge legs: %w", err)
	}
	return nil
}
