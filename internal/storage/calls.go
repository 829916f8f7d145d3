package storage

import "time"

// CallEntry is one row of the call log. Display only.
type CallEntry struct {
	ID          string     `json:"id"`
	PartnerID   string     `json:"partner_id"`
	PartnerName string     `json:"partner_name"`
	Direction   string     `json:"direction"`
	Type        string     `json:"type"`
	Outcome     string     `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     time.Time  `json:"ended_at"`
}

// Call directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// AppendCall records an ended call. Times are stored as unix milliseconds.
func (d *DB) AppendCall(e CallEntry) error {
	var connected int64
	if e.ConnectedAt != nil {
		connected = e.ConnectedAt.UnixMilli()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO _call_log
			(id, partner_id, partner_name, direction, call_type, outcome, reason, started_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PartnerID, e.PartnerName, e.Direction, e.Type, e.Outcome, e.Reason,
		e.StartedAt.UnixMilli(), connected, e.EndedAt.UnixMilli(),
	)
	return err
}

// ListCalls returns the most recent calls first. limit <= 0 means all.
func (d *DB) ListCalls(limit int) ([]CallEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, partner_id, partner_name, direction, call_type, outcome, reason,
		       started_at, connected_at, ended_at
		FROM _call_log ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallEntry
	for rows.Next() {
		var e CallEntry
		var started, connected, ended int64
		if err := rows.Scan(&e.ID, &e.PartnerID, &e.PartnerName, &e.Direction, &e.Type,
			&e.Outcome, &e.Reason, &started, &connected, &ended); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(started)
		e.EndedAt = time.UnixMilli(ended)
		if connected != 0 {
			at := time.UnixMilli(connected)
			e.ConnectedAt = &at
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
