package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	commonstorage "printmaster/telemetry/common/storage"
)

const snapshotColumns = `id, device_id, tray, available, printed, change_detected, recorded_at, refill_id`

const refillColumns = `id, device_id, tray, units_loaded, before_units, after_units, printed_from_old, method, recorded_at`

// LatestSnapshot returns the newest snapshot of a tray, or nil when the tray
// has never been read.
func (q *queries) LatestSnapshot(ctx context.Context, deviceID int64, tray int) (*commonstorage.TraySnapshot, error) {
	rows, err := q.queryContext(ctx,
		`SELECT `+snapshotColumns+` FROM tray_snapshots WHERE device_id = ? AND tray = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		deviceID, tray,
	)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0], nil
}

// InsertSnapshot appends a tray snapshot and sets its ID.
func (q *queries) InsertSnapshot(ctx context.Context, s *commonstorage.TraySnapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot required")
	}
	var refill interface{}
	if s.RefillID != nil {
		refill = *s.RefillID
	}
	query := `
		INSERT INTO tray_snapshots (device_id, tray, available, printed, change_detected, recorded_at, refill_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	` + q.dialect.ReturningClause("id")
	err := q.queryRowContext(ctx, query,
		s.DeviceID, s.Tray, s.Available, s.Printed, s.ChangeDetected, s.Timestamp.UTC(), refill,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert snapshot for device %d tray %d: %w", s.DeviceID, s.Tray, err)
	}
	return nil
}

// ListSnapshots returns a tray's snapshots oldest first. A zero tray lists
// every tray of the device.
func (q *queries) ListSnapshots(ctx context.Context, deviceID int64, tray int) ([]*commonstorage.TraySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM tray_snapshots WHERE device_id = ?`
	args := []interface{}{deviceID}
	if tray > 0 {
		query += ` AND tray = ?`
		args = append(args, tray)
	}
	rows, err := q.queryContext(ctx, query+` ORDER BY recorded_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

// InsertRefill records a consumable replacement and sets its ID.
func (q *queries) InsertRefill(ctx context.Context, r *commonstorage.RefillRecord) error {
	if r == nil {
		return fmt.Errorf("refill required")
	}
	query := `
		INSERT INTO refills (device_id, tray, units_loaded, before_units, after_units, printed_from_old, method, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	` + q.dialect.ReturningClause("id")
	err := q.queryRowContext(ctx, query,
		r.DeviceID, r.Tray, r.UnitsLoaded, r.Before, r.After, r.PrintedFromOld, r.Method, r.Timestamp.UTC(),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert refill for device %d tray %d: %w", r.DeviceID, r.Tray, err)
	}
	return nil
}

// ListRefills returns a device's refills oldest first.
func (q *queries) ListRefills(ctx context.Context, deviceID int64) ([]*commonstorage.RefillRecord, error) {
	rows, err := q.queryContext(ctx,
		`SELECT `+refillColumns+` FROM refills WHERE device_id = ? ORDER BY recorded_at, id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list refills: %w", err)
	}
	defer rows.Close()
	var out []*commonstorage.RefillRecord
	for rows.Next() {
		var r commonstorage.RefillRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Tray, &r.UnitsLoaded, &r.Before, &r.After,
			&r.PrintedFromOld, &r.Method, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan refill: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CompactSnapshots thins snapshots recorded before the cutoff to one per
// device, tray and UTC day, keeping the earliest. The newest snapshot of
// every tray always survives since it is the baseline for the next
// reading. It returns the number removed.
func (q *queries) CompactSnapshots(ctx context.Context, before time.Time) (int64, error) {
	latest, err := q.latestSnapshotIDs(ctx, before)
	if err != nil {
		return 0, err
	}

	rows, err := q.queryContext(ctx,
		`SELECT `+snapshotColumns+` FROM tray_snapshots WHERE recorded_at < ? ORDER BY device_id, tray, recorded_at, id`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("select snapshots to compact: %w", err)
	}
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return 0, err
	}

	type dayKey struct {
		device int64
		tray   int
		day    string
	}
	seen := make(map[dayKey]bool)
	var doomed []int64
	for _, s := range snaps {
		if latest[s.ID] {
			continue
		}
		k := dayKey{s.DeviceID, s.Tray, s.Timestamp.UTC().Format("2006-01-02")}
		if seen[k] {
			doomed = append(doomed, s.ID)
			continue
		}
		seen[k] = true
	}

	var removed int64
	const chunk = 200
	for start := 0; start < len(doomed); start += chunk {
		end := start + chunk
		if end > len(doomed) {
			end = len(doomed)
		}
		args := make([]interface{}, 0, end-start)
		for _, id := range doomed[start:end] {
			args = append(args, id)
		}
		res, err := q.execContext(ctx, `DELETE FROM tray_snapshots WHERE id IN (`+PlaceholderSet(len(args))+`)`, args...)
		if err != nil {
			return removed, fmt.Errorf("delete compacted snapshots: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		logInfo("Compacted tray history", "before", before.UTC().Format(time.RFC3339), "removed", removed)
	}
	return removed, nil
}

// latestSnapshotIDs returns the IDs of trays' newest snapshots that fall
// before the cutoff, i.e. trays not read since then.
func (q *queries) latestSnapshotIDs(ctx context.Context, before time.Time) (map[int64]bool, error) {
	rows, err := q.queryContext(ctx, `
		SELECT t.id FROM tray_snapshots t
		WHERE t.recorded_at < ? AND NOT EXISTS (
			SELECT 1 FROM tray_snapshots n
			WHERE n.device_id = t.device_id AND n.tray = t.tray
				AND (n.recorded_at > t.recorded_at OR (n.recorded_at = t.recorded_at AND n.id > t.id))
		)`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("select latest snapshots: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func scanSnapshots(rows *sql.Rows) ([]*commonstorage.TraySnapshot, error) {
	defer rows.Close()
	var out []*commonstorage.TraySnapshot
	for rows.Next() {
		var s commonstorage.TraySnapshot
		var refill sql.NullInt64
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Tray, &s.Available, &s.Printed, &s.ChangeDetected,
			&s.Timestamp, &refill); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if refill.Valid {
			id := refill.Int64
			s.RefillID = &id
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, &s)
	}
	return out, rows.Err()
}
