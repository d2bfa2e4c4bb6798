package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	commonstorage "printmaster/telemetry/common/storage"
)

const sampleColumns = `id, device_id, period, recorded_at, mono, color, total,
	mono_delta, color_delta, total_delta, method, profile, raw_payload, locked`

// InsertSample appends a counter sample and sets its ID.
func (q *queries) InsertSample(ctx context.Context, s *commonstorage.CounterSample) error {
	if s == nil {
		return fmt.Errorf("sample required")
	}
	if s.Period == "" {
		s.Period = commonstorage.PeriodKey(s.Timestamp)
	}
	var raw interface{}
	if len(s.RawPayload) > 0 {
		raw = string(s.RawPayload)
	}
	query := `
		INSERT INTO counter_samples (device_id, period, recorded_at, mono, color, total,
			mono_delta, color_delta, total_delta, method, profile, raw_payload, locked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + q.dialect.ReturningClause("id")
	err := q.queryRowContext(ctx, query,
		s.DeviceID, s.Period, s.Timestamp.UTC(), s.Mono, s.Color, s.Total,
		s.MonoDelta, s.ColorDelta, s.TotalDelta, s.Method, s.Profile, raw, s.Locked,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert sample for device %d: %w", s.DeviceID, err)
	}
	return nil
}

// LatestSamples returns the most recent sample of each listed device.
// Devices without history are absent from the map.
func (q *queries) LatestSamples(ctx context.Context, deviceIDs []int64) (map[int64]*commonstorage.CounterSample, error) {
	out := make(map[int64]*commonstorage.CounterSample, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(deviceIDs))
	for i, id := range deviceIDs {
		args[i] = id
	}
	query := `
		SELECT ` + prefixed("s", sampleColumns) + `
		FROM counter_samples s
		JOIN (
			SELECT device_id, MAX(id) AS max_id
			FROM counter_samples
			WHERE device_id IN (` + PlaceholderSet(len(args)) + `)
			GROUP BY device_id
		) latest ON latest.max_id = s.id
	`
	rows, err := q.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latest samples: %w", err)
	}
	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		out[s.DeviceID] = s
	}
	return out, nil
}

// ListSamples returns a device's samples oldest first. An empty period
// returns every period.
func (q *queries) ListSamples(ctx context.Context, deviceID int64, period string) ([]*commonstorage.CounterSample, error) {
	query := `SELECT ` + sampleColumns + ` FROM counter_samples WHERE device_id = ?`
	args := []interface{}{deviceID}
	if period != "" {
		query += ` AND period = ?`
		args = append(args, period)
	}
	rows, err := q.queryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return scanSamples(rows)
}

// HasLockedSample reports whether the device's period has been closed.
func (q *queries) HasLockedSample(ctx context.Context, deviceID int64, period string) (bool, error) {
	var count int
	err := q.queryRowContext(ctx,
		`SELECT COUNT(*) FROM counter_samples WHERE device_id = ? AND period = ? AND locked = ?`,
		deviceID, period, true,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check locked period: %w", err)
	}
	return count > 0, nil
}

// LockPeriod marks every sample of a device's period as locked, closing it
// to further collection. It returns the number of samples locked.
func (q *queries) LockPeriod(ctx context.Context, deviceID int64, period string) (int64, error) {
	res, err := q.execContext(ctx,
		`UPDATE counter_samples SET locked = ? WHERE device_id = ? AND period = ?`,
		true, deviceID, period,
	)
	if err != nil {
		return 0, fmt.Errorf("lock period %s for device %d: %w", period, deviceID, err)
	}
	n, _ := res.RowsAffected()
	logInfo("Period locked", "device_id", deviceID, "period", period, "samples", n)
	return n, nil
}

func scanSamples(rows *sql.Rows) ([]*commonstorage.CounterSample, error) {
	defer rows.Close()
	var out []*commonstorage.CounterSample
	for rows.Next() {
		var s commonstorage.CounterSample
		var raw sql.NullString
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Period, &s.Timestamp, &s.Mono, &s.Color, &s.Total,
			&s.MonoDelta, &s.ColorDelta, &s.TotalDelta, &s.Method, &s.Profile, &raw, &s.Locked); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if raw.Valid && raw.String != "" {
			s.RawPayload = []byte(raw.String)
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, &s)
	}
	return out, rows.Err()
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
