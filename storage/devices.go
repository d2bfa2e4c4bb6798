package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	commonstorage "printmaster/telemetry/common/storage"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

const deviceColumns = `id, serial, ip, model, profile, community,
	v3_username, v3_auth_protocol, v3_auth_password, v3_priv_protocol, v3_priv_password, v3_context,
	is_color, tray_based, tray_capacity, refill_threshold,
	initial_mono, initial_color, initial_total, active, updated_at`

// SaveDevice inserts a registry entry (ID == 0) or updates an existing one.
// The engine itself never calls this; it exists for the registry side and tests.
func (q *queries) SaveDevice(ctx context.Context, d *commonstorage.Device) error {
	if d == nil {
		return fmt.Errorf("device required")
	}
	v3 := d.SNMPv3
	if v3 == nil {
		v3 = &commonstorage.SNMPv3Credentials{}
	}
	d.UpdatedAt = time.Now().UTC()
	args := []interface{}{
		d.Serial, d.IP, d.Model, d.Profile, d.Community,
		v3.Username, v3.AuthProtocol, v3.AuthPassword, v3.PrivProtocol, v3.PrivPassword, v3.ContextName,
		d.IsColor, d.TrayBased, d.TrayCapacity, d.RefillThreshold,
		d.InitialMono, d.InitialColor, d.InitialTotal, d.Active, d.UpdatedAt,
	}

	if d.ID == 0 {
		query := `
			INSERT INTO devices (serial, ip, model, profile, community,
				v3_username, v3_auth_protocol, v3_auth_password, v3_priv_protocol, v3_priv_password, v3_context,
				is_color, tray_based, tray_capacity, refill_threshold,
				initial_mono, initial_color, initial_total, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		` + q.dialect.ReturningClause("id")
		if err := q.queryRowContext(ctx, query, args...).Scan(&d.ID); err != nil {
			return fmt.Errorf("insert device: %w", err)
		}
		return nil
	}

	query := `
		UPDATE devices SET serial = ?, ip = ?, model = ?, profile = ?, community = ?,
			v3_username = ?, v3_auth_protocol = ?, v3_auth_password = ?, v3_priv_protocol = ?, v3_priv_password = ?, v3_context = ?,
			is_color = ?, tray_based = ?, tray_capacity = ?, refill_threshold = ?,
			initial_mono = ?, initial_color = ?, initial_total = ?, active = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.execContext(ctx, query, append(args, d.ID)...)
	if err != nil {
		return fmt.Errorf("update device %d: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d: %w", d.ID, ErrNotFound)
	}
	return nil
}

// GetDevice loads one registry entry.
func (q *queries) GetDevice(ctx context.Context, id int64) (*commonstorage.Device, error) {
	rows, err := q.queryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return devices[0], nil
}

// ListDevices enumerates the selection: every active device, or the listed
// IDs regardless of their active flag.
func (q *queries) ListDevices(ctx context.Context, sel commonstorage.Selection) ([]*commonstorage.Device, error) {
	var rows *sql.Rows
	var err error
	if sel.All() {
		rows, err = q.queryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE active = ? ORDER BY id`, true)
	} else {
		args := make([]interface{}, len(sel.DeviceIDs))
		for i, id := range sel.DeviceIDs {
			args[i] = id
		}
		rows, err = q.queryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id IN (`+PlaceholderSet(len(args))+`) ORDER BY id`, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return scanDevices(rows)
}

// FindDeviceBySerial returns the registry entry carrying a serial.
func (q *queries) FindDeviceBySerial(ctx context.Context, serial string) (*commonstorage.Device, error) {
	rows, err := q.queryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE serial = ? ORDER BY id LIMIT 1`, serial)
	if err != nil {
		return nil, err
	}
	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("serial %q: %w", serial, ErrNotFound)
	}
	return devices[0], nil
}

// UpdateDeviceAddress corrects the address of a known device. This is the
// only registry write the engine performs.
func (q *queries) UpdateDeviceAddress(ctx context.Context, id int64, ip string) error {
	res, err := q.execContext(ctx, `UPDATE devices SET ip = ?, updated_at = ? WHERE id = ?`, ip, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update address of device %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	logInfo("Device address corrected", "device_id", id, "ip", ip)
	return nil
}

func scanDevices(rows *sql.Rows) ([]*commonstorage.Device, error) {
	defer rows.Close()
	var out []*commonstorage.Device
	for rows.Next() {
		var d commonstorage.Device
		var v3 commonstorage.SNMPv3Credentials
		var updated sql.NullTime
		if err := rows.Scan(&d.ID, &d.Serial, &d.IP, &d.Model, &d.Profile, &d.Community,
			&v3.Username, &v3.AuthProtocol, &v3.AuthPassword, &v3.PrivProtocol, &v3.PrivPassword, &v3.ContextName,
			&d.IsColor, &d.TrayBased, &d.TrayCapacity, &d.RefillThreshold,
			&d.InitialMono, &d.InitialColor, &d.InitialTotal, &d.Active, &updated); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if v3.Username != "" {
			d.SNMPv3 = &v3
		}
		if updated.Valid {
			d.UpdatedAt = updated.Time
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
