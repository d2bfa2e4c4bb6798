package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	commonstorage "printmaster/telemetry/common/storage"
)

// SaveReport persists a batch execution report. Per-device outcomes are
// stored as a JSON document.
func (q *queries) SaveReport(ctx context.Context, r *commonstorage.ExecutionReport) error {
	if r == nil || r.BatchID == "" {
		return fmt.Errorf("report with batch id required")
	}
	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("encode report details: %w", err)
	}
	_, err = q.execContext(ctx, `
		INSERT INTO execution_reports (batch_id, period, started_at, finished_at,
			processed, succeeded, failed, skipped, records_created, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.BatchID, r.Period, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.Processed, r.Succeeded, r.Failed, r.Skipped, r.RecordsCreated, string(details))
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.BatchID, err)
	}
	return nil
}

// GetReport loads a batch execution report.
func (q *queries) GetReport(ctx context.Context, batchID string) (*commonstorage.ExecutionReport, error) {
	var r commonstorage.ExecutionReport
	var details sql.NullString
	err := q.queryRowContext(ctx, `
		SELECT batch_id, period, started_at, finished_at, processed, succeeded, failed, skipped, records_created, details
		FROM execution_reports WHERE batch_id = ?
	`, batchID).Scan(&r.BatchID, &r.Period, &r.StartedAt, &r.FinishedAt,
		&r.Processed, &r.Succeeded, &r.Failed, &r.Skipped, &r.RecordsCreated, &details)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", batchID, err)
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
			return nil, fmt.Errorf("decode report details: %w", err)
		}
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}
