package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoadKnownGood returns the persisted known-good printer ids, most recent
// first.
func (s *Store) LoadKnownGood(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, ListKnownGood)
	if err != nil {
		return nil, fmt.Errorf("failed to list known-good printers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan known-good printer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveKnownGood replaces the stored list.
func (s *Store) SaveKnownGood(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, ClearKnownGood); err != nil {
		return fmt.Errorf("failed to clear known-good printers: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, InsertKnownGood, i, id); err != nil {
			return fmt.Errorf("failed to save known-good printer %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit known-good printers: %w", err)
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, j *JobRecord) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	_, err := s.db.ExecContext(ctx, InsertJob,
		j.ID, j.PrinterID, j.Name, j.DocumentPath, j.DocumentName, j.MimeType,
		j.Copies, j.SubmittedBy, j.State, j.Reason, j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJobState records a state change. finished is set once the job
// reaches a terminal state.
func (s *Store) UpdateJobState(ctx context.Context, id, state, reason string, at time.Time, finished bool) error {
	var finishedAt any
	if finished {
		finishedAt = at.UTC()
	}
	res, err := s.db.ExecContext(ctx, UpdateJobState, state, reason, at.UTC(), finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*JobRecord, error) {
	var conditions []string
	var args []any

	if filter.PrinterID != "" {
		conditions = append(conditions, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}

	query := "SELECT " + jobColumns + " FROM print_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PurgeJobs deletes finished jobs older than before and returns the document
// paths they referenced so the caller can remove spooled files.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, ListFinishedDocumentsBefore, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired job: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx, DeleteJobsBefore, before.UTC()); err != nil {
		return nil, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return paths, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, GetSetting, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, SetSetting, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, DeleteSetting, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

// HistoryDays returns the stored history retention, or fallback when none is
// stored or the stored value is unusable.
func (s *Store) HistoryDays(ctx context.Context, fallback int) int {
	v, err := s.GetSetting(ctx, SettingHistoryDays)
	if err != nil {
		return fallback
	}
	days, err := strconv.Atoi(v)
	if err != nil || days < 0 {
		return fallback
	}
	return days
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	j := &JobRecord{}
	var finished sql.NullTime
	if err := row.Scan(
		&j.ID, &j.PrinterID, &j.Name, &j.DocumentPath, &j.DocumentName, &j.MimeType,
		&j.Copies, &j.SubmittedBy, &j.State, &j.Reason, &j.CreatedAt, &j.UpdatedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return j, nil
}
