package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sublarr/models"
)

// JobRepository persists queue jobs.
type JobRepository struct {
	db *DB
}

const jobColumns = `id, kind, state, file_path, batch_paths, target_language, wanted_id,
	progress, phase, error, config_digest, created_at, updated_at, completed_at, lease_expires_at`

func scanJob(row interface{ Scan(...any) error }) (models.Job, error) {
	var (
		j          models.Job
		batchPaths string
		completed  sql.NullTime
		lease      sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Kind, &j.State, &j.FilePath, &batchPaths, &j.TargetLanguage,
		&j.WantedID, &j.Progress, &j.Phase, &j.Error, &j.ConfigDigest,
		&j.CreatedAt, &j.UpdatedAt, &completed, &lease)
	if err != nil {
		return models.Job{}, err
	}
	if batchPaths != "" {
		j.BatchPaths = strings.Split(batchPaths, "\n")
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	if lease.Valid {
		j.LeaseExpiresAt = &lease.Time
	}
	return j, nil
}

// Insert stores a new job.
func (r *JobRepository) Insert(job models.Job) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO jobs (id, kind, state, file_path, batch_paths,
			target_language, wanted_id, progress, phase, error, config_digest, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Kind, job.State, job.FilePath, strings.Join(job.BatchPaths, "\n"),
			job.TargetLanguage, job.WantedID, job.Progress, job.Phase, job.Error,
			job.ConfigDigest, job.CreatedAt, job.UpdatedAt)
		return err
	})
}

// Get returns a job by id.
func (r *JobRepository) Get(id string) (models.Job, error) {
	row := r.db.sql.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, models.ErrNotFound
	}
	return job, err
}

// List returns jobs newest first, bounded by limit.
func (r *JobRepository) List(limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.sql.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim transitions one queued job to running under a lease and returns it.
// Returns models.ErrNotFound when the queue is empty.
func (r *JobRepository) Claim(leaseTTL time.Duration) (models.Job, error) {
	var claimed models.Job
	err := r.db.WithTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT ` + jobColumns + ` FROM jobs WHERE state = 'queued' ORDER BY created_at LIMIT 1`)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		lease := now.Add(leaseTTL)
		res, err := tx.Exec(`UPDATE jobs SET state = 'running', updated_at = ?, lease_expires_at = ?
			WHERE id = ? AND state = 'queued'`, now, lease, job.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		job.State = models.JobStateRunning
		job.UpdatedAt = now
		job.LeaseExpiresAt = &lease
		claimed = job
		return nil
	})
	return claimed, err
}

// RenewLease extends a running job's lease.
func (r *JobRepository) RenewLease(id string, leaseTTL time.Duration) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`UPDATE jobs SET lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND state = 'running'`, now.Add(leaseTTL), now, id)
		return err
	})
}

// UpdateProgress records progress within a running job. Progress only moves
// forward; a stale write is ignored.
func (r *JobRepository) UpdateProgress(id string, progress float64, phase string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE jobs SET progress = MAX(progress, ?), phase = ?, updated_at = ?
			WHERE id = ? AND state = 'running'`, progress, phase, time.Now().UTC(), id)
		return err
	})
}

// Finish moves a job to a terminal state. Transitions out of terminal states
// are rejected silently: terminal is final.
func (r *JobRepository) Finish(id string, state models.JobState, errMsg string) error {
	if !state.Terminal() {
		return fmt.Errorf("finish requires a terminal state, got %q", state)
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`UPDATE jobs SET state = ?, error = ?, updated_at = ?, completed_at = ?,
			lease_expires_at = NULL, progress = CASE WHEN ? = 'completed' THEN 1.0 ELSE progress END
			WHERE id = ? AND state NOT IN ('completed', 'failed', 'cancelled')`,
			state, errMsg, now, now, state, id)
		return err
	})
}

// RequestCancel marks a queued job cancelled immediately; running jobs are
// flagged through the in-memory queue, not the store.
func (r *JobRepository) RequestCancel(id string) (bool, error) {
	var cancelled bool
	err := r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`UPDATE jobs SET state = 'cancelled', updated_at = ?, completed_at = ?
			WHERE id = ? AND state = 'queued'`, now, now, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		cancelled = n > 0
		return nil
	})
	return cancelled, err
}

// SweepInterrupted fails any running row older than the given boot time.
// Called once at startup before workers begin.
func (r *JobRepository) SweepInterrupted(bootedAt time.Time) (int64, error) {
	var swept int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`UPDATE jobs SET state = 'failed', error = 'interrupted',
			updated_at = ?, completed_at = ?, lease_expires_at = NULL
			WHERE state = 'running' AND updated_at < ?`, now, now, bootedAt)
		if err != nil {
			return err
		}
		swept, _ = res.RowsAffected()
		return nil
	})
	return swept, err
}

// SweepExpiredLeases fails running jobs whose lease lapsed without renewal.
func (r *JobRepository) SweepExpiredLeases() (int64, error) {
	var swept int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`UPDATE jobs SET state = 'failed', error = 'worker_dead',
			updated_at = ?, completed_at = ?, lease_expires_at = NULL
			WHERE state = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`, now, now, now)
		if err != nil {
			return err
		}
		swept, _ = res.RowsAffected()
		return nil
	})
	return swept, err
}

// DeleteOlderThan prunes terminal jobs past the retention window.
func (r *JobRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM jobs
			WHERE state IN ('completed', 'failed', 'cancelled') AND updated_at < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// CountByState returns the number of jobs per state.
func (r *JobRepository) CountByState() (map[models.JobState]int, error) {
	rows, err := r.db.sql.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobState]int)
	for rows.Next() {
		var state models.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
