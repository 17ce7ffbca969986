package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"sublarr/models"
)

// ProbeCacheRepository caches probe results keyed by (path, mtime). A cached
// row with a different mtime is stale and replaced on the next put.
type ProbeCacheRepository struct {
	db *DB
}

// Get returns the cached streams for (path, mtime). A row stored under a
// different mtime is a miss.
func (r *ProbeCacheRepository) Get(path string, mtimeUnix int64) (models.Streams, bool, error) {
	var (
		storedMtime int64
		streamsJSON string
	)
	err := r.db.sql.QueryRow(`SELECT mtime_unix, streams_json FROM probe_cache
		WHERE file_path = ?`, path).Scan(&storedMtime, &streamsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if storedMtime != mtimeUnix {
		return nil, false, nil
	}
	var streams models.Streams
	if err := json.Unmarshal([]byte(streamsJSON), &streams); err != nil {
		return nil, false, err
	}
	return streams, true, nil
}

// Put stores the probe result, replacing any row for the same path.
func (r *ProbeCacheRepository) Put(path string, mtimeUnix int64, streams models.Streams) error {
	payload, err := json.Marshal(streams)
	if err != nil {
		return err
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO probe_cache (file_path, mtime_unix, streams_json, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(file_path) DO UPDATE SET mtime_unix = excluded.mtime_unix,
			streams_json = excluded.streams_json, created_at = excluded.created_at`,
			path, mtimeUnix, string(payload), time.Now().UTC())
		return err
	})
}

// Invalidate drops the cached row for a path.
func (r *ProbeCacheRepository) Invalidate(path string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM probe_cache WHERE file_path = ?`, path)
		return err
	})
}

// Prune deletes cache rows older than the cutoff.
func (r *ProbeCacheRepository) Prune(cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM probe_cache WHERE created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
