package database

import (
	"database/sql"
	"errors"
	"time"

	"sublarr/models"
)

// WantedRepository persists wanted items. Status transitions are serialized
// by the store's write lock.
type WantedRepository struct {
	db *DB
}

const wantedColumns = `id, kind, series_id, movie_id, season, episode, title, file_path,
	target_language, subtitle_type, status, search_count, last_searched_at,
	last_scanned_at, last_error, created_at, updated_at`

func scanWanted(row interface{ Scan(...any) error }) (models.WantedItem, error) {
	var (
		w            models.WantedItem
		lastSearched sql.NullTime
		lastScanned  sql.NullTime
	)
	err := row.Scan(&w.ID, &w.Kind, &w.SeriesID, &w.MovieID, &w.Season, &w.Episode,
		&w.Title, &w.FilePath, &w.TargetLanguage, &w.SubtitleType, &w.Status,
		&w.SearchCount, &lastSearched, &lastScanned, &w.LastError, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return models.WantedItem{}, err
	}
	if lastSearched.Valid {
		w.LastSearchedAt = &lastSearched.Time
	}
	if lastScanned.Valid {
		w.LastScannedAt = &lastScanned.Time
	}
	return w, nil
}

// Upsert inserts or refreshes the row keyed by (file_path, target_language,
// subtitle_type). An operator-set ignored status is absorbing; reconciliation
// never overwrites it. Status is only adopted from the scan when the row is
// newly created or currently found, wanted or an upgrade candidate.
func (r *WantedRepository) Upsert(item models.WantedItem) (models.WantedItem, error) {
	var out models.WantedItem
	err := r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRow(`SELECT `+wantedColumns+` FROM wanted_items
			WHERE file_path = ? AND target_language = ? AND subtitle_type = ?`,
			item.FilePath, item.TargetLanguage, item.SubtitleType)
		existing, err := scanWanted(row)
		if errors.Is(err, sql.ErrNoRows) {
			item.CreatedAt = now
			item.UpdatedAt = now
			res, err := tx.Exec(`INSERT INTO wanted_items (kind, series_id, movie_id, season,
				episode, title, file_path, target_language, subtitle_type, status,
				search_count, last_scanned_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
				item.Kind, item.SeriesID, item.MovieID, item.Season, item.Episode,
				item.Title, item.FilePath, item.TargetLanguage, item.SubtitleType,
				item.Status, now, now, now)
			if err != nil {
				return err
			}
			item.ID, _ = res.LastInsertId()
			out = item
			return nil
		}
		if err != nil {
			return err
		}

		status := existing.Status
		if status == models.StatusFound || status == models.StatusWanted || status == models.StatusUpgradeCandidate {
			status = item.Status
		}
		_, err = tx.Exec(`UPDATE wanted_items SET kind = ?, series_id = ?, movie_id = ?,
			season = ?, episode = ?, title = ?, status = ?, last_scanned_at = ?, updated_at = ?
			WHERE id = ?`,
			item.Kind, item.SeriesID, item.MovieID, item.Season, item.Episode,
			item.Title, status, now, now, existing.ID)
		if err != nil {
			return err
		}
		existing.Status = status
		existing.LastScannedAt = &now
		existing.UpdatedAt = now
		out = existing
		return nil
	})
	return out, err
}

// Get returns a wanted item by id.
func (r *WantedRepository) Get(id int64) (models.WantedItem, error) {
	row := r.db.sql.QueryRow(`SELECT `+wantedColumns+` FROM wanted_items WHERE id = ?`, id)
	item, err := scanWanted(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WantedItem{}, models.ErrNotFound
	}
	return item, err
}

// List returns wanted items filtered by status; empty status means all.
func (r *WantedRepository) List(status models.WantedStatus, limit int) ([]models.WantedItem, error) {
	if limit <= 0 {
		limit = 500
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.sql.Query(`SELECT `+wantedColumns+` FROM wanted_items
			ORDER BY updated_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.sql.Query(`SELECT `+wantedColumns+` FROM wanted_items
			WHERE status = ? ORDER BY updated_at DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.WantedItem
	for rows.Next() {
		item, err := scanWanted(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Searchable returns wanted/upgrade/failed rows whose retry cooldown elapsed,
// ordered oldest-searched first.
func (r *WantedRepository) Searchable(retryBase time.Duration, exponentCap, maxAttempts, limit int) ([]models.WantedItem, error) {
	rows, err := r.db.sql.Query(`SELECT `+wantedColumns+` FROM wanted_items
		WHERE status IN ('wanted', 'upgrade_candidate', 'failed')
		ORDER BY last_searched_at IS NOT NULL, last_searched_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	var items []models.WantedItem
	for rows.Next() {
		item, err := scanWanted(rows)
		if err != nil {
			return nil, err
		}
		if item.Status == models.StatusFailed {
			if item.SearchCount > maxAttempts {
				continue // stays failed pending operator action
			}
			exp := item.SearchCount
			if exp > exponentCap {
				exp = exponentCap
			}
			cooldown := retryBase * (1 << exp)
			if item.LastSearchedAt != nil && now.Sub(*item.LastSearchedAt) < cooldown {
				continue
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSearching transitions a row to searching and bumps the attempt counter.
func (r *WantedRepository) MarkSearching(id int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`UPDATE wanted_items SET status = 'searching',
			search_count = search_count + 1, last_searched_at = ?, updated_at = ?
			WHERE id = ? AND status != 'ignored'`, now, now, id)
		return err
	})
}

// MarkResult records the outcome of a search attempt.
func (r *WantedRepository) MarkResult(id int64, status models.WantedStatus, lastError string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE wanted_items SET status = ?, last_error = ?, updated_at = ?
			WHERE id = ? AND status != 'ignored'`, status, lastError, time.Now().UTC(), id)
		return err
	})
}

// SetIgnored sets or clears the operator ignore flag.
func (r *WantedRepository) SetIgnored(id int64, ignored bool) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if ignored {
			_, err := tx.Exec(`UPDATE wanted_items SET status = 'ignored', updated_at = ? WHERE id = ?`, now, id)
			return err
		}
		_, err := tx.Exec(`UPDATE wanted_items SET status = 'wanted', updated_at = ?
			WHERE id = ? AND status = 'ignored'`, now, id)
		return err
	})
}

// ResolveFound atomically records a download and marks the wanted row found.
func (r *WantedRepository) ResolveFound(id int64, history models.DownloadHistory) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(`INSERT INTO download_history (file_path, target_language,
			provider, subtitle_id, score, format, content_hash, source, downloaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			history.FilePath, history.TargetLanguage, history.Provider, history.SubtitleID,
			history.Score, history.Format, history.ContentHash, history.Source, now); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE wanted_items SET status = 'found', last_error = '', updated_at = ?
			WHERE id = ? AND status != 'ignored'`, now, id)
		return err
	})
}

// Delete removes a wanted row.
func (r *WantedRepository) Delete(id int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM wanted_items WHERE id = ?`, id)
		return err
	})
}

// DeleteForMissingFiles prunes rows whose backing file path is in the given
// set of vanished paths.
func (r *WantedRepository) DeleteForMissingFiles(paths []string) (int64, error) {
	var deleted int64
	err := r.db.WithTx(func(tx *sql.Tx) error {
		for _, p := range paths {
			res, err := tx.Exec(`DELETE FROM wanted_items WHERE file_path = ?`, p)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
		return nil
	})
	return deleted, err
}

// CountByStatus returns counts per status.
func (r *WantedRepository) CountByStatus() (map[models.WantedStatus]int, error) {
	rows, err := r.db.sql.Query(`SELECT status, COUNT(*) FROM wanted_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.WantedStatus]int)
	for rows.Next() {
		var status models.WantedStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
