package database

import (
	"database/sql"
	"errors"
	"time"

	"sublarr/models"
)

// HistoryRepository persists download history.
type HistoryRepository struct {
	db *DB
}

const historyColumns = `id, file_path, target_language, provider, subtitle_id,
	score, format, content_hash, source, downloaded_at`

func scanHistory(row interface{ Scan(...any) error }) (models.DownloadHistory, error) {
	var h models.DownloadHistory
	err := row.Scan(&h.ID, &h.FilePath, &h.TargetLanguage, &h.Provider, &h.SubtitleID,
		&h.Score, &h.Format, &h.ContentHash, &h.Source, &h.DownloadedAt)
	return h, err
}

// Insert records one acquired artifact.
func (r *HistoryRepository) Insert(h models.DownloadHistory) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO download_history (file_path, target_language,
			provider, subtitle_id, score, format, content_hash, source, downloaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.FilePath, h.TargetLanguage, h.Provider, h.SubtitleID, h.Score,
			h.Format, h.ContentHash, h.Source, time.Now().UTC())
		return err
	})
}

// Latest returns the most recent history row for (path, language), or
// models.ErrNotFound.
func (r *HistoryRepository) Latest(filePath, language string) (models.DownloadHistory, error) {
	row := r.db.sql.QueryRow(`SELECT `+historyColumns+` FROM download_history
		WHERE file_path = ? AND target_language = ?
		ORDER BY downloaded_at DESC LIMIT 1`, filePath, language)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DownloadHistory{}, models.ErrNotFound
	}
	return h, err
}

// Seen reports whether the exact artifact (by provider id or content hash)
// was downloaded before for this target.
func (r *HistoryRepository) Seen(filePath, language, provider, subtitleID, contentHash string) (bool, error) {
	var n int
	err := r.db.sql.QueryRow(`SELECT COUNT(*) FROM download_history
		WHERE file_path = ? AND target_language = ?
		AND ((provider = ? AND subtitle_id = ? AND subtitle_id != '') OR (content_hash = ? AND content_hash != ''))`,
		filePath, language, provider, subtitleID, contentHash).Scan(&n)
	return n > 0, err
}

// List pages history newest first.
func (r *HistoryRepository) List(limit, offset int) ([]models.DownloadHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.sql.Query(`SELECT `+historyColumns+` FROM download_history
		ORDER BY downloaded_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.DownloadHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}
