package database

import (
	"database/sql"
	"time"
)

// ConfigRepository persists runtime configuration overrides.
type ConfigRepository struct {
	db *DB
}

// AllConfigEntries returns every stored override. Implements
// config.OverrideSource.
func (r *ConfigRepository) AllConfigEntries() (map[string]string, error) {
	rows, err := r.db.sql.Query(`SELECT key, value FROM config_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		entries[k] = v
	}
	return entries, rows.Err()
}

// Set upserts one override. An empty value deletes the key.
func (r *ConfigRepository) Set(key, value string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if value == "" {
			_, err := tx.Exec(`DELETE FROM config_entries WHERE key = ?`, key)
			return err
		}
		_, err := tx.Exec(`INSERT INTO config_entries (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().UTC())
		return err
	})
}

// SetMany applies a batch of overrides atomically.
func (r *ConfigRepository) SetMany(entries map[string]string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for key, value := range entries {
			if value == "" {
				if _, err := tx.Exec(`DELETE FROM config_entries WHERE key = ?`, key); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.Exec(`INSERT INTO config_entries (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, now); err != nil {
				return err
			}
		}
		return nil
	})
}
