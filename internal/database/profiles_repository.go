package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"sublarr/models"
)

// ProfileRepository persists language profiles and their assignments.
type ProfileRepository struct {
	db *DB
}

// Create stores a new profile and returns it with its id.
func (r *ProfileRepository) Create(p models.LanguageProfile) (models.LanguageProfile, error) {
	payload, err := json.Marshal(p.Languages)
	if err != nil {
		return models.LanguageProfile{}, err
	}
	err = r.db.WithTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`INSERT INTO language_profiles (name, languages_json, created_at, updated_at)
			VALUES (?, ?, ?, ?)`, p.Name, string(payload), now, now)
		if err != nil {
			return err
		}
		p.ID, _ = res.LastInsertId()
		p.CreatedAt = now
		p.UpdatedAt = now
		return nil
	})
	return p, err
}

// Update rewrites an existing profile.
func (r *ProfileRepository) Update(p models.LanguageProfile) error {
	payload, err := json.Marshal(p.Languages)
	if err != nil {
		return err
	}
	return r.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE language_profiles SET name = ?, languages_json = ?, updated_at = ?
			WHERE id = ?`, p.Name, string(payload), time.Now().UTC(), p.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// Delete removes a profile; assignments cascade.
func (r *ProfileRepository) Delete(id int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM language_profiles WHERE id = ?`, id)
		return err
	})
}

// Get returns one profile.
func (r *ProfileRepository) Get(id int64) (models.LanguageProfile, error) {
	row := r.db.sql.QueryRow(`SELECT id, name, languages_json, created_at, updated_at
		FROM language_profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LanguageProfile{}, models.ErrNotFound
	}
	return p, err
}

// List returns all profiles.
func (r *ProfileRepository) List() ([]models.LanguageProfile, error) {
	rows, err := r.db.sql.Query(`SELECT id, name, languages_json, created_at, updated_at
		FROM language_profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LanguageProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row interface{ Scan(...any) error }) (models.LanguageProfile, error) {
	var (
		p       models.LanguageProfile
		payload string
	)
	if err := row.Scan(&p.ID, &p.Name, &payload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.LanguageProfile{}, err
	}
	if err := json.Unmarshal([]byte(payload), &p.Languages); err != nil {
		return models.LanguageProfile{}, err
	}
	return p, nil
}

// Assign binds a series or movie to a profile.
func (r *ProfileRepository) Assign(a models.ProfileAssignment) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO series_profile_assignments (kind, media_id, profile_id)
			VALUES (?, ?, ?)
			ON CONFLICT(kind, media_id) DO UPDATE SET profile_id = excluded.profile_id`,
			a.Kind, a.MediaID, a.ProfileID)
		return err
	})
}

// Unassign removes a binding.
func (r *ProfileRepository) Unassign(kind models.MediaKind, mediaID int64) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM series_profile_assignments WHERE kind = ? AND media_id = ?`, kind, mediaID)
		return err
	})
}

// ProfileFor resolves the profile assigned to a media item, or
// models.ErrNotFound when none is bound.
func (r *ProfileRepository) ProfileFor(kind models.MediaKind, mediaID int64) (models.LanguageProfile, error) {
	var profileID int64
	err := r.db.sql.QueryRow(`SELECT profile_id FROM series_profile_assignments
		WHERE kind = ? AND media_id = ?`, kind, mediaID).Scan(&profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LanguageProfile{}, models.ErrNotFound
	}
	if err != nil {
		return models.LanguageProfile{}, err
	}
	return r.Get(profileID)
}
