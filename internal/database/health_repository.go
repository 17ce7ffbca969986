package database

import (
	"database/sql"
	"errors"
	"time"

	"sublarr/models"
)

// HealthRepository persists provider and translation-backend health counters.
// Updates are atomic: read-modify-write happens inside one transaction.
type HealthRepository struct {
	db *DB
}

const latencySmoothing = 0.2 // weight of the newest sample in the moving average

// RecordProviderResult folds one call outcome into the provider's counters.
func (r *HealthRepository) RecordProviderResult(provider string, success bool, latency time.Duration) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO provider_health (provider) VALUES (?)
			ON CONFLICT(provider) DO NOTHING`, provider); err != nil {
			return err
		}
		ms := float64(latency.Milliseconds())
		if success {
			_, err := tx.Exec(`UPDATE provider_health SET
				consecutive_failures = 0,
				success_count = success_count + 1,
				avg_latency_ms = CASE WHEN avg_latency_ms = 0 THEN ? ELSE avg_latency_ms * ? + ? * ? END
				WHERE provider = ?`, ms, 1-latencySmoothing, ms, latencySmoothing, provider)
			return err
		}
		_, err := tx.Exec(`UPDATE provider_health SET
			consecutive_failures = consecutive_failures + 1,
			failure_count = failure_count + 1
			WHERE provider = ?`, provider)
		return err
	})
}

// SetProviderBreaker records the breaker state transition.
func (r *HealthRepository) SetProviderBreaker(provider, state string, openedAt *time.Time) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO provider_health (provider) VALUES (?)
			ON CONFLICT(provider) DO NOTHING`, provider); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE provider_health SET breaker_state = ?, breaker_opened_at = ?
			WHERE provider = ?`, state, openedAt, provider)
		return err
	})
}

// SetProviderAutoDisabled records or clears the auto-disable window.
func (r *HealthRepository) SetProviderAutoDisabled(provider string, until *time.Time) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO provider_health (provider) VALUES (?)
			ON CONFLICT(provider) DO NOTHING`, provider); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE provider_health SET auto_disabled_until = ? WHERE provider = ?`, until, provider)
		return err
	})
}

// ResetProvider clears the consecutive-failure count, breaker and
// auto-disable for a provider.
func (r *HealthRepository) ResetProvider(provider string) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE provider_health SET consecutive_failures = 0,
			breaker_state = 'closed', breaker_opened_at = NULL, auto_disabled_until = NULL
			WHERE provider = ?`, provider)
		return err
	})
}

// GetProvider returns one provider's health record.
func (r *HealthRepository) GetProvider(provider string) (models.ProviderHealth, error) {
	row := r.db.sql.QueryRow(`SELECT provider, consecutive_failures, success_count,
		failure_count, avg_latency_ms, breaker_state, breaker_opened_at, auto_disabled_until
		FROM provider_health WHERE provider = ?`, provider)
	h, err := scanProviderHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProviderHealth{Provider: provider, BreakerState: "closed"}, nil
	}
	return h, err
}

// ListProviders returns all provider health records.
func (r *HealthRepository) ListProviders() ([]models.ProviderHealth, error) {
	rows, err := r.db.sql.Query(`SELECT provider, consecutive_failures, success_count,
		failure_count, avg_latency_ms, breaker_state, breaker_opened_at, auto_disabled_until
		FROM provider_health ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProviderHealth
	for rows.Next() {
		h, err := scanProviderHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanProviderHealth(row interface{ Scan(...any) error }) (models.ProviderHealth, error) {
	var (
		h        models.ProviderHealth
		opened   sql.NullTime
		disabled sql.NullTime
	)
	err := row.Scan(&h.Provider, &h.ConsecutiveFailures, &h.SuccessCount, &h.FailureCount,
		&h.AvgLatencyMS, &h.BreakerState, &opened, &disabled)
	if err != nil {
		return models.ProviderHealth{}, err
	}
	if opened.Valid {
		h.BreakerOpenedAt = &opened.Time
	}
	if disabled.Valid {
		h.AutoDisabledUntil = &disabled.Time
	}
	return h, nil
}

// RecordBackendResult folds one translation-backend call outcome.
func (r *HealthRepository) RecordBackendResult(backend string, success bool, latency time.Duration) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO backend_health (backend) VALUES (?)
			ON CONFLICT(backend) DO NOTHING`, backend); err != nil {
			return err
		}
		ms := float64(latency.Milliseconds())
		if success {
			_, err := tx.Exec(`UPDATE backend_health SET
				consecutive_failures = 0,
				success_count = success_count + 1,
				avg_latency_ms = CASE WHEN avg_latency_ms = 0 THEN ? ELSE avg_latency_ms * ? + ? * ? END
				WHERE backend = ?`, ms, 1-latencySmoothing, ms, latencySmoothing, backend)
			return err
		}
		_, err := tx.Exec(`UPDATE backend_health SET
			consecutive_failures = consecutive_failures + 1,
			failure_count = failure_count + 1
			WHERE backend = ?`, backend)
		return err
	})
}

// SetBackendAutoDisabled records or clears a backend cooldown.
func (r *HealthRepository) SetBackendAutoDisabled(backend string, until *time.Time) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO backend_health (backend) VALUES (?)
			ON CONFLICT(backend) DO NOTHING`, backend); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE backend_health SET auto_disabled_until = ? WHERE backend = ?`, until, backend)
		return err
	})
}

// GetBackend returns one backend's health record.
func (r *HealthRepository) GetBackend(backend string) (models.BackendHealth, error) {
	row := r.db.sql.QueryRow(`SELECT backend, consecutive_failures, success_count,
		failure_count, avg_latency_ms, auto_disabled_until FROM backend_health WHERE backend = ?`, backend)
	var (
		h        models.BackendHealth
		disabled sql.NullTime
	)
	err := row.Scan(&h.Backend, &h.ConsecutiveFailures, &h.SuccessCount, &h.FailureCount,
		&h.AvgLatencyMS, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BackendHealth{Backend: backend}, nil
	}
	if err != nil {
		return models.BackendHealth{}, err
	}
	if disabled.Valid {
		h.AutoDisabledUntil = &disabled.Time
	}
	return h, nil
}
