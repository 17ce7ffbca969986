package models

import "time"

// ProfileLanguage is one requested (language, type) pair in a profile.
type ProfileLanguage struct {
	Language     string       `json:"language"`
	SubtitleType SubtitleType `json:"subtitleType"`
}

// LanguageProfile groups target languages so that series and movies can share
// subtitle requirements.
type LanguageProfile struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Languages []ProfileLanguage `json:"languages"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ProfileAssignment binds a series or movie to a language profile.
type ProfileAssignment struct {
	Kind      MediaKind `json:"kind"`
	MediaID   int64     `json:"mediaId"`
	ProfileID int64     `json:"profileId"`
}

// ProviderHealth is the persisted per-provider health record.
type ProviderHealth struct {
	Provider            string     `json:"provider"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	SuccessCount        int64      `json:"successCount"`
	FailureCount        int64      `json:"failureCount"`
	AvgLatencyMS        float64    `json:"avgLatencyMs"`
	BreakerState        string     `json:"breakerState"`
	BreakerOpenedAt     *time.Time `json:"breakerOpenedAt,omitempty"`
	AutoDisabledUntil   *time.Time `json:"autoDisabledUntil,omitempty"`
}

// BackendHealth is the persisted per-translation-backend health record.
type BackendHealth struct {
	Backend             string     `json:"backend"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	SuccessCount        int64      `json:"successCount"`
	FailureCount        int64      `json:"failureCount"`
	AvgLatencyMS        float64    `json:"avgLatencyMs"`
	AutoDisabledUntil   *time.Time `json:"autoDisabledUntil,omitempty"`
}
