package models

import "time"

// WantedStatus is the search lifecycle of a wanted item.
type WantedStatus string

const (
	StatusWanted           WantedStatus = "wanted"
	StatusUpgradeCandidate WantedStatus = "upgrade_candidate"
	StatusSearching        WantedStatus = "searching"
	StatusFound            WantedStatus = "found"
	StatusFailed           WantedStatus = "failed"
	StatusIgnored          WantedStatus = "ignored"
)

// WantedItem records that a (file, language, type) lacks an acceptable
// subtitle. Unique per (FilePath, TargetLanguage, SubtitleType).
type WantedItem struct {
	ID             int64        `json:"id"`
	Kind           MediaKind    `json:"kind"`
	SeriesID       int64        `json:"seriesId,omitempty"`
	MovieID        int64        `json:"movieId,omitempty"`
	Season         int          `json:"season,omitempty"`
	Episode        int          `json:"episode,omitempty"`
	Title          string       `json:"title"`
	FilePath       string       `json:"filePath"`
	TargetLanguage string       `json:"targetLanguage"`
	SubtitleType   SubtitleType `json:"subtitleType"`
	Status         WantedStatus `json:"status"`
	SearchCount    int          `json:"searchCount"`
	LastSearchedAt *time.Time   `json:"lastSearchedAt,omitempty"`
	LastScannedAt  *time.Time   `json:"lastScannedAt,omitempty"`
	LastError      string       `json:"lastError,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// HistorySource records how an artifact was obtained.
type HistorySource string

const (
	SourceProvider   HistorySource = "provider"
	SourceTranslated HistorySource = "translated"
	SourceWhisper    HistorySource = "whisper"
)

// DownloadHistory is one acquired artifact. It prevents re-downloading the
// same subtitle and seeds upgrade decisions.
type DownloadHistory struct {
	ID             int64          `json:"id"`
	FilePath       string         `json:"filePath"`
	TargetLanguage string         `json:"targetLanguage"`
	Provider       string         `json:"provider,omitempty"`
	SubtitleID     string         `json:"subtitleId,omitempty"`
	Score          int            `json:"score"`
	Format         SubtitleFormat `json:"format"`
	ContentHash    string         `json:"contentHash"`
	Source         HistorySource  `json:"source"`
	DownloadedAt   time.Time      `json:"downloadedAt"`
}
