package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server      ServerSettings      `json:"server"`
	Auth        AuthSettings        `json:"auth"`
	Data        DataSettings        `json:"data"`
	Media       MediaSettings       `json:"media"`
	Probe       ProbeSettings       `json:"probe"`
	Subtitles   SubtitleSettings    `json:"subtitles"`
	Providers   []ProviderConfig    `json:"providers"`
	Scoring     ScoringSettings     `json:"scoring"`
	Translation TranslationSettings `json:"translation"`
	Transcribe  TranscribeSettings  `json:"transcribe"`
	Wanted      WantedSettings      `json:"wanted"`
	Queue       QueueSettings       `json:"queue"`
	Webhooks    WebhookSettings     `json:"webhooks"`
	Notifier    NotifierSettings    `json:"notifier"`
	Log         LogConfig           `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type AuthSettings struct {
	APIKey string `json:"apiKey"`
}

// DataSettings points at the directory holding the database, backups and logs.
type DataSettings struct {
	Directory string `json:"directory"`
}

// MediaSettings lists the read-write media roots the pipeline may touch.
type MediaSettings struct {
	Roots []string `json:"roots"`
}

// ProbeSettings selects the stream-probing engine.
type ProbeSettings struct {
	Engine        string `json:"engine"` // ffprobe | mediainfo
	FFprobePath   string `json:"ffprobePath"`
	FFmpegPath    string `json:"ffmpegPath"`
	MediaInfoPath string `json:"mediainfoPath"`
	TimeoutSec    int    `json:"timeoutSec"`
}

// SubtitleSettings controls the acquisition decision engine.
type SubtitleSettings struct {
	DefaultLanguages     []string `json:"defaultLanguages"`
	UpgradeMinScoreDelta int      `json:"upgradeMinScoreDelta"`
	UpgradeWindowDays    int      `json:"upgradeWindowDays"`
}

// ProviderConfig is one configured subtitle provider.
type ProviderConfig struct {
	Name              string            `json:"name"`
	Enabled           bool              `json:"enabled"`
	Priority          int               `json:"priority"`
	TimeoutSec        int               `json:"timeoutSec"`
	MaxRetries        int               `json:"maxRetries"`
	RateLimitRequests int               `json:"rateLimitRequests"`
	RateLimitWindow   int               `json:"rateLimitWindowSec"`
	Config            map[string]string `json:"config,omitempty"` // provider-specific fields (api keys etc.)
}

// ScoringSettings carries operator overrides for match weights.
type ScoringSettings struct {
	EpisodeWeights map[string]int `json:"episodeWeights,omitempty"`
	MovieWeights   map[string]int `json:"movieWeights,omitempty"`
	FormatBonus    int            `json:"formatBonus"`
}

// BackendConfig is one configured translation backend.
type BackendConfig struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Config  map[string]string `json:"config,omitempty"`
}

// TranslationSettings controls the translation engine.
type TranslationSettings struct {
	Backends         []BackendConfig   `json:"backends"`
	Chain            []string          `json:"chain"` // fallback order
	BatchSize        int               `json:"batchSize"`
	RequestTimeout   int               `json:"requestTimeoutSec"`
	FailureThreshold int               `json:"failureThreshold"`
	DisableCooldown  int               `json:"disableCooldownMin"`
	Glossary         map[string]string `json:"glossary,omitempty"`
}

// TranscribeSettings controls the speech-to-text lane.
type TranscribeSettings struct {
	Enabled       bool    `json:"enabled"`
	Backend       string  `json:"backend"` // local | http
	URL           string  `json:"url,omitempty"`
	Model         string  `json:"model,omitempty"`
	MinConfidence float64 `json:"minConfidence"`
}

// WantedSettings controls the reconciler and its scheduler.
type WantedSettings struct {
	RescanIntervalHours int `json:"rescanIntervalHours"`
	SearchIntervalHours int `json:"searchIntervalHours"`
	FullSweepEvery      int `json:"fullSweepEvery"`
	RetryBaseMinutes    int `json:"retryBaseMinutes"`
	RetryExponentCap    int `json:"retryExponentCap"`
	MaxAttempts         int `json:"maxAttempts"`
	BatchConcurrency    int `json:"batchConcurrency"`
	ProbeConcurrency    int `json:"probeConcurrency"`
	WebhookDelayMinutes int `json:"webhookDelayMinutes"`
}

// QueueSettings controls the job queue worker pool.
type QueueSettings struct {
	Workers           int `json:"workers"`
	JobTimeoutMinutes int `json:"jobTimeoutMinutes"`
	SearchConcurrency int `json:"searchConcurrency"`
}

// WebhookSettings lists user-configured outbound webhook targets.
type WebhookSettings struct {
	URLs []string `json:"urls,omitempty"`
}

// NotifierSettings points at the media server to ping after writes.
type NotifierSettings struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration used when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 8095},
		Data:   DataSettings{Directory: "data"},
		Probe:  ProbeSettings{Engine: "ffprobe", FFprobePath: "ffprobe", FFmpegPath: "ffmpeg", MediaInfoPath: "mediainfo", TimeoutSec: 30},
		Subtitles: SubtitleSettings{
			DefaultLanguages:     []string{"en"},
			UpgradeMinScoreDelta: 10,
			UpgradeWindowDays:    7,
		},
		Providers: []ProviderConfig{
			{Name: "opensubtitles", Enabled: false, Priority: 1, TimeoutSec: 20, MaxRetries: 2, RateLimitRequests: 40, RateLimitWindow: 10},
			{Name: "podnapisi", Enabled: true, Priority: 2, TimeoutSec: 20, MaxRetries: 2, RateLimitRequests: 20, RateLimitWindow: 10},
			{Name: "gestdown", Enabled: true, Priority: 3, TimeoutSec: 20, MaxRetries: 2, RateLimitRequests: 30, RateLimitWindow: 60},
		},
		Scoring: ScoringSettings{FormatBonus: 50},
		Translation: TranslationSettings{
			Backends: []BackendConfig{
				{Name: "ollama", Enabled: false, Config: map[string]string{"url": "http://localhost:11434", "model": "llama3.1"}},
				{Name: "openai", Enabled: false},
				{Name: "deepl", Enabled: false},
				{Name: "libretranslate", Enabled: false, Config: map[string]string{"url": "http://localhost:5000"}},
				{Name: "google", Enabled: false},
			},
			Chain:            []string{"ollama", "openai", "libretranslate"},
			BatchSize:        15,
			RequestTimeout:   90,
			FailureThreshold: 10,
			DisableCooldown:  30,
		},
		Transcribe: TranscribeSettings{Backend: "local", MinConfidence: 0.6},
		Wanted: WantedSettings{
			RescanIntervalHours: 6,
			SearchIntervalHours: 24,
			FullSweepEvery:      6,
			RetryBaseMinutes:    15,
			RetryExponentCap:    5,
			MaxAttempts:         10,
			BatchConcurrency:    2,
			ProbeConcurrency:    4,
			WebhookDelayMinutes: 5,
		},
		Queue: QueueSettings{Workers: 2, JobTimeoutMinutes: 60, SearchConcurrency: 4},
		Log:   LogConfig{File: "data/logs/sublarr.log", Level: "info", MaxSize: 50, MaxBackups: 3, MaxAge: 7},
	}
}

// Manager guards the settings file and hands out value copies.
type Manager struct {
	mu   sync.RWMutex
	path string
}

// NewManager creates a settings manager for the given file path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the settings file path.
func (m *Manager) Path() string { return m.path }

// EnsureDir creates the directory containing the settings file.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return applyEnv(defaults), nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	backfill(&s)
	return applyEnv(s), nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// backfill fills defaults for settings introduced after a config was written.
func backfill(s *Settings) {
	def := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = def.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = def.Server.Port
	}
	if strings.TrimSpace(s.Data.Directory) == "" {
		s.Data.Directory = def.Data.Directory
	}
	if strings.TrimSpace(s.Probe.Engine) == "" {
		s.Probe.Engine = def.Probe.Engine
	}
	if strings.TrimSpace(s.Probe.FFprobePath) == "" {
		s.Probe.FFprobePath = def.Probe.FFprobePath
	}
	if strings.TrimSpace(s.Probe.FFmpegPath) == "" {
		s.Probe.FFmpegPath = def.Probe.FFmpegPath
	}
	if strings.TrimSpace(s.Probe.MediaInfoPath) == "" {
		s.Probe.MediaInfoPath = def.Probe.MediaInfoPath
	}
	if s.Probe.TimeoutSec == 0 {
		s.Probe.TimeoutSec = def.Probe.TimeoutSec
	}
	if len(s.Subtitles.DefaultLanguages) == 0 {
		s.Subtitles.DefaultLanguages = def.Subtitles.DefaultLanguages
	}
	if s.Subtitles.UpgradeMinScoreDelta == 0 {
		s.Subtitles.UpgradeMinScoreDelta = def.Subtitles.UpgradeMinScoreDelta
	}
	if s.Subtitles.UpgradeWindowDays == 0 {
		s.Subtitles.UpgradeWindowDays = def.Subtitles.UpgradeWindowDays
	}
	if len(s.Providers) == 0 {
		s.Providers = def.Providers
	}
	if s.Scoring.FormatBonus == 0 {
		s.Scoring.FormatBonus = def.Scoring.FormatBonus
	}
	if len(s.Translation.Backends) == 0 {
		s.Translation.Backends = def.Translation.Backends
	}
	if len(s.Translation.Chain) == 0 {
		s.Translation.Chain = def.Translation.Chain
	}
	if s.Translation.BatchSize == 0 {
		s.Translation.BatchSize = def.Translation.BatchSize
	}
	if s.Translation.RequestTimeout == 0 {
		s.Translation.RequestTimeout = def.Translation.RequestTimeout
	}
	if s.Translation.FailureThreshold == 0 {
		s.Translation.FailureThreshold = def.Translation.FailureThreshold
	}
	if s.Translation.DisableCooldown == 0 {
		s.Translation.DisableCooldown = def.Translation.DisableCooldown
	}
	if s.Transcribe.MinConfidence == 0 {
		s.Transcribe.MinConfidence = def.Transcribe.MinConfidence
	}
	if s.Wanted.RescanIntervalHours == 0 {
		s.Wanted.RescanIntervalHours = def.Wanted.RescanIntervalHours
	}
	if s.Wanted.SearchIntervalHours == 0 {
		s.Wanted.SearchIntervalHours = def.Wanted.SearchIntervalHours
	}
	if s.Wanted.FullSweepEvery == 0 {
		s.Wanted.FullSweepEvery = def.Wanted.FullSweepEvery
	}
	if s.Wanted.RetryBaseMinutes == 0 {
		s.Wanted.RetryBaseMinutes = def.Wanted.RetryBaseMinutes
	}
	if s.Wanted.RetryExponentCap == 0 {
		s.Wanted.RetryExponentCap = def.Wanted.RetryExponentCap
	}
	if s.Wanted.MaxAttempts == 0 {
		s.Wanted.MaxAttempts = def.Wanted.MaxAttempts
	}
	if s.Wanted.BatchConcurrency == 0 {
		s.Wanted.BatchConcurrency = def.Wanted.BatchConcurrency
	}
	if s.Wanted.ProbeConcurrency == 0 {
		s.Wanted.ProbeConcurrency = def.Wanted.ProbeConcurrency
	}
	if s.Wanted.WebhookDelayMinutes == 0 {
		s.Wanted.WebhookDelayMinutes = def.Wanted.WebhookDelayMinutes
	}
	if s.Queue.Workers == 0 {
		s.Queue.Workers = def.Queue.Workers
	}
	if s.Queue.JobTimeoutMinutes == 0 {
		s.Queue.JobTimeoutMinutes = def.Queue.JobTimeoutMinutes
	}
	if s.Queue.SearchConcurrency == 0 {
		s.Queue.SearchConcurrency = def.Queue.SearchConcurrency
	}
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = def.Log.File
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = def.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = def.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = def.Log.MaxAge
	}
}

// applyEnv overlays SUBLARR_* process environment on loaded settings. The
// environment is the outermost layer of the cascade and never persisted.
func applyEnv(s Settings) Settings {
	if v := os.Getenv("SUBLARR_HOST"); v != "" {
		s.Server.Host = v
	}
	if v := os.Getenv("SUBLARR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			s.Server.Port = p
		}
	}
	if v := os.Getenv("SUBLARR_API_KEY"); v != "" {
		s.Auth.APIKey = v
	}
	if v := os.Getenv("SUBLARR_DATA_DIR"); v != "" {
		s.Data.Directory = v
	}
	if v := os.Getenv("SUBLARR_MEDIA_ROOTS"); v != "" {
		var roots []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roots = append(roots, r)
			}
		}
		if len(roots) > 0 {
			s.Media.Roots = roots
		}
	}
	return s
}
