package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"sublarr/config"
)

const (
	notifyTimeout  = 10 * time.Second
	notifyAttempts = 3
)

// Service pings the media server after a subtitle lands so the library
// picks it up without a full rescan. Jellyfin-compatible shape.
type Service struct {
	cfg   *config.Resolver
	httpc *http.Client
}

// NewService builds the notifier.
func NewService(cfg *config.Resolver) *Service {
	return &Service{cfg: cfg, httpc: &http.Client{Timeout: notifyTimeout}}
}

type mediaUpdate struct {
	Updates []pathUpdate `json:"Updates"`
}

type pathUpdate struct {
	Path       string `json:"Path"`
	UpdateType string `json:"UpdateType"`
}

// NotifyFileCreated tells the media server a file appeared. Fire and forget:
// failures are logged, never surfaced to the pipeline.
func (s *Service) NotifyFileCreated(ctx context.Context, videoPath, subtitlePath string) {
	settings, err := s.cfg.Effective()
	if err != nil || !settings.Notifier.Enabled || settings.Notifier.BaseURL == "" {
		return
	}
	base := strings.TrimRight(settings.Notifier.BaseURL, "/")
	apiKey := settings.Notifier.APIKey

	go func() {
		payload, err := json.Marshal(mediaUpdate{
			Updates: []pathUpdate{{Path: subtitlePath, UpdateType: "Created"}},
		})
		if err != nil {
			return
		}
		err = retry.Do(
			func() error {
				reqCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
				defer cancel()

				req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, base+"/Library/Media/Updated", bytes.NewReader(payload))
				if err != nil {
					return retry.Unrecoverable(err)
				}
				req.Header.Set("Content-Type", "application/json")
				if apiKey != "" {
					req.Header.Set("Authorization", `MediaBrowser Token="`+apiKey+`"`)
				}
				resp, err := s.httpc.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode >= 500 {
					return fmt.Errorf("media server returned %d", resp.StatusCode)
				}
				if resp.StatusCode >= 400 {
					return retry.Unrecoverable(fmt.Errorf("media server returned %d", resp.StatusCode))
				}
				return nil
			},
			retry.Attempts(notifyAttempts),
			retry.Delay(time.Second),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			log.Printf("[notify] media server refresh for %s failed: %v", subtitlePath, err)
		}
	}()
}
