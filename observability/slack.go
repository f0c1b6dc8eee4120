package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SlackConfig holds the incoming-webhook settings. The pack has no
// Slack SDK anywhere, so this keeps the teacher's PagerDuty client's
// enabled-flag-guarded, bounded-timeout HTTP POST shape rather than
// introducing an unverified dependency.
type SlackConfig struct {
	WebhookURL  string
	Enabled     bool
	SourceName  string
	HTTPTimeout time.Duration
}

// DefaultSlackConfig returns defaults; Enabled follows whether a
// webhook URL was configured.
func DefaultSlackConfig(webhookURL string) SlackConfig {
	return SlackConfig{
		WebhookURL:  webhookURL,
		Enabled:     webhookURL != "",
		SourceName:  "ingestiond",
		HTTPTimeout: 10 * time.Second,
	}
}

// SlackNotifier posts best-effort incident/status messages to a Slack
// incoming webhook. Every send failure is logged, never propagated —
// notification is never allowed to fail the pipeline it's reporting
// on (spec/SPEC_FULL.md C10: "all best-effort").
type SlackNotifier struct {
	cfg    SlackConfig
	client *http.Client
	logger zerolog.Logger
}

// NewSlackNotifier creates a Slack notifier.
func NewSlackNotifier(cfg SlackConfig, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "slack").Logger(),
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *SlackNotifier) send(text string) {
	if !s.cfg.Enabled || s.cfg.WebhookURL == "" {
		s.logger.Debug().Str("text", text).Msg("slack disabled — notification suppressed")
		return
	}

	body, err := json.Marshal(slackMessage{Text: fmt.Sprintf("[%s] %s", s.cfg.SourceName, text)})
	if err != nil {
		s.logger.Error().Err(err).Msg("slack: marshal failed")
		return
	}

	resp, err := s.client.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Msg("slack: webhook POST failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		s.logger.Error().Int("status", resp.StatusCode).Msg("slack: webhook returned error status")
	}
}

// NotifyBatchStarted reports a cruise-line batch sync beginning
// (manual operator-triggered sync, spec §6).
func (s *SlackNotifier) NotifyBatchStarted(lineID int, operator string) {
	s.send(fmt.Sprintf(":arrow_forward: batch sync started for line %d by %s", lineID, operator))
}

// NotifyBatchCompleted reports a cruise-line batch sync finishing.
func (s *SlackNotifier) NotifyBatchCompleted(lineID int, processed, failed int) {
	s.send(fmt.Sprintf(":white_check_mark: batch sync completed for line %d (processed=%d failed=%d)", lineID, processed, failed))
}

// NotifyJobExhausted reports a job moving to failed after exhausting
// all retry attempts (spec §4.5).
func (s *SlackNotifier) NotifyJobExhausted(queue, jobID string, attempts int, cause error) {
	s.send(fmt.Sprintf(":x: job %s on %s failed permanently after %d attempts: %v", jobID, queue, attempts, cause))
}

// NotifyBreakerOpened reports the FTP circuit breaker tripping open.
func (s *SlackNotifier) NotifyBreakerOpened(host string) {
	s.send(fmt.Sprintf(":warning: FTP circuit breaker opened for %s", host))
}

// NotifyBreakerClosed reports the FTP circuit breaker recovering.
func (s *SlackNotifier) NotifyBreakerClosed(host string) {
	s.send(fmt.Sprintf(":large_green_circle: FTP circuit breaker closed for %s", host))
}

// NotifyReaperAction reports a reaper sweep taking corrective action
// (stalled job requeued, stuck webhook event failed, expired lock
// released), spec §4.9.
func (s *SlackNotifier) NotifyReaperAction(sweep string, count int) {
	if count == 0 {
		return
	}
	s.send(fmt.Sprintf(":recycle: reaper %s sweep acted on %d item(s)", sweep, count))
}
