// Package notify implements the Notifier collaborator contract
// (spec.md §6): fire-and-forget on_milestone/on_failure/on_completion
// hooks that must never block the caller on failure. Transports
// themselves (webhook/SMTP) are out of scope as concrete
// implementations per spec.md §1, but the interface and a logging
// default plus a minimal webhook transport are supplemented per
// SPEC_FULL.md §5.4, grounded on
// original_source/notifications/notifier.py's fire-and-forget contract.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/adforge/pipeline/internal/common"
)

// Notifier is the narrow contract every transport implements.
type Notifier interface {
	OnMilestone(n int)
	OnFailure(idx int, errMsg string)
	OnCompletion(total, success, failed int, elapsed time.Duration)
}

// LoggingNotifier logs every event and never fails; it is the default
// transport when no webhook/SMTP endpoint is configured.
type LoggingNotifier struct {
	logger *common.Logger
}

// NewLoggingNotifier creates a LoggingNotifier.
func NewLoggingNotifier(logger *common.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) OnMilestone(count int) {
	n.logger.Info().Int("completed", count).Msg("milestone reached")
}

func (n *LoggingNotifier) OnFailure(idx int, errMsg string) {
	n.logger.Warn().Int("row", idx).Str("error", errMsg).Msg("row failed")
}

func (n *LoggingNotifier) OnCompletion(total, success, failed int, elapsed time.Duration) {
	n.logger.Info().
		Int("total", total).Int("success", success).Int("failed", failed).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("run complete")
}

// WebhookNotifier POSTs a small JSON payload to a configured endpoint
// for each event, with a bounded timeout; every send error is swallowed
// (logged, not propagated) per the Notifier contract's "must never
// block the caller on failure" rule.
type WebhookNotifier struct {
	URL        string
	httpClient *http.Client
	logger     *common.Logger
}

// NewWebhookNotifier creates a WebhookNotifier posting to url with a
// bounded per-request timeout.
func NewWebhookNotifier(url string, timeout time.Duration, logger *common.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		URL:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (n *WebhookNotifier) post(event string, payload map[string]any) {
	payload["event"] = event
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
}

func (n *WebhookNotifier) OnMilestone(count int) {
	n.post("milestone", map[string]any{"completed": count})
}

func (n *WebhookNotifier) OnFailure(idx int, errMsg string) {
	n.post("failure", map[string]any{"row": idx, "error": errMsg})
}

func (n *WebhookNotifier) OnCompletion(total, success, failed int, elapsed time.Duration) {
	n.post("completion", map[string]any{
		"total": total, "success": success, "failed": failed,
		"elapsed_seconds": elapsed.Seconds(),
	})
}
