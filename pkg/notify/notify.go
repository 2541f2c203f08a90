package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"plexmover/pkg/logger"
	"plexmover/pkg/transfer"
)

const userAgent = "plexmover/1.0"

// Notifier receives finished run reports. The core never depends on how the
// report leaves the process.
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, report *transfer.RunReport) error
}

// NewWebhook returns a Notifier that POSTs run reports as JSON to the given
// URL, or a noop when the URL is empty.
func NewWebhook(webhookURL string, timeout time.Duration) Notifier {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return noop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhook{
		url:    webhookURL,
		client: &http.Client{Timeout: timeout},
		log:    logger.NewDefault(),
	}
}

type webhook struct {
	url    string
	client *http.Client
	log    *logger.Logger
}

func (w *webhook) NotifyRunCompleted(ctx context.Context, report *transfer.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver run report: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.log.Info("run report delivered", map[string]any{
		"run_id": report.RunID,
		"status": string(report.Status),
	})
	return nil
}

type noop struct{}

func (noop) NotifyRunCompleted(context.Context, *transfer.RunReport) error { return nil }
