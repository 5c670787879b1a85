package postcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultDashboardTimeout = 15 * time.Second
	defaultRetryDelay       = 2 * time.Second
)

// DashboardConfig carries the webhook endpoints and the shared secret. Only
// the jobs URL and the secret are required; calls and alerts are skipped
// when their URLs are empty.
type DashboardConfig struct {
	JobsURL       string
	CallsURL      string
	AlertsURL     string
	WebhookSecret string

	// Timeout bounds each POST. Defaults to 15s.
	Timeout time.Duration
	// RetryDelay is the pause before the single retry. Defaults to 2s.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Dashboard posts call artifacts to the ops dashboard. Every send makes at
// most two attempts and always returns a result document, so the pipeline
// never aborts on a webhook failure.
type Dashboard struct {
	jobsURL    string
	callsURL   string
	alertsURL  string
	secret     string
	retryDelay time.Duration
	http       *http.Client
	log        *slog.Logger
}

// NewDashboard creates a client from cfg, applying defaults for the zero
// fields.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDashboardTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dashboard{
		jobsURL:    cfg.JobsURL,
		callsURL:   cfg.CallsURL,
		alertsURL:  cfg.AlertsURL,
		secret:     cfg.WebhookSecret,
		retryDelay: cfg.RetryDelay,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        cfg.Logger,
	}
}

// Configured reports whether the client can sync at all. Without a jobs URL
// and a secret the whole pipeline is a no-op.
func (d *Dashboard) Configured() bool {
	return d != nil && d.jobsURL != "" && d.secret != ""
}

// SendJob posts the job document and returns the dashboard's response, which
// carries lead_id and job_id on success.
func (d *Dashboard) SendJob(ctx context.Context, payload map[string]any) map[string]any {
	return d.postWithRetry(ctx, d.jobsURL, "job", payload)
}

// SendCall posts the call record.
func (d *Dashboard) SendCall(ctx context.Context, payload map[string]any) map[string]any {
	return d.postWithRetry(ctx, d.callsURL, "call", payload)
}

// SendEmergencyAlert posts the safety alert.
func (d *Dashboard) SendEmergencyAlert(ctx context.Context, payload map[string]any) map[string]any {
	return d.postWithRetry(ctx, d.alertsURL, "alert", payload)
}

func (d *Dashboard) postWithRetry(ctx context.Context, url, kind string, payload map[string]any) map[string]any {
	if url == "" {
		d.log.Debug("dashboard endpoint not configured", "kind", kind)
		return map[string]any{"success": false, "error": kind + " URL not configured"}
	}
	out, err := d.post(ctx, url, payload)
	if err == nil {
		return out
	}
	d.log.Warn("dashboard sync attempt failed, retrying",
		"kind", kind,
		"error", err,
		"retryDelay", d.retryDelay)
	select {
	case <-time.After(d.retryDelay):
	case <-ctx.Done():
		return map[string]any{"success": false, "error": ctx.Err().Error()}
	}
	out, err = d.post(ctx, url, payload)
	if err != nil {
		d.log.Error("dashboard sync failed after retry", "kind", kind, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	return out
}

func (d *Dashboard) post(ctx context.Context, url string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", d.secret)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A 2xx with a non-JSON or empty body still counts as delivered.
		return map[string]any{"success": true}, nil
	}
	return out, nil
}
