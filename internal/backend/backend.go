// Package backend is the HTTP client for the dispatch backend's tool
// webhooks: caller lookup, booking, callbacks, sales-lead alerts, and
// appointment changes.
//
// Every method degrades gracefully instead of failing: when the request
// cannot be made or the backend answers badly, the method returns the same
// kind of document a healthy backend would, marked unsuccessful, so the
// dialog machine routes the caller to a callback rather than hanging the
// call on an error path. A shared [resilience.CircuitBreaker] (3 failures,
// 60 s cooldown) skips the network entirely while the backend is down.
//
// One Client serves all concurrent calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/resilience"
	"github.com/callweave/callweave/internal/session"
)

const defaultTimeout = 10 * time.Second

// Config holds the client settings.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com". A
	// trailing slash is tolerated.
	BaseURL string

	// APIKey, when set, is sent as X-API-Key on every request.
	APIKey string

	// Timeout bounds one tool round trip. Default 10 s.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the backend tool endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "v2 backend"}),
		log:     cfg.Logger,
	}
}

// Dispatch executes one machine-ordered tool call, merging the turn's
// arguments with the session facts the backend expects. It never returns
// nil: unknown tools yield an unsuccessful document.
func (c *Client) Dispatch(ctx context.Context, s *session.Session, call dialog.ToolCall) map[string]any {
	switch call.Name {
	case dialog.ToolLookupCaller:
		return c.LookupCaller(ctx, s.CallerPhone, s.CallSID)
	case dialog.ToolBookService:
		return c.BookService(ctx, s)
	case dialog.ToolCreateCallback:
		return c.CreateCallback(ctx, s, argString(call.Args, "reason"))
	case dialog.ToolSendSalesLeadAlert:
		return c.SendSalesLeadAlert(ctx, s, argString(call.Args, "execution_message"))
	case dialog.ToolManageAppointment:
		action := argString(call.Args, "action")
		if action == "" {
			action = "status"
		}
		return c.ManageAppointment(ctx, s, action,
			argString(call.Args, "reason"), argString(call.Args, "new_date_time"))
	}
	c.log.Error("unknown tool requested", "tool", call.Name)
	return map[string]any{"success": false, "error": "unknown tool: " + call.Name}
}

// LookupCaller fetches history for a phone number. On any failure it
// reports an unknown caller so the dialog proceeds without history.
func (c *Client) LookupCaller(ctx context.Context, phone, callID string) map[string]any {
	if !c.breaker.ShouldTry() {
		c.log.Warn("backend breaker open, skipping lookup", "callSid", callID)
		return map[string]any{"found": false, "message": "V2 backend unavailable — proceeding without history."}
	}
	out, err := c.post(ctx, "/webhook/retell/lookup_caller", envelope(callID, phone, map[string]any{}))
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("lookup_caller failed", "callSid", callID, "error", err)
		return map[string]any{"found": false, "message": "Lookup failed — proceeding without history."}
	}
	c.breaker.RecordSuccess()
	return out
}

// BookService books an appointment from the facts collected on the
// session.
func (c *Client) BookService(ctx context.Context, s *session.Session) map[string]any {
	if !c.breaker.ShouldTry() {
		c.log.Warn("backend breaker open, skipping booking", "callSid", s.CallSID)
		return map[string]any{"booked": false, "error": "V2 backend unavailable"}
	}
	args := map[string]any{
		"customer_name":     s.CustomerName,
		"customer_phone":    s.CallerPhone,
		"issue_description": s.ProblemDescription,
		"service_address":   s.ServiceAddress,
		"preferred_time":    s.PreferredTime,
	}
	out, err := c.post(ctx, "/webhook/retell/book_appointment", envelope(s.CallSID, s.CallerPhone, args))
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("book_service failed", "callSid", s.CallSID, "error", err)
		return map[string]any{"booked": false, "error": err.Error()}
	}
	c.breaker.RecordSuccess()
	return out
}

// CreateCallback files a callback ticket. The reason comes from the turn
// when the machine supplied one; otherwise the collected problem
// description stands in, and the backend default covers the rest.
func (c *Client) CreateCallback(ctx context.Context, s *session.Session, reason string) map[string]any {
	if !c.breaker.ShouldTry() {
		c.log.Warn("backend breaker open, skipping callback", "callSid", s.CallSID)
		return map[string]any{"success": false, "error": "V2 backend unavailable"}
	}
	if reason == "" {
		reason = s.ProblemDescription
	}
	if reason == "" {
		reason = "Callback requested"
	}
	callbackType := s.CallbackType
	if callbackType == "" {
		callbackType = s.LeadType
	}
	if callbackType == "" {
		callbackType = "service"
	}
	urgency := "normal"
	if s.UrgencyTier == session.TierUrgent {
		urgency = "urgent"
	}
	args := map[string]any{
		"reason":        reason,
		"callback_type": callbackType,
		"customer_name": s.CustomerName,
		"urgency":       urgency,
	}
	out, err := c.post(ctx, "/webhook/retell/create_callback", envelope(s.CallSID, s.CallerPhone, args))
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("create_callback failed", "callSid", s.CallSID, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	c.breaker.RecordSuccess()
	return out
}

// SendSalesLeadAlert notifies the sales channel about a high-ticket lead.
func (c *Client) SendSalesLeadAlert(ctx context.Context, s *session.Session, message string) map[string]any {
	if !c.breaker.ShouldTry() {
		c.log.Warn("backend breaker open, skipping sales alert", "callSid", s.CallSID)
		return map[string]any{"success": false, "error": "V2 backend unavailable"}
	}
	if message == "" {
		message = s.ProblemDescription
	}
	// The alert endpoint's call object carries no call_id.
	body := map[string]any{
		"call": map[string]any{"from_number": s.CallerPhone, "metadata": map[string]any{}},
		"args": map[string]any{"execution_message": message},
	}
	out, err := c.post(ctx, "/webhook/retell/send_sales_lead_alert", body)
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("send_sales_lead_alert failed", "callSid", s.CallSID, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	c.breaker.RecordSuccess()
	return out
}

// ManageAppointment reschedules, cancels, or checks an existing booking.
// Optional fields are omitted from the wire when empty.
func (c *Client) ManageAppointment(ctx context.Context, s *session.Session, action, reason, newTime string) map[string]any {
	if !c.breaker.ShouldTry() {
		c.log.Warn("backend breaker open, skipping appointment change", "callSid", s.CallSID)
		return map[string]any{"success": false, "error": "V2 backend unavailable"}
	}
	args := map[string]any{"action": action}
	if s.AppointmentUID != "" {
		args["booking_uid"] = s.AppointmentUID
	}
	if reason != "" {
		args["reason"] = reason
	}
	if newTime != "" {
		args["new_date_time"] = newTime
	}
	out, err := c.post(ctx, "/webhook/retell/manage_appointment", envelope(s.CallSID, s.CallerPhone, args))
	if err != nil {
		c.breaker.RecordFailure()
		c.log.Error("manage_appointment failed", "callSid", s.CallSID, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	c.breaker.RecordSuccess()
	return out
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// envelope wraps tool args in the backend's webhook body shape.
func envelope(callID, phone string, args map[string]any) map[string]any {
	return map[string]any{
		"call": map[string]any{
			"call_id":     callID,
			"from_number": phone,
			"metadata":    map[string]any{},
		},
		"args": args,
	}
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}
