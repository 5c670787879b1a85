package postcall

import (
	"time"

	"github.com/callweave/callweave/internal/classify"
	"github.com/callweave/callweave/internal/session"
)

// EndCallReason derives the dashboard outcome label from the final dialog
// position. Safety trumps everything; a confirmed booking reads as completed;
// the callback terminals split on whether the lead was flagged high-ticket.
// Anything else is treated as the caller hanging up mid-flow.
func EndCallReason(s *session.Session) string {
	switch {
	case s.State == session.StateSafetyExit:
		return "safety_emergency"
	case s.State == session.StateConfirm && s.BookingConfirmed:
		return "completed"
	case s.State == session.StateCallback || s.State == session.StateUrgencyCallback:
		if s.LeadType == "high_ticket" {
			return "sales_lead"
		}
		return "callback_later"
	default:
		return "customer_hangup"
	}
}

// BookingStatus collapses the booking flags into the three dashboard values.
func BookingStatus(s *session.Session) string {
	switch {
	case s.BookingConfirmed:
		return "confirmed"
	case s.BookingAttempted:
		return "attempted_failed"
	default:
		return "not_requested"
	}
}

// JobPayload builds the job webhook document. Classification runs here, over
// the finished transcript, so the same session always yields the same row.
func JobPayload(s *session.Session, userEmail string) map[string]any {
	text := s.Transcript.PlainText()
	tags := classify.Classify(s, text)
	priority := classify.DetectPriority(tags)
	revenue := classify.EstimateRevenue(text, s.ProblemDescription)

	name := s.CustomerName
	if name == "" {
		name = "Unknown Caller"
	}
	phone := s.CallerPhone
	if phone == "" {
		phone = "unknown"
	}

	intent := "new_lead"
	if s.BookingConfirmed {
		intent = "booking_request"
	}

	payload := map[string]any{
		"customer_name":        name,
		"customer_phone":       phone,
		"customer_address":     s.ServiceAddress,
		"service_type":         "hvac",
		"urgency":              classify.DashboardUrgency(s.UrgencyTier),
		"user_email":           userEmail,
		"call_id":              s.CallSID,
		"call_transcript":      text,
		"transcript_object":    s.Transcript.Structured(),
		"booking_status":       BookingStatus(s),
		"end_call_reason":      EndCallReason(s),
		"issue_description":    s.ProblemDescription,
		"tags":                 tags,
		"priority_color":       priority.Color,
		"priority_reason":      priority.Reason,
		"revenue_tier":         revenue.Tier,
		"revenue_tier_label":   revenue.Label,
		"revenue_tier_signals": revenue.Signals,
		"revenue_confidence":   revenue.Confidence,
		"caller_type":          "residential",
		"primary_intent":       intent,
		"work_type":            "service",
	}
	if s.BookingConfirmed && s.BookedTime != "" {
		payload["scheduled_at"] = s.BookedTime
	}
	return payload
}

// CallPayload builds the call webhook document. The transcript here keeps
// agent and caller turns only; tool activity stays out of the call record.
// leadID and jobID link the call to the job row when the job POST returned
// them.
func CallPayload(s *session.Session, endedAt time.Time, userEmail, leadID, jobID string) map[string]any {
	phone := s.CallerPhone
	if phone == "" {
		phone = "unknown"
	}

	entries := s.Transcript.RoleFiltered()
	turns := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		turns = append(turns, map[string]any{
			"role":    e.Role,
			"content": e.Content,
		})
	}

	payload := map[string]any{
		"call_id":             s.CallSID,
		"phone_number":        phone,
		"customer_name":       s.CustomerName,
		"user_email":          userEmail,
		"started_at":          s.StartedAt.UTC().Format(time.RFC3339),
		"ended_at":            endedAt.UTC().Format(time.RFC3339),
		"duration_seconds":    int(endedAt.Sub(s.StartedAt).Seconds()),
		"direction":           "inbound",
		"outcome":             EndCallReason(s),
		"urgency_tier":        classify.DashboardUrgency(s.UrgencyTier),
		"problem_description": s.ProblemDescription,
		"booking_status":      BookingStatus(s),
		"transcript_object":   turns,
	}
	if leadID != "" {
		payload["lead_id"] = leadID
	}
	if jobID != "" {
		payload["job_id"] = jobID
	}
	return payload
}

// AlertPayload builds the emergency alert document sent when a call ends in
// the safety exit. The promised callback window is fixed at thirty minutes;
// dispatch owns anything faster.
func AlertPayload(s *session.Session, userEmail string, now time.Time) map[string]any {
	phone := s.CallerPhone
	if phone == "" {
		phone = "unknown"
	}
	problem := s.ProblemDescription
	if problem == "" {
		problem = "Safety emergency detected"
	}
	return map[string]any{
		"call_id":                   s.CallSID,
		"phone_number":              phone,
		"customer_name":             s.CustomerName,
		"customer_address":          s.ServiceAddress,
		"problem_description":       problem,
		"user_email":                userEmail,
		"sms_sent_at":               now.UTC().Format(time.RFC3339),
		"callback_promised_minutes": 30,
	}
}
