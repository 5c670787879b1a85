package dialog

import (
	"log/slog"
	"strings"

	"github.com/callweave/callweave/internal/session"
)

// Backend tool names. The set is closed: handlers can only name tools
// listed here, and [Machine.HandleToolResult] only routes these.
const (
	ToolLookupCaller       = "lookup_caller"
	ToolBookService        = "book_service"
	ToolCreateCallback     = "create_callback"
	ToolSendSalesLeadAlert = "send_sales_lead_alert"
	ToolManageAppointment  = "manage_appointment"
)

// Turn budgets. The per-state counter only advances when the agent has
// spoken since the last user exchange (see [session.Session.CountTurn]).
const (
	maxStateTurns = 5
	maxCallTurns  = 30
)

// ToolCall names a backend tool plus the arguments resolved from the
// current turn. Arguments the backend derives from the session itself
// (caller phone, call SID, collected facts) are not duplicated here.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Action is the machine's verdict on one user turn. The zero value means
// "do nothing and say nothing": handlers set NeedsLLM explicitly whenever
// the model should produce the next line.
type Action struct {
	// Speak is canned text to synthesize immediately, before any tool
	// call completes.
	Speak string
	// CallTool names the backend tool to invoke, if any.
	CallTool *ToolCall
	// EndCall requests teardown once pending speech has drained.
	EndCall bool
	// NeedsLLM asks the model for the next agent line.
	NeedsLLM bool
}

type (
	handlerFunc    func(*session.Session, string) Action
	toolResultFunc func(*session.Session, map[string]any)
)

// Machine decides every transition and every tool call from keyword
// evidence; the model never chooses either. Both dispatch tables are
// built once in [NewMachine] and never mutated, so a Machine is safe to
// share across concurrent calls. All per-call state lives in the Session.
type Machine struct {
	handlers    map[session.State]handlerFunc
	toolResults map[string]toolResultFunc
	log         *slog.Logger
}

// NewMachine builds the closed dispatch tables.
func NewMachine(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{log: log}
	m.handlers = map[session.State]handlerFunc{
		session.StateWelcome:         m.handleWelcome,
		session.StateNonService:      m.handleNonService,
		session.StateLookup:          m.handleLookup,
		session.StateFollowUp:        m.handleFollowUp,
		session.StateManageBooking:   m.handleManageBooking,
		session.StateSafety:          m.handleSafety,
		session.StateSafetyExit:      m.handleSafetyExit,
		session.StateServiceArea:     m.handleServiceArea,
		session.StateDiscovery:       m.handleDiscovery,
		session.StateUrgency:         m.handleUrgency,
		session.StateUrgencyCallback: m.handleCallbackTerminal,
		session.StatePreConfirm:      m.handlePreConfirm,
		session.StateBooking:         m.handleBooking,
		session.StateBookingFailed:   m.handleBookingFailed,
		session.StateConfirm:         m.handleConfirm,
		session.StateCallback:        m.handleCallbackTerminal,
	}
	m.toolResults = map[string]toolResultFunc{
		ToolLookupCaller:       m.lookupCallerResult,
		ToolBookService:        m.bookServiceResult,
		ToolCreateCallback:     m.createCallbackResult,
		ToolSendSalesLeadAlert: m.salesLeadAlertResult,
		ToolManageAppointment:  m.manageAppointmentResult,
	}
	return m
}

// Process advances the dialog by one user turn. It is synchronous and
// deterministic: identical session state and text always yield the same
// action. All mutation happens here or in [Machine.HandleToolResult],
// both invoked from the call's processor goroutine only.
func (m *Machine) Process(s *session.Session, text string) Action {
	s.CountTurn()

	if s.TurnCount > maxCallTurns {
		return m.escalate(s, "Call ran past the turn budget, needs a human follow-up.", true)
	}
	if s.StateTurnCount > maxStateTurns && !s.State.IsTerminal() {
		return m.escalate(s, "Conversation stalled in "+s.State.String()+", needs a human follow-up.", false)
	}

	handler, ok := m.handlers[s.State]
	if !ok {
		m.log.Error("no handler for dialog state", "state", s.State.String())
		return Action{NeedsLLM: true}
	}
	return handler(s, text)
}

// HandleToolResult applies a backend tool outcome to the session. Unknown
// tool names are logged and ignored rather than taking the call down.
func (m *Machine) HandleToolResult(s *session.Session, tool string, result map[string]any) {
	handler, ok := m.toolResults[tool]
	if !ok {
		m.log.Error("no result handler for tool", "tool", tool)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	handler(s, result)
}

// escalate forces the CALLBACK terminal when a turn budget trips.
func (m *Machine) escalate(s *session.Session, reason string, end bool) Action {
	m.log.Warn("turn limit reached",
		"callSid", s.CallSID,
		"state", s.State.String(),
		"turnCount", s.TurnCount,
		"stateTurnCount", s.StateTurnCount)
	if !s.State.IsTerminal() {
		s.TransitionTo(session.StateCallback)
	}
	act := Action{EndCall: end, NeedsLLM: true}
	if !s.CallbackCreated {
		act.CallTool = &ToolCall{Name: ToolCreateCallback, Args: map[string]any{"reason": reason}}
	}
	return act
}

// --- Decision and action state handlers ---

func (m *Machine) handleWelcome(s *session.Session, text string) Action {
	s.CallerIntent = ClassifyIntent(text)
	if s.CallerIntent == "non_service" {
		s.TransitionTo(session.StateNonService)
		return Action{NeedsLLM: true}
	}
	if DetectCallbackRequest(text) {
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	}
	// The follow_up and manage_booking hints ride along in CallerIntent;
	// the lookup result handler picks the successor once facts arrive.
	s.TransitionTo(session.StateLookup)
	return Action{CallTool: &ToolCall{Name: ToolLookupCaller}}
}

func (m *Machine) handleNonService(s *session.Session, text string) Action {
	switch {
	case DetectPropertyManager(text):
		// Third-party service request, not vendor traffic. Run the
		// normal service flow for the managed unit.
		s.IsThirdParty = true
		s.TransitionTo(session.StateSafety)
		return Action{NeedsLLM: true}
	case MatchAny(text, billingKeywords):
		s.CallbackType = "billing"
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	case DetectCallbackRequest(text):
		s.CallbackType = "general"
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	case DetectServiceIssue(text):
		s.CallerIntent = "service"
		s.TransitionTo(session.StateSafety)
		return Action{NeedsLLM: true}
	default:
		// Vendors, applicants, misdials: the model answers from the
		// NON_SERVICE playbook until the caller hangs up.
		return Action{NeedsLLM: true}
	}
}

func (m *Machine) handleLookup(s *session.Session, text string) Action {
	// The caller spoke while the lookup was in flight. Re-fire the read
	// rather than stall; it is idempotent.
	return Action{CallTool: &ToolCall{Name: ToolLookupCaller}}
}

func (m *Machine) handleFollowUp(s *session.Session, text string) Action {
	switch {
	case DetectCallbackRequest(text):
		s.CallbackType = "follow_up"
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	case MatchAny(text, newIssueKeywords):
		// Fresh problem outranks the old thread; run the service flow.
		s.TransitionTo(session.StateSafety)
		return Action{NeedsLLM: true}
	case DetectYes(text):
		// Agreement to the offered callback.
		s.CallbackType = "follow_up"
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	default:
		return Action{NeedsLLM: true}
	}
}

func (m *Machine) handleManageBooking(s *session.Session, text string) Action {
	switch {
	case DetectCallbackRequest(text):
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	case MatchAny(text, cancelKeywords):
		return Action{
			Speak: "Sure, one second while I pull that up.",
			CallTool: &ToolCall{Name: ToolManageAppointment, Args: map[string]any{
				"action": "cancel",
				"reason": strings.TrimSpace(text),
			}},
		}
	case MatchAny(text, rescheduleKeywords):
		if MatchAny(text, dayTimeKeywords) || strings.ContainsAny(text, "0123456789") {
			return Action{
				Speak: "Okay, one second.",
				CallTool: &ToolCall{Name: ToolManageAppointment, Args: map[string]any{
					"action":        "reschedule",
					"new_date_time": strings.TrimSpace(text),
				}},
			}
		}
		// No target time yet; the model asks "when works better?".
		return Action{NeedsLLM: true}
	case MatchAny(text, newIssueKeywords):
		s.TransitionTo(session.StateSafety)
		return Action{NeedsLLM: true}
	default:
		return Action{NeedsLLM: true}
	}
}

func (m *Machine) handleSafety(s *session.Session, text string) Action {
	if DetectSafetyEmergency(text) {
		s.UrgencyTier = session.TierEmergency
		s.TransitionTo(session.StateSafetyExit)
		return Action{Speak: TerminalScript(s), EndCall: true}
	}
	if DetectSafetyClear(text) {
		s.TransitionTo(session.StateServiceArea)
		return Action{NeedsLLM: true}
	}
	// Ambiguous or retracted; the model double-checks.
	return Action{NeedsLLM: true}
}

func (m *Machine) handleServiceArea(s *session.Session, text string) Action {
	if s.ZIPCode == "" {
		s.ZIPCode = MatchZIP(text)
	}
	if s.ZIPCode == "" {
		return Action{NeedsLLM: true}
	}
	if IsServiceArea(s.ZIPCode) {
		s.TransitionTo(session.StateDiscovery)
		return Action{NeedsLLM: true}
	}
	s.TransitionTo(session.StateCallback)
	return Action{
		CallTool: &ToolCall{Name: ToolCreateCallback, Args: map[string]any{
			"reason": "Outside service area, ZIP " + s.ZIPCode,
		}},
		NeedsLLM: true,
	}
}

func (m *Machine) handleDiscovery(s *session.Session, text string) Action {
	// Extraction proposals may have landed junk since the last turn;
	// re-validate before gating the transition on these fields.
	s.CustomerName = ValidateName(s.CustomerName)
	s.ServiceAddress = ValidateAddress(NormalizeAddress(s.ServiceAddress))
	if s.CustomerName != "" && s.ProblemDescription != "" && s.ServiceAddress != "" {
		s.TransitionTo(session.StateUrgency)
	}
	return Action{NeedsLLM: true}
}

func (m *Machine) handleUrgency(s *session.Session, text string) Action {
	if DetectHighTicket(text) {
		s.LeadType = "high_ticket"
		s.TransitionTo(session.StateCallback)
		return Action{
			CallTool: &ToolCall{Name: ToolSendSalesLeadAlert, Args: map[string]any{
				"execution_message": salesAlertMessage(s, text),
			}},
			NeedsLLM: true,
		}
	}
	if DetectCallbackRequest(text) {
		s.TransitionTo(session.StateUrgencyCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	}
	switch {
	case MatchAny(text, urgentKeywords):
		s.UrgencyTier = session.TierUrgent
	case MatchAny(text, routineKeywords):
		s.UrgencyTier = session.TierRoutine
	case MatchAny(text, dayTimeKeywords):
		s.UrgencyTier = session.TierRoutine
		if s.PreferredTime == "" {
			s.PreferredTime = strings.TrimSpace(text)
		}
	default:
		// Tier still unclear; the model asks the urgency question.
		return Action{NeedsLLM: true}
	}
	s.TransitionTo(session.StatePreConfirm)
	return Action{NeedsLLM: true}
}

func (m *Machine) handlePreConfirm(s *session.Session, text string) Action {
	if DetectCallbackRequest(text) {
		s.TransitionTo(session.StateCallback)
		return Action{CallTool: callbackTool(text), NeedsLLM: true}
	}
	if DetectHighTicket(text) {
		s.LeadType = "high_ticket"
	}
	if DetectYes(text) {
		s.CallerConfirmed = true
		if s.LeadType == "high_ticket" {
			s.TransitionTo(session.StateCallback)
			return Action{
				CallTool: &ToolCall{Name: ToolSendSalesLeadAlert, Args: map[string]any{
					"execution_message": salesAlertMessage(s, text),
				}},
				NeedsLLM: true,
			}
		}
		s.BookingAttempted = true
		s.TransitionTo(session.StateBooking)
		return Action{
			Speak:    "Let me check what we've got open...",
			CallTool: &ToolCall{Name: ToolBookService},
		}
	}
	// Corrections flow through the extractor; read back again.
	return Action{NeedsLLM: true}
}

func (m *Machine) handleBooking(s *session.Session, text string) Action {
	if s.BookingAttempted {
		// Utterance while the booking call is in flight. Never fire a
		// second booking; the text is preserved in context upstream.
		return Action{}
	}
	s.BookingAttempted = true
	return Action{
		Speak:    "Let me check what we've got open...",
		CallTool: &ToolCall{Name: ToolBookService},
	}
}

// --- Terminal state handlers ---

func (m *Machine) handleSafetyExit(s *session.Session, text string) Action {
	// The evacuation script already played on entry. Do not negotiate.
	return Action{EndCall: true}
}

func (m *Machine) handleConfirm(s *session.Session, text string) Action {
	// Post-booking wrap-up: answer one follow-up, then close.
	if s.StateTurnCount >= 2 {
		return Action{EndCall: true, NeedsLLM: true}
	}
	return Action{NeedsLLM: true}
}

func (m *Machine) handleBookingFailed(s *session.Session, text string) Action {
	if s.CallbackCreated || s.CallbackAttempts >= 2 {
		return Action{EndCall: true, NeedsLLM: true}
	}
	if MatchAny(text, declineKeywords) {
		return Action{EndCall: true, NeedsLLM: true}
	}
	if DetectYes(text) || DetectCallbackRequest(text) {
		return Action{
			CallTool: &ToolCall{Name: ToolCreateCallback, Args: map[string]any{
				"reason": "Booking failed, caller accepted a callback",
			}},
			NeedsLLM: true,
		}
	}
	return Action{NeedsLLM: true}
}

// handleCallbackTerminal serves both CALLBACK and URGENCY_CALLBACK: file
// the callback ticket if it has not landed yet, then wrap up. After two
// failed attempts the call ends without a ticket rather than looping.
func (m *Machine) handleCallbackTerminal(s *session.Session, text string) Action {
	if s.CallbackCreated || s.CallbackAttempts >= 2 {
		return Action{EndCall: true, NeedsLLM: true}
	}
	return Action{CallTool: callbackTool(text), NeedsLLM: true}
}

// --- Tool result handlers ---

func (m *Machine) lookupCallerResult(s *session.Session, result map[string]any) {
	s.CallerKnown = boolField(result, "found")
	s.CustomerName = ValidateName(stringField(result, "customerName", "customer_name"))
	s.ZIPCode = ValidateZIP(stringField(result, "zipCode", "zip_code"))
	s.CallbackPromise = stringField(result, "callbackPromise", "callback_promise")
	if a := ValidateAddress(NormalizeAddress(stringField(result, "address"))); a != "" {
		s.ServiceAddress = a
	}

	switch appt := result["upcomingAppointment"].(type) {
	case map[string]any:
		s.HasAppointment = len(appt) > 0
		s.AppointmentDate = stringField(appt, "date")
		s.AppointmentTime = stringField(appt, "time")
		s.AppointmentUID = stringField(appt, "bookingUid", "booking_uid", "uid")
	case string:
		s.HasAppointment = appt != ""
		s.AppointmentDate = appt
	case bool:
		s.HasAppointment = appt
	}

	switch {
	case s.CallerIntent == "manage_booking" && s.HasAppointment:
		s.TransitionTo(session.StateManageBooking)
	case s.CallerIntent == "follow_up",
		s.CallerIntent == "manage_booking" && !s.HasAppointment:
		// Manage-intent with nothing on file reads as "chasing us about
		// something", which is the follow-up playbook.
		s.TransitionTo(session.StateFollowUp)
	default:
		s.TransitionTo(session.StateSafety)
	}
}

func (m *Machine) bookServiceResult(s *session.Session, result map[string]any) {
	booked := boolField(result, "booked") || boolField(result, "booking_confirmed")
	if !booked {
		m.log.Warn("booking failed",
			"callSid", s.CallSID,
			"error", stringField(result, "error"))
		s.TransitionTo(session.StateBookingFailed)
		return
	}
	s.ConfirmBooking(
		stringField(result, "booking_time", "appointment_time"),
		stringField(result, "confirmationMessage", "confirmation_message", "message"),
		stringField(result, "appointmentId", "appointment_id", "booking_uid"),
	)
	s.TransitionTo(session.StateConfirm)
}

func (m *Machine) createCallbackResult(s *session.Session, result map[string]any) {
	if boolField(result, "success") {
		s.CallbackCreated = true
		return
	}
	s.CallbackAttempts++
	m.log.Warn("callback creation failed",
		"callSid", s.CallSID,
		"attempts", s.CallbackAttempts,
		"error", stringField(result, "error"))
}

func (m *Machine) salesLeadAlertResult(s *session.Session, result map[string]any) {
	if !boolField(result, "success") {
		m.log.Warn("sales lead alert failed",
			"callSid", s.CallSID,
			"error", stringField(result, "error"))
	}
}

func (m *Machine) manageAppointmentResult(s *session.Session, result map[string]any) {
	if boolField(result, "success") {
		if msg := stringField(result, "message"); msg != "" {
			s.ConfirmationMessage = msg
		}
		s.TransitionTo(session.StateConfirm)
		return
	}
	m.log.Warn("appointment change failed",
		"callSid", s.CallSID,
		"error", stringField(result, "error"))
	s.TransitionTo(session.StateCallback)
}

// --- Helpers ---

// callbackTool builds a create_callback call whose reason is the caller's
// own words, with a generic fallback for empty turns.
func callbackTool(text string) *ToolCall {
	reason := strings.TrimSpace(text)
	if reason == "" {
		reason = "Callback requested"
	}
	return &ToolCall{Name: ToolCreateCallback, Args: map[string]any{"reason": reason}}
}

func salesAlertMessage(s *session.Session, text string) string {
	msg := "High-ticket lead: caller wants a replacement or new system."
	if s.CustomerName != "" {
		msg += " Name: " + s.CustomerName + "."
	}
	if t := strings.TrimSpace(text); t != "" {
		msg += ` Caller said: "` + t + `"`
	}
	return msg
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
