package session

import (
	"log/slog"
	"time"
)

// Session is the per-call mutable record. It is created when the carrier
// handshake completes and lives until the post-call pipeline has drained.
//
// The engine goroutine is the sole mutator: the dialog machine and tool
// result handlers run on it, and background extraction results are applied
// on it after being handed back over a channel. Field groups are ordered by
// their writer.
type Session struct {
	// Identity, fixed at creation.
	CallSID     string
	CallerPhone string
	StartedAt   time.Time

	// Dialog position.
	State             State
	StateTurnCount    int
	TurnCount         int
	AgentHasResponded bool

	// Facts from the backend lookup.
	CallerKnown     bool
	CustomerName    string
	ZIPCode         string
	ServiceAddress  string
	HasAppointment  bool
	AppointmentDate string
	AppointmentTime string
	AppointmentUID  string
	CallbackPromise string

	// CallerIntent is the WELCOME keyword classification: service,
	// non_service, follow_up, or manage_booking.
	CallerIntent string

	// Facts from the dialog (extractor- or handler-written, per the
	// field-ownership firewall).
	ProblemDescription string
	EquipmentType      string
	ProblemDuration    string
	PreferredTime      string
	UrgencyTier        UrgencyTier
	LeadType           string // "" or "high_ticket"
	IsThirdParty       bool
	SiteContactName    string
	SiteContactPhone   string

	// CallerConfirmed records the PRE_CONFIRM yes.
	CallerConfirmed bool

	// Booking outcome. BookingConfirmed is set only through
	// [Session.ConfirmBooking] so it can never be true without
	// BookingAttempted.
	BookingAttempted    bool
	BookingConfirmed    bool
	BookedTime          string
	ConfirmationMessage string
	AppointmentID       string

	// Callback outcome.
	CallbackCreated  bool
	CallbackAttempts int
	CallbackType     string // service, billing, warranty, estimate, follow_up, general

	// TerminalReplyUsed enforces the at-most-one scoped reply rule in
	// terminal states.
	TerminalReplyUsed bool

	// The two append-only logs.
	Conversation *Conversation
	Transcript   *Transcript
}

// New creates a Session in the welcome state.
func New(callSID, callerPhone string) *Session {
	return &Session{
		CallSID:      callSID,
		CallerPhone:  callerPhone,
		StartedAt:    time.Now(),
		State:        StateWelcome,
		CallbackType: "service",
		Conversation: NewConversation(),
		Transcript:   NewTranscript(),
	}
}

// TransitionTo moves the dialog to next and resets the per-state turn
// counter. An illegal move is refused: the state is left unchanged, an error
// is logged, and false is returned so tests can assert the full table.
func (s *Session) TransitionTo(next State) bool {
	if !CanTransition(s.State, next) {
		slog.Error("illegal dialog transition refused",
			"callSid", s.CallSID,
			"from", s.State.String(),
			"to", next.String())
		return false
	}
	slog.Debug("dialog transition",
		"callSid", s.CallSID,
		"from", s.State.String(),
		"to", next.String())
	s.State = next
	s.StateTurnCount = 0
	return true
}

// CountTurn records one inbound user exchange. The global counter always
// advances; the per-state counter advances only when the agent has spoken
// since the previous exchange, so a burst of recognition fragments counts as
// a single turn rather than several.
func (s *Session) CountTurn() {
	s.TurnCount++
	if s.AgentHasResponded {
		s.StateTurnCount++
		s.AgentHasResponded = false
	}
}

// ConfirmBooking records a successful booking. Routing both flags through
// one setter keeps BookingConfirmed ⇒ BookingAttempted true by construction.
func (s *Session) ConfirmBooking(bookedTime, confirmation, appointmentID string) {
	s.BookingAttempted = true
	s.BookingConfirmed = true
	s.BookedTime = bookedTime
	s.ConfirmationMessage = confirmation
	s.AppointmentID = appointmentID
}

// Duration returns how long the call has been running.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartedAt)
}
