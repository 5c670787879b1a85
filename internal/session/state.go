// Package session holds the per-call mutable state: the dialog [State]
// enumeration and its transition table, the [Session] record mutated by the
// dialog machine, the [Conversation] message list consumed by the LLM, and
// the append-only [Transcript] that feeds every post-call artifact.
//
// A Session is owned by its call's engine goroutine and is not safe for
// concurrent mutation; Conversation and Transcript carry their own locks
// because background workers read snapshots of them while the call runs.
package session

import "slices"

// State identifies the dialog position. States partition into three classes:
// decision states ask a question and advance on user input, action states
// fire exactly one backend tool and advance on its result, and terminal
// states emit a closing script and end the call.
type State int

const (
	// StateWelcome greets the caller and classifies their intent.
	StateWelcome State = iota

	// StateNonService handles billing, hiring, supplier, and wrong-number
	// calls that never enter the service flow.
	StateNonService

	// StateLookup fires the caller lookup tool.
	StateLookup

	// StateFollowUp handles callers chasing an earlier promise to call back.
	StateFollowUp

	// StateManageBooking handles callers with an existing appointment.
	StateManageBooking

	// StateSafety asks the mandatory hazard screening question.
	StateSafety

	// StateSafetyExit ends the call with 911 guidance after a confirmed
	// hazard.
	StateSafetyExit

	// StateServiceArea collects and checks the caller's ZIP code.
	StateServiceArea

	// StateDiscovery collects name, address, and problem description.
	StateDiscovery

	// StateUrgency ranks how soon the visit is needed.
	StateUrgency

	// StateUrgencyCallback promises a rapid human callback for emergencies
	// that are not immediate hazards.
	StateUrgencyCallback

	// StatePreConfirm reads the collected details back for a yes/no.
	StatePreConfirm

	// StateBooking fires the booking tool.
	StateBooking

	// StateBookingFailed apologises and promises a scheduling callback.
	StateBookingFailed

	// StateConfirm confirms the booked visit and wraps up.
	StateConfirm

	// StateCallback records a callback request and wraps up.
	StateCallback
)

var stateNames = map[State]string{
	StateWelcome:         "welcome",
	StateNonService:      "non_service",
	StateLookup:          "lookup",
	StateFollowUp:        "follow_up",
	StateManageBooking:   "manage_booking",
	StateSafety:          "safety",
	StateSafetyExit:      "safety_exit",
	StateServiceArea:     "service_area",
	StateDiscovery:       "discovery",
	StateUrgency:         "urgency",
	StateUrgencyCallback: "urgency_callback",
	StatePreConfirm:      "pre_confirm",
	StateBooking:         "booking",
	StateBookingFailed:   "booking_failed",
	StateConfirm:         "confirm",
	StateCallback:        "callback",
}

// String returns the snake_case name used in logs, prompts, and webhook
// payloads.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// AllStates lists every dialog state. Handler tables are checked against it
// at construction time so a missing handler fails fast instead of at 2 a.m.
// on a live call.
func AllStates() []State {
	states := make([]State, 0, len(stateNames))
	for s := range stateNames {
		states = append(states, s)
	}
	slices.Sort(states)
	return states
}

var (
	decisionStates = map[State]bool{
		StateWelcome:       true,
		StateNonService:    true,
		StateSafety:        true,
		StateServiceArea:   true,
		StateDiscovery:     true,
		StateUrgency:       true,
		StatePreConfirm:    true,
		StateFollowUp:      true,
		StateManageBooking: true,
	}
	actionStates = map[State]bool{
		StateLookup:  true,
		StateBooking: true,
	}
	terminalStates = map[State]bool{
		StateSafetyExit:      true,
		StateConfirm:         true,
		StateCallback:        true,
		StateBookingFailed:   true,
		StateUrgencyCallback: true,
	}
)

// IsDecision reports whether s asks a question and advances on user input.
func (s State) IsDecision() bool { return decisionStates[s] }

// IsAction reports whether s fires exactly one backend tool.
func (s State) IsAction() bool { return actionStates[s] }

// IsTerminal reports whether s ends the call.
func (s State) IsTerminal() bool { return terminalStates[s] }

// legalTransitions is the dialog graph. Terminal states have no outgoing
// edges.
var legalTransitions = map[State][]State{
	StateWelcome:       {StateLookup, StateNonService, StateCallback},
	StateNonService:    {StateSafety, StateCallback},
	StateLookup:        {StateSafety, StateFollowUp, StateManageBooking, StateCallback},
	StateFollowUp:      {StateSafety, StateCallback},
	StateManageBooking: {StateConfirm, StateSafety, StateCallback},
	StateSafety:        {StateServiceArea, StateSafetyExit},
	StateServiceArea:   {StateDiscovery, StateCallback},
	StateDiscovery:     {StateUrgency},
	StateUrgency:       {StatePreConfirm, StateUrgencyCallback, StateCallback},
	StatePreConfirm:    {StateBooking, StateCallback},
	StateBooking:       {StateConfirm, StateBookingFailed},
}

// CanTransition reports whether from → to is a legal dialog move. Callback is
// additionally reachable from every non-terminal state: the turn-limit
// escalation may force it at any point in the flow.
func CanTransition(from, to State) bool {
	if to == StateCallback && !from.IsTerminal() {
		return true
	}
	return slices.Contains(legalTransitions[from], to)
}

// UrgencyTier ranks how quickly a job needs attention. The dialog machine
// assigns Routine, Urgent, or Emergency; the intermediate grades exist for
// the dashboard mapping, which folds tiers into its own urgency scale.
type UrgencyTier int

const (
	// TierRoutine is the default: schedule at the next convenient slot.
	TierRoutine UrgencyTier = iota

	// TierLow maps routine jobs onto the dashboard scale.
	TierLow

	// TierMedium is reserved for dashboard-side triage.
	TierMedium

	// TierHigh maps urgent jobs onto the dashboard scale.
	TierHigh

	// TierUrgent means the caller needs service today.
	TierUrgent

	// TierEmergency means an active hazard was reported.
	TierEmergency
)

var tierNames = map[UrgencyTier]string{
	TierRoutine:   "routine",
	TierLow:       "low",
	TierMedium:    "medium",
	TierHigh:      "high",
	TierUrgent:    "urgent",
	TierEmergency: "emergency",
}

// String returns the lowercase tier name used in prompts and payloads.
func (t UrgencyTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "routine"
}
