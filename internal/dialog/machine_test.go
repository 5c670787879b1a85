package dialog

import (
	"testing"

	"github.com/callweave/callweave/internal/session"
)

func newTestSession(st session.State) *session.Session {
	s := session.New("CA-test", "+15125550100")
	s.State = st
	return s
}

// respond marks the agent as having spoken, as the processor does after
// each reply, so the per-state turn counter advances.
func respond(s *session.Session) {
	s.AgentHasResponded = true
}

func TestNewMachineCoversAllStates(t *testing.T) {
	m := NewMachine(nil)
	for _, st := range session.AllStates() {
		if _, ok := m.handlers[st]; !ok {
			t.Errorf("no handler registered for state %v", st)
		}
	}
	if got, want := len(m.handlers), len(session.AllStates()); got != want {
		t.Errorf("handler table has %d entries, want %d", got, want)
	}
	for _, tool := range []string{
		ToolLookupCaller, ToolBookService, ToolCreateCallback,
		ToolSendSalesLeadAlert, ToolManageAppointment,
	} {
		if _, ok := m.toolResults[tool]; !ok {
			t.Errorf("no result handler registered for tool %q", tool)
		}
	}
}

func TestWelcomeServiceGoesToLookupSilently(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateWelcome)

	act := m.Process(s, "my AC is blowing warm air")

	if s.State != session.StateLookup {
		t.Fatalf("state = %v, want %v", s.State, session.StateLookup)
	}
	if s.CallerIntent != "service" {
		t.Errorf("CallerIntent = %q, want %q", s.CallerIntent, "service")
	}
	if act.CallTool == nil || act.CallTool.Name != ToolLookupCaller {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolLookupCaller)
	}
	if act.NeedsLLM {
		t.Error("NeedsLLM = true for silent lookup, want false")
	}
	if act.Speak != "" {
		t.Errorf("Speak = %q for silent lookup, want empty", act.Speak)
	}
}

func TestWelcomeNonServiceRoutes(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateWelcome)

	act := m.Process(s, "I have a question about my bill")

	if s.State != session.StateNonService {
		t.Fatalf("state = %v, want %v", s.State, session.StateNonService)
	}
	if !act.NeedsLLM {
		t.Error("NeedsLLM = false, want true")
	}
	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil", act.CallTool)
	}
}

func TestWelcomeCallbackRequest(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateWelcome)

	act := m.Process(s, "just have someone call me back")

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateCallback)
	}
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}
	if reason, _ := act.CallTool.Args["reason"].(string); reason == "" {
		t.Error("callback reason is empty, want the caller's words")
	}
}

func TestNonServiceRouting(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantState session.State
		wantTool  string
		wantType  string
	}{
		{"property manager", "I'm the property manager for a rental property", session.StateSafety, "", "service"},
		{"billing callback", "it's about an invoice from last month", session.StateCallback, ToolCreateCallback, "billing"},
		{"explicit callback", "just have the owner call me", session.StateCallback, ToolCreateCallback, "general"},
		{"service pivot", "actually my furnace is broken", session.StateSafety, "", "service"},
		{"vendor stays", "I'm a parts supplier, looking for your purchasing contact", session.StateNonService, "", "service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			s := newTestSession(session.StateNonService)

			act := m.Process(s, tt.text)

			if s.State != tt.wantState {
				t.Errorf("state = %v, want %v", s.State, tt.wantState)
			}
			switch {
			case tt.wantTool == "" && act.CallTool != nil:
				t.Errorf("CallTool = %+v, want nil", act.CallTool)
			case tt.wantTool != "" && (act.CallTool == nil || act.CallTool.Name != tt.wantTool):
				t.Errorf("CallTool = %+v, want %s", act.CallTool, tt.wantTool)
			}
			if s.CallbackType != tt.wantType {
				t.Errorf("CallbackType = %q, want %q", s.CallbackType, tt.wantType)
			}
		})
	}
}

func TestNonServicePropertyManagerMarksThirdParty(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateNonService)

	m.Process(s, "I manage the building, the unit is at 500 Oak")

	if !s.IsThirdParty {
		t.Error("IsThirdParty = false, want true")
	}
}

func TestSafetyEmergencySpeaksScriptAndEnds(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	act := m.Process(s, "yes, I can smell gas right now")

	if s.State != session.StateSafetyExit {
		t.Fatalf("state = %v, want %v", s.State, session.StateSafetyExit)
	}
	if s.UrgencyTier != session.TierEmergency {
		t.Errorf("UrgencyTier = %v, want %v", s.UrgencyTier, session.TierEmergency)
	}
	if act.Speak != SafetyExitScript {
		t.Errorf("Speak = %q, want the evacuation script", act.Speak)
	}
	if !act.EndCall {
		t.Error("EndCall = false, want true")
	}
	if act.NeedsLLM {
		t.Error("NeedsLLM = true, want false: the script is canned")
	}
}

func TestSafetyClearAdvances(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	m.Process(s, "no, nothing like that")

	if s.State != session.StateServiceArea {
		t.Errorf("state = %v, want %v", s.State, session.StateServiceArea)
	}
}

func TestSafetyDoesNotClearOnEmbeddedNo(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	// "noticed" and "know" must not read as "no".
	m.Process(s, "I noticed it yesterday, you know")

	if s.State != session.StateSafety {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateSafety)
	}
}

func TestSafetyRetractionStaysForDoubleCheck(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	act := m.Process(s, "I smelled gas last week but don't worry")

	if s.State != session.StateSafety {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateSafety)
	}
	if !act.NeedsLLM {
		t.Error("NeedsLLM = false, want true for the double-check")
	}
}

func TestServiceAreaAcceptsSpokenZIP(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateServiceArea)

	m.Process(s, "it's seven eight seven zero one")

	if s.ZIPCode != "78701" {
		t.Fatalf("ZIPCode = %q, want %q", s.ZIPCode, "78701")
	}
	if s.State != session.StateDiscovery {
		t.Errorf("state = %v, want %v", s.State, session.StateDiscovery)
	}
}

func TestServiceAreaOutOfAreaGoesToCallback(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateServiceArea)

	act := m.Process(s, "I'm in 10001")

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateCallback)
	}
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Errorf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}
}

func TestServiceAreaStaysWithoutZIP(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateServiceArea)

	act := m.Process(s, "I'm not sure, let me check")

	if s.State != session.StateServiceArea {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateServiceArea)
	}
	if !act.NeedsLLM {
		t.Error("NeedsLLM = false, want true")
	}
}

func TestServiceAreaUsesPrefilledZIP(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateServiceArea)
	s.ZIPCode = "78745"

	m.Process(s, "like I said, the AC is out")

	if s.State != session.StateDiscovery {
		t.Errorf("state = %v, want %v", s.State, session.StateDiscovery)
	}
}

func TestDiscoveryAdvancesWhenComplete(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateDiscovery)
	s.CustomerName = "Dana Whitfield"
	s.ProblemDescription = "AC not cooling"
	s.ServiceAddress = "53 Eleven Izzical Road"

	m.Process(s, "that's everything")

	if s.State != session.StateUrgency {
		t.Fatalf("state = %v, want %v", s.State, session.StateUrgency)
	}
	if s.ServiceAddress != "5311 Izzical Road" {
		t.Errorf("ServiceAddress = %q, want normalized %q", s.ServiceAddress, "5311 Izzical Road")
	}
}

func TestDiscoveryRejectsJunkAndStays(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateDiscovery)
	s.CustomerName = "{{customer_name}}"
	s.ProblemDescription = "AC not cooling"
	s.ServiceAddress = "5311 Izzical Road"

	m.Process(s, "uh huh")

	if s.State != session.StateDiscovery {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateDiscovery)
	}
	if s.CustomerName != "" {
		t.Errorf("CustomerName = %q, want cleared", s.CustomerName)
	}
}

func TestUrgencyTiers(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantState     session.State
		wantTier      session.UrgencyTier
		wantPreferred string
	}{
		{"urgent", "I need someone out here asap", session.StatePreConfirm, session.TierUrgent, ""},
		{"routine", "no rush at all", session.StatePreConfirm, session.TierRoutine, ""},
		{"day sets preference", "thursday morning would be great", session.StatePreConfirm, session.TierRoutine, "thursday morning would be great"},
		{"unclear stays", "hmm, let me think", session.StateUrgency, session.TierRoutine, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			s := newTestSession(session.StateUrgency)

			m.Process(s, tt.text)

			if s.State != tt.wantState {
				t.Errorf("state = %v, want %v", s.State, tt.wantState)
			}
			if s.UrgencyTier != tt.wantTier {
				t.Errorf("UrgencyTier = %v, want %v", s.UrgencyTier, tt.wantTier)
			}
			if s.PreferredTime != tt.wantPreferred {
				t.Errorf("PreferredTime = %q, want %q", s.PreferredTime, tt.wantPreferred)
			}
		})
	}
}

func TestUrgencyHighTicketSendsSalesAlert(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateUrgency)

	act := m.Process(s, "actually, how much for a whole new system?")

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateCallback)
	}
	if s.LeadType != "high_ticket" {
		t.Errorf("LeadType = %q, want %q", s.LeadType, "high_ticket")
	}
	if act.CallTool == nil || act.CallTool.Name != ToolSendSalesLeadAlert {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolSendSalesLeadAlert)
	}
	if msg, _ := act.CallTool.Args["execution_message"].(string); msg == "" {
		t.Error("execution_message is empty")
	}
}

func TestUrgencyCallbackRequest(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateUrgency)

	act := m.Process(s, "just have someone call me back about it")

	if s.State != session.StateUrgencyCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateUrgencyCallback)
	}
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Errorf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}
}

func TestPreConfirmYesBooks(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StatePreConfirm)

	act := m.Process(s, "yes, that's all correct")

	if s.State != session.StateBooking {
		t.Fatalf("state = %v, want %v", s.State, session.StateBooking)
	}
	if !s.CallerConfirmed {
		t.Error("CallerConfirmed = false, want true")
	}
	if !s.BookingAttempted {
		t.Error("BookingAttempted = false, want true")
	}
	if act.CallTool == nil || act.CallTool.Name != ToolBookService {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolBookService)
	}
	if act.Speak == "" {
		t.Error("Speak is empty, want an acknowledgment while booking runs")
	}
	if act.NeedsLLM {
		t.Error("NeedsLLM = true, want false while booking is in flight")
	}
}

func TestPreConfirmHighTicketYesRoutesToSales(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StatePreConfirm)
	s.LeadType = "high_ticket"

	act := m.Process(s, "yeah, sounds good")

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateCallback)
	}
	if act.CallTool == nil || act.CallTool.Name != ToolSendSalesLeadAlert {
		t.Errorf("CallTool = %+v, want %s", act.CallTool, ToolSendSalesLeadAlert)
	}
	if s.BookingAttempted {
		t.Error("BookingAttempted = true, want false for a sales lead")
	}
}

func TestPreConfirmCorrectionStays(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StatePreConfirm)

	act := m.Process(s, "actually the address is 500 Oak Street")

	if s.State != session.StatePreConfirm {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StatePreConfirm)
	}
	if !act.NeedsLLM {
		t.Error("NeedsLLM = false, want true for the re-read")
	}
}

func TestBookingSwallowsInFlightUtterances(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBooking)
	s.BookingAttempted = true

	act := m.Process(s, "hello? you still there?")

	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil: no double booking", act.CallTool)
	}
	if act.NeedsLLM || act.EndCall || act.Speak != "" {
		t.Errorf("action = %+v, want zero action while booking is in flight", act)
	}
}

func TestBookingFiresOnceIfEnteredDirectly(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBooking)

	first := m.Process(s, "okay")
	second := m.Process(s, "okay?")

	if first.CallTool == nil || first.CallTool.Name != ToolBookService {
		t.Fatalf("first CallTool = %+v, want %s", first.CallTool, ToolBookService)
	}
	if second.CallTool != nil {
		t.Errorf("second CallTool = %+v, want nil", second.CallTool)
	}
}

func TestManageBookingCancel(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	act := m.Process(s, "I need to cancel it")

	if act.CallTool == nil || act.CallTool.Name != ToolManageAppointment {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolManageAppointment)
	}
	if got, _ := act.CallTool.Args["action"].(string); got != "cancel" {
		t.Errorf("action arg = %q, want %q", got, "cancel")
	}
	if s.State != session.StateManageBooking {
		t.Errorf("state = %v, want to stay until the result routes", s.State)
	}
}

func TestManageBookingRescheduleNeedsTime(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	act := m.Process(s, "I'd like to reschedule")

	if act.CallTool != nil {
		t.Fatalf("CallTool = %+v, want nil until a time is given", act.CallTool)
	}
	if !act.NeedsLLM {
		t.Error("NeedsLLM = false, want true to ask for a time")
	}
}

func TestManageBookingRescheduleWithTime(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	act := m.Process(s, "can we reschedule to thursday afternoon")

	if act.CallTool == nil || act.CallTool.Name != ToolManageAppointment {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolManageAppointment)
	}
	if got, _ := act.CallTool.Args["action"].(string); got != "reschedule" {
		t.Errorf("action arg = %q, want %q", got, "reschedule")
	}
	if got, _ := act.CallTool.Args["new_date_time"].(string); got == "" {
		t.Error("new_date_time arg is empty")
	}
}

func TestManageBookingNewIssueGoesToSafety(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	m.Process(s, "also the upstairs unit stopped working")

	if s.State != session.StateSafety {
		t.Errorf("state = %v, want %v", s.State, session.StateSafety)
	}
}

func TestManageBookingStatusCheckStays(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	m.Process(s, "just checking on my appointment")

	if s.State != session.StateManageBooking {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateManageBooking)
	}
}

func TestFollowUpRouting(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantState session.State
	}{
		{"callback request", "just have someone call me back", session.StateCallback},
		{"new issue", "there's a new problem, it's leaking now", session.StateSafety},
		{"agreement", "yes please", session.StateCallback},
		{"venting stays", "I've been waiting for days", session.StateFollowUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			s := newTestSession(session.StateFollowUp)

			m.Process(s, tt.text)

			if s.State != tt.wantState {
				t.Errorf("state = %v, want %v", s.State, tt.wantState)
			}
			if tt.wantState == session.StateCallback && s.CallbackType != "follow_up" {
				t.Errorf("CallbackType = %q, want %q", s.CallbackType, "follow_up")
			}
		})
	}
}

func TestCallbackTerminalFlow(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateCallback)

	act := m.Process(s, "sure, this number works")
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}

	m.HandleToolResult(s, ToolCreateCallback, map[string]any{"success": true})
	if !s.CallbackCreated {
		t.Fatal("CallbackCreated = false after success result")
	}

	act = m.Process(s, "thanks")
	if !act.EndCall {
		t.Error("EndCall = false after callback created, want true")
	}
	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil", act.CallTool)
	}
}

func TestCallbackGivesUpAfterTwoFailures(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateCallback)

	for i := 0; i < 2; i++ {
		act := m.Process(s, "okay")
		if act.CallTool == nil {
			t.Fatalf("attempt %d: CallTool = nil, want %s", i+1, ToolCreateCallback)
		}
		m.HandleToolResult(s, ToolCreateCallback, map[string]any{"success": false, "error": "boom"})
	}
	if s.CallbackAttempts != 2 {
		t.Fatalf("CallbackAttempts = %d, want 2", s.CallbackAttempts)
	}

	act := m.Process(s, "hello?")
	if !act.EndCall {
		t.Error("EndCall = false after two failed attempts, want true")
	}
	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil: no endless retries", act.CallTool)
	}
}

func TestBookingFailedOffersThenFilesCallback(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBookingFailed)

	act := m.Process(s, "yeah, sounds good")
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Fatalf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}

	m.HandleToolResult(s, ToolCreateCallback, map[string]any{"success": true})
	act = m.Process(s, "thanks")
	if !act.EndCall {
		t.Error("EndCall = false after callback filed, want true")
	}
}

func TestBookingFailedDeclineEnds(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBookingFailed)

	act := m.Process(s, "no thanks, I'll try later")

	if !act.EndCall {
		t.Error("EndCall = false on decline, want true")
	}
	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil on decline", act.CallTool)
	}
}

func TestConfirmWrapsUpAfterSecondExchange(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateConfirm)

	respond(s)
	act := m.Process(s, "what's the price again?")
	if act.EndCall {
		t.Fatal("EndCall = true on first follow-up, want false")
	}
	if !act.NeedsLLM {
		t.Fatal("NeedsLLM = false, want true")
	}

	respond(s)
	act = m.Process(s, "great, that's all")
	if !act.EndCall {
		t.Error("EndCall = false on second exchange, want true")
	}
}

func TestSafetyExitIgnoresFurtherTalk(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafetyExit)

	act := m.Process(s, "wait, what about my appointment?")

	if !act.EndCall {
		t.Error("EndCall = false, want true")
	}
	if act.NeedsLLM {
		t.Error("NeedsLLM = true, want false: no negotiation after the script")
	}
}

func TestStateTurnLimitForcesCallback(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	var act Action
	for i := 0; i < 6; i++ {
		respond(s)
		act = m.Process(s, "hmm, maybe, hard to say")
	}

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v after stall", s.State, session.StateCallback)
	}
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Errorf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}
	if act.EndCall {
		t.Error("EndCall = true for state-limit escalation, want false")
	}
}

func TestStateTurnLimitIgnoresFragmentBursts(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateSafety)

	// Ten STT fragments with no agent reply in between count as one
	// exchange, not ten.
	for i := 0; i < 10; i++ {
		m.Process(s, "uh")
	}

	if s.State != session.StateSafety {
		t.Errorf("state = %v, want to stay in %v", s.State, session.StateSafety)
	}
	if s.StateTurnCount != 0 {
		t.Errorf("StateTurnCount = %d, want 0 without agent replies", s.StateTurnCount)
	}
}

func TestGlobalTurnLimitEndsCall(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateDiscovery)
	s.TurnCount = 30

	act := m.Process(s, "and another thing")

	if s.State != session.StateCallback {
		t.Fatalf("state = %v, want %v", s.State, session.StateCallback)
	}
	if !act.EndCall {
		t.Error("EndCall = false, want true at the global limit")
	}
	if act.CallTool == nil || act.CallTool.Name != ToolCreateCallback {
		t.Errorf("CallTool = %+v, want %s", act.CallTool, ToolCreateCallback)
	}
}

func TestGlobalTurnLimitSkipsCallbackWhenAlreadyCreated(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateCallback)
	s.TurnCount = 30
	s.CallbackCreated = true

	act := m.Process(s, "one more question")

	if !act.EndCall {
		t.Error("EndCall = false, want true")
	}
	if act.CallTool != nil {
		t.Errorf("CallTool = %+v, want nil: ticket already filed", act.CallTool)
	}
}

func TestLookupResultRouting(t *testing.T) {
	tests := []struct {
		name      string
		intent    string
		result    map[string]any
		wantState session.State
	}{
		{
			"service goes to safety",
			"service",
			map[string]any{"found": true},
			session.StateSafety,
		},
		{
			"manage with appointment",
			"manage_booking",
			map[string]any{"found": true, "upcomingAppointment": map[string]any{"date": "Thursday", "time": "2 PM", "booking_uid": "bk_42"}},
			session.StateManageBooking,
		},
		{
			"manage without appointment",
			"manage_booking",
			map[string]any{"found": true},
			session.StateFollowUp,
		},
		{
			"follow up hint",
			"follow_up",
			map[string]any{"found": false},
			session.StateFollowUp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			s := newTestSession(session.StateLookup)
			s.CallerIntent = tt.intent

			m.HandleToolResult(s, ToolLookupCaller, tt.result)

			if s.State != tt.wantState {
				t.Errorf("state = %v, want %v", s.State, tt.wantState)
			}
		})
	}
}

func TestLookupResultFillsValidatedFacts(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateLookup)
	s.CallerIntent = "service"

	m.HandleToolResult(s, ToolLookupCaller, map[string]any{
		"found":               true,
		"customerName":        "Dana Whitfield",
		"zipCode":             "78745",
		"address":             "4512 Oak Hollow Drive",
		"callbackPromise":     "tech will call Friday",
		"upcomingAppointment": map[string]any{"date": "Friday", "time": "10 AM", "booking_uid": "bk_7"},
	})

	if !s.CallerKnown {
		t.Error("CallerKnown = false, want true")
	}
	if s.CustomerName != "Dana Whitfield" {
		t.Errorf("CustomerName = %q, want %q", s.CustomerName, "Dana Whitfield")
	}
	if s.ZIPCode != "78745" {
		t.Errorf("ZIPCode = %q, want %q", s.ZIPCode, "78745")
	}
	if s.ServiceAddress != "4512 Oak Hollow Drive" {
		t.Errorf("ServiceAddress = %q, want %q", s.ServiceAddress, "4512 Oak Hollow Drive")
	}
	if !s.HasAppointment || s.AppointmentUID != "bk_7" {
		t.Errorf("appointment = %v/%q, want true/%q", s.HasAppointment, s.AppointmentUID, "bk_7")
	}
	if s.CallbackPromise != "tech will call Friday" {
		t.Errorf("CallbackPromise = %q", s.CallbackPromise)
	}
}

func TestLookupResultRejectsJunkFields(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateLookup)
	s.CallerIntent = "service"

	m.HandleToolResult(s, ToolLookupCaller, map[string]any{
		"found":        true,
		"customerName": "{{customer_name}}",
		"zipCode":      "787",
		"address":      "n/a",
	})

	if s.CustomerName != "" {
		t.Errorf("CustomerName = %q, want empty for template junk", s.CustomerName)
	}
	if s.ZIPCode != "" {
		t.Errorf("ZIPCode = %q, want empty for a 3-digit value", s.ZIPCode)
	}
	if s.ServiceAddress != "" {
		t.Errorf("ServiceAddress = %q, want empty for a sentinel value", s.ServiceAddress)
	}
}

func TestLookupResultKeepsExtractedAddress(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateLookup)
	s.CallerIntent = "service"
	s.ServiceAddress = "900 Pecan Street"

	m.HandleToolResult(s, ToolLookupCaller, map[string]any{"found": true})

	if s.ServiceAddress != "900 Pecan Street" {
		t.Errorf("ServiceAddress = %q, want the already-captured %q", s.ServiceAddress, "900 Pecan Street")
	}
}

func TestBookServiceResultSuccess(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBooking)
	s.BookingAttempted = true

	m.HandleToolResult(s, ToolBookService, map[string]any{
		"booked":        true,
		"booking_time":  "Thursday 2-4 PM",
		"message":       "Booked for Thursday 2-4 PM",
		"appointmentId": "apt_99",
	})

	if s.State != session.StateConfirm {
		t.Fatalf("state = %v, want %v", s.State, session.StateConfirm)
	}
	if !s.BookingConfirmed {
		t.Error("BookingConfirmed = false, want true")
	}
	if s.BookedTime != "Thursday 2-4 PM" {
		t.Errorf("BookedTime = %q", s.BookedTime)
	}
	if s.ConfirmationMessage != "Booked for Thursday 2-4 PM" {
		t.Errorf("ConfirmationMessage = %q", s.ConfirmationMessage)
	}
	if s.AppointmentID != "apt_99" {
		t.Errorf("AppointmentID = %q, want %q", s.AppointmentID, "apt_99")
	}
}

func TestBookServiceResultCamelCaseConfirmation(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBooking)
	s.BookingAttempted = true

	m.HandleToolResult(s, ToolBookService, map[string]any{
		"booked":              true,
		"confirmationMessage": "You're all set for Tuesday, February 24th at 10 AM",
	})

	if s.State != session.StateConfirm {
		t.Fatalf("state = %v, want %v", s.State, session.StateConfirm)
	}
	if s.ConfirmationMessage != "You're all set for Tuesday, February 24th at 10 AM" {
		t.Errorf("ConfirmationMessage = %q, want the confirmationMessage field", s.ConfirmationMessage)
	}
}

func TestBookServiceResultFailure(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateBooking)
	s.BookingAttempted = true

	m.HandleToolResult(s, ToolBookService, map[string]any{"booked": false, "error": "no slots"})

	if s.State != session.StateBookingFailed {
		t.Fatalf("state = %v, want %v", s.State, session.StateBookingFailed)
	}
	if s.BookingConfirmed {
		t.Error("BookingConfirmed = true, want false")
	}
}

func TestManageAppointmentResult(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	m.HandleToolResult(s, ToolManageAppointment, map[string]any{
		"success": true,
		"message": "Appointment moved to Friday 10 AM",
	})

	if s.State != session.StateConfirm {
		t.Fatalf("state = %v, want %v", s.State, session.StateConfirm)
	}
	if s.ConfirmationMessage != "Appointment moved to Friday 10 AM" {
		t.Errorf("ConfirmationMessage = %q", s.ConfirmationMessage)
	}
}

func TestManageAppointmentFailureRoutesToCallback(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateManageBooking)

	m.HandleToolResult(s, ToolManageAppointment, map[string]any{"success": false, "error": "not found"})

	if s.State != session.StateCallback {
		t.Errorf("state = %v, want %v", s.State, session.StateCallback)
	}
}

func TestHandleToolResultUnknownToolIsIgnored(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateLookup)

	m.HandleToolResult(s, "reboot_mainframe", map[string]any{"success": true})

	if s.State != session.StateLookup {
		t.Errorf("state = %v, want unchanged %v", s.State, session.StateLookup)
	}
}

func TestHandleToolResultNilResult(t *testing.T) {
	m := NewMachine(nil)
	s := newTestSession(session.StateCallback)

	m.HandleToolResult(s, ToolCreateCallback, nil)

	if s.CallbackCreated {
		t.Error("CallbackCreated = true from nil result, want false")
	}
	if s.CallbackAttempts != 1 {
		t.Errorf("CallbackAttempts = %d, want 1", s.CallbackAttempts)
	}
}
