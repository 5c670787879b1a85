package dialog

import (
	"strings"
	"testing"

	"github.com/callweave/callweave/internal/session"
)

func TestStatePromptsCoverEveryNonConfirmState(t *testing.T) {
	for _, st := range session.AllStates() {
		if st == session.StateConfirm {
			if _, ok := statePrompts[st]; ok {
				t.Error("CONFIRM has a static playbook, want ConfirmPrompt only")
			}
			continue
		}
		if statePrompts[st] == "" {
			t.Errorf("no playbook for state %v", st)
		}
	}
}

func TestSystemPromptAssemblyOrder(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.State = session.StateDiscovery
	s.CustomerName = "Dana Whitfield"
	s.ProblemDescription = "AC not cooling"

	prompt := SystemPrompt(s)

	persona := strings.Index(prompt, "virtual receptionist for ACE Cooling")
	known := strings.Index(prompt, "KNOWN INFO:")
	playbook := strings.Index(prompt, "## DISCOVERY")
	if persona < 0 || known < 0 || playbook < 0 {
		t.Fatalf("prompt missing a section: persona=%d known=%d playbook=%d", persona, known, playbook)
	}
	if !(persona < known && known < playbook) {
		t.Errorf("sections out of order: persona=%d known=%d playbook=%d", persona, known, playbook)
	}
	if !strings.Contains(prompt, "- Caller's name: Dana Whitfield") {
		t.Error("known-info block missing the caller's name")
	}
}

func TestSystemPromptOmitsKnownInfoWhenEmpty(t *testing.T) {
	s := session.New("CA-test", "+15125550100")

	prompt := SystemPrompt(s)

	if strings.Contains(prompt, "KNOWN INFO") {
		t.Error("empty session produced a KNOWN INFO block")
	}
	if !strings.Contains(prompt, "## WELCOME") {
		t.Error("prompt missing the WELCOME playbook")
	}
}

func TestSystemPromptConfirmEmbedsBookingResult(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.State = session.StateConfirm
	s.ConfirmationMessage = "Booked for Thursday 2-4 PM"

	prompt := SystemPrompt(s)

	if !strings.Contains(prompt, "BOOKING CONFIRMED: Booked for Thursday 2-4 PM") {
		t.Error("confirm prompt missing the live booking result")
	}
	if !strings.Contains(prompt, "tech will call about 30 minutes before") {
		t.Error("confirm prompt missing the tech-call heads-up")
	}
}

func TestConfirmPromptFallback(t *testing.T) {
	got := ConfirmPrompt("")
	if !strings.Contains(got, "BOOKING CONFIRMED: Booking confirmed") {
		t.Errorf("fallback confirmation missing, got:\n%s", got)
	}
}

func TestBuildContextEmptySession(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	if got := BuildContext(s); got != "" {
		t.Errorf("BuildContext(empty) = %q, want \"\"", got)
	}
}

func TestBuildContextFacts(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.State = session.StateUrgency
	s.CustomerName = "Dana Whitfield"
	s.ProblemDescription = "furnace short-cycling"
	s.ServiceAddress = "5311 Izzical Road"
	s.ZIPCode = "78745"
	s.PreferredTime = "thursday morning"
	s.UrgencyTier = session.TierUrgent
	s.CallerKnown = true
	s.CallbackPromise = "tech will call Friday"
	s.LeadType = "high_ticket"

	got := BuildContext(s)

	for _, want := range []string{
		"Caller's name: Dana Whitfield",
		"Issue: furnace short-cycling",
		"Address: 5311 Izzical Road",
		"ZIP: 78745",
		"Preferred time: thursday morning",
		"Urgency: urgent",
		"Returning caller (known customer)",
		"We owe this caller a callback: tech will call Friday",
		"HIGH-TICKET LEAD",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
}

func TestBuildContextOmitsRoutineUrgency(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.CustomerName = "Dana Whitfield"
	s.UrgencyTier = session.TierRoutine

	if got := BuildContext(s); strings.Contains(got, "Urgency:") {
		t.Errorf("routine urgency should be omitted:\n%s", got)
	}
}

func TestBuildContextAppointmentGating(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.HasAppointment = true
	s.AppointmentDate = "Friday"
	s.AppointmentTime = "10 AM"

	s.State = session.StateDiscovery
	if got := BuildContext(s); strings.Contains(got, "existing appointment") {
		t.Errorf("appointment leaked into discovery context:\n%s", got)
	}

	s.State = session.StateManageBooking
	got := BuildContext(s)
	if !strings.Contains(got, "existing appointment on Friday at 10 AM") {
		t.Errorf("appointment missing from manage-booking context:\n%s", got)
	}
}

func TestBuildContextThirdParty(t *testing.T) {
	s := session.New("CA-test", "+15125550100")
	s.IsThirdParty = true
	s.SiteContactName = "Luis"
	s.SiteContactPhone = "+15125550177"

	got := BuildContext(s)
	if !strings.Contains(got, "Site contact: Luis at +15125550177") {
		t.Errorf("third-party contact missing:\n%s", got)
	}
}

func TestTerminalScript(t *testing.T) {
	tests := []struct {
		name            string
		state           session.State
		callbackCreated bool
		wantContains    string
		wantEmpty       bool
	}{
		{"safety exit", session.StateSafetyExit, false, "call 911 from outside", false},
		{"callback filed", session.StateCallback, true, "call you back shortly", false},
		{"callback failed", session.StateCallback, false, "give us a call back anytime", false},
		{"urgency callback filed", session.StateUrgencyCallback, true, "call you back shortly", false},
		{"booking failed with ticket", session.StateBookingFailed, true, "get you taken care of", false},
		{"booking failed without ticket", session.StateBookingFailed, false, "No worries", false},
		{"confirm wraps through the model", session.StateConfirm, false, "", true},
		{"non-terminal state", session.StateDiscovery, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.New("CA-test", "+15125550100")
			s.State = tt.state
			s.CallbackCreated = tt.callbackCreated

			got := TerminalScript(s)
			if tt.wantEmpty {
				if got != "" {
					t.Errorf("TerminalScript = %q, want \"\"", got)
				}
				return
			}
			if !strings.Contains(got, tt.wantContains) {
				t.Errorf("TerminalScript = %q, want it to contain %q", got, tt.wantContains)
			}
		})
	}
}
