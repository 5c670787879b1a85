package classify

import (
	"slices"
	"testing"

	"github.com/callweave/callweave/internal/session"
)

func finishedSession(st session.State) *session.Session {
	s := session.New("CA-test", "+15125550100")
	s.State = st
	return s
}

func TestClassifyHazardRequiresSafetyExit(t *testing.T) {
	s := finishedSession(session.StateDiscovery)

	tags := Classify(s, "I smell gas everywhere")

	if len(tags["HAZARD"]) != 0 {
		t.Errorf("HAZARD = %v for a non-safety-exit call, want empty", tags["HAZARD"])
	}
}

func TestClassifyHazardTags(t *testing.T) {
	s := finishedSession(session.StateSafetyExit)

	tags := Classify(s, "there's smoke and sparks near the gas line")

	want := []string{"GAS_LEAK", "ELECTRICAL_FIRE"}
	if !slices.Equal(tags["HAZARD"], want) {
		t.Errorf("HAZARD = %v, want %v", tags["HAZARD"], want)
	}
}

func TestClassifyHazardDefaultsToHealthRisk(t *testing.T) {
	s := finishedSession(session.StateSafetyExit)

	tags := Classify(s, "please hurry")

	want := []string{"HEALTH_RISK"}
	if !slices.Equal(tags["HAZARD"], want) {
		t.Errorf("HAZARD = %v, want %v", tags["HAZARD"], want)
	}
}

func TestClassifySafetyExitOverridesUrgency(t *testing.T) {
	s := finishedSession(session.StateSafetyExit)
	s.UrgencyTier = session.TierEmergency

	tags := Classify(s, "gas smell")

	want := []string{"CRITICAL_EVACUATE"}
	if !slices.Equal(tags["URGENCY"], want) {
		t.Errorf("URGENCY = %v, want %v", tags["URGENCY"], want)
	}
}

func TestClassifyUrgencyTags(t *testing.T) {
	tests := []struct {
		tier session.UrgencyTier
		want string
	}{
		{session.TierRoutine, "STANDARD"},
		{session.TierLow, "FLEXIBLE"},
		{session.TierMedium, "STANDARD"},
		{session.TierHigh, "PRIORITY_48HR"},
		{session.TierUrgent, "URGENT_24HR"},
		{session.TierEmergency, "EMERGENCY_SAMEDAY"},
	}
	for _, tt := range tests {
		s := finishedSession(session.StateConfirm)
		s.UrgencyTier = tt.tier

		tags := Classify(s, "")

		want := []string{tt.want}
		if !slices.Equal(tags["URGENCY"], want) {
			t.Errorf("tier %v: URGENCY = %v, want %v", tt.tier, tags["URGENCY"], want)
		}
	}
}

func TestClassifyServiceTypes(t *testing.T) {
	s := finishedSession(session.StateConfirm)

	tags := Classify(s, "the ac is making a rattling noise")

	want := []string{"REPAIR_AC", "DIAGNOSTIC_NOISE"}
	if !slices.Equal(tags["SERVICE_TYPE"], want) {
		t.Errorf("SERVICE_TYPE = %v, want %v", tags["SERVICE_TYPE"], want)
	}
}

func TestClassifyMatchesWholeWordsOnly(t *testing.T) {
	s := finishedSession(session.StateConfirm)

	// "track" must not read as "ac".
	tags := Classify(s, "they have a great track record")

	if len(tags["SERVICE_TYPE"]) != 0 {
		t.Errorf("SERVICE_TYPE = %v, want empty", tags["SERVICE_TYPE"])
	}
}

func TestClassifyCustomerTag(t *testing.T) {
	s := finishedSession(session.StateConfirm)
	s.CallerKnown = true
	if tags := Classify(s, ""); !slices.Equal(tags["CUSTOMER"], []string{"EXISTING_CUSTOMER"}) {
		t.Errorf("CUSTOMER = %v, want EXISTING_CUSTOMER", tags["CUSTOMER"])
	}

	s.CallerKnown = false
	if tags := Classify(s, ""); !slices.Equal(tags["CUSTOMER"], []string{"NEW_CUSTOMER"}) {
		t.Errorf("CUSTOMER = %v, want NEW_CUSTOMER", tags["CUSTOMER"])
	}
}

func TestClassifyRevenueTags(t *testing.T) {
	s := finishedSession(session.StateCallback)
	s.ProblemDescription = "wants a quote for a new system"

	tags := Classify(s, "the old unit still runs on freon")

	want := []string{"HOT_LEAD", "R22_RETROFIT"}
	if !slices.Equal(tags["REVENUE"], want) {
		t.Errorf("REVENUE = %v, want %v", tags["REVENUE"], want)
	}
}

func TestClassifyRecoveryLogisticsContext(t *testing.T) {
	s := finishedSession(session.StateCallback)

	tags := Classify(s, "I'm still waiting, and mind the dog, my grandmother is staying with us")

	if !slices.Equal(tags["RECOVERY"], []string{"CALLBACK_RISK"}) {
		t.Errorf("RECOVERY = %v, want CALLBACK_RISK", tags["RECOVERY"])
	}
	if !slices.Equal(tags["LOGISTICS"], []string{"PET_SECURE"}) {
		t.Errorf("LOGISTICS = %v, want PET_SECURE", tags["LOGISTICS"])
	}
	if !slices.Equal(tags["CONTEXT"], []string{"ELDERLY_OCCUPANT"}) {
		t.Errorf("CONTEXT = %v, want ELDERLY_OCCUPANT", tags["CONTEXT"])
	}
}

func TestClassifyNonCustomer(t *testing.T) {
	s := finishedSession(session.StateNonService)

	tags := Classify(s, "oh sorry, wrong number")

	if !slices.Equal(tags["NON_CUSTOMER"], []string{"WRONG_NUMBER"}) {
		t.Errorf("NON_CUSTOMER = %v, want WRONG_NUMBER", tags["NON_CUSTOMER"])
	}
}

func TestClassifyAlwaysCarriesAllCategories(t *testing.T) {
	s := finishedSession(session.StateConfirm)

	tags := Classify(s, "")

	for _, cat := range []string{
		"HAZARD", "URGENCY", "SERVICE_TYPE", "REVENUE", "RECOVERY",
		"LOGISTICS", "CUSTOMER", "NON_CUSTOMER", "CONTEXT",
	} {
		if _, ok := tags[cat]; !ok {
			t.Errorf("category %q missing from tag map", cat)
		}
	}
}

func TestDetectPriorityCascade(t *testing.T) {
	tests := []struct {
		name      string
		tags      Tags
		wantColor string
	}{
		{"hazard beats revenue", Tags{"HAZARD": {"GAS_LEAK"}, "REVENUE": {"HOT_LEAD"}}, "red"},
		{"recovery is red", Tags{"RECOVERY": {"COMPLAINT_NOFIX"}}, "red"},
		{"non-customer beats revenue", Tags{"NON_CUSTOMER": {"VENDOR_SALES"}, "REVENUE": {"HOT_LEAD"}}, "gray"},
		{"revenue is green", Tags{"REVENUE": {"HOT_LEAD"}}, "green"},
		{"default is blue", Tags{}, "blue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectPriority(tt.tags)
			if got.Color != tt.wantColor {
				t.Errorf("color = %q, want %q", got.Color, tt.wantColor)
			}
			if got.Reason == "" {
				t.Error("reason is empty")
			}
		})
	}
}

func TestEstimateRevenue(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantTier       string
		wantConfidence string
	}{
		{"single replacement signal", "I want to replace the whole unit", "replacement", "medium"},
		{"two replacement signals", "how much for a new system, can I get a quote", "replacement", "high"},
		{"major repair", "the compressor died", "major_repair", "medium"},
		{"standard repair", "it's leaking and making noise", "standard_repair", "high"},
		{"minor service", "just needs a filter and a tune-up", "minor", "high"},
		{"replacement outranks repair", "replace the broken compressor", "replacement", "medium"},
		{"no evidence", "hello there", "diagnostic", "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateRevenue(tt.text, "")
			if got.Tier != tt.wantTier {
				t.Errorf("tier = %q, want %q", got.Tier, tt.wantTier)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %q, want %q", got.Confidence, tt.wantConfidence)
			}
			if tt.wantTier != "diagnostic" && len(got.Signals) == 0 {
				t.Error("signals empty for a keyword-backed tier")
			}
			if got.Label == "" {
				t.Error("label is empty")
			}
		})
	}
}

func TestDashboardUrgency(t *testing.T) {
	tests := []struct {
		tier session.UrgencyTier
		want string
	}{
		{session.TierRoutine, "low"},
		{session.TierLow, "low"},
		{session.TierMedium, "medium"},
		{session.TierHigh, "high"},
		{session.TierUrgent, "high"},
		{session.TierEmergency, "emergency"},
	}
	for _, tt := range tests {
		if got := DashboardUrgency(tt.tier); got != tt.want {
			t.Errorf("DashboardUrgency(%v) = %q, want %q", tt.tier, got, tt.want)
		}
	}
}
