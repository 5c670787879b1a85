// Package classify derives the post-call taxonomy: the nine-category tag
// map, the dashboard priority color, the expected revenue tier, and the
// urgency mapping. Everything here is a pure function over the finished
// session and its transcript text — no I/O, no randomness — so a call
// replays to identical dashboard rows.
package classify

import (
	"strings"

	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/session"
)

// Tags maps each taxonomy category to the tags detected on a call. All
// nine category keys are always present, empty when nothing matched.
type Tags map[string][]string

// tagRule pairs one tag with the keywords that trigger it. Rules are kept
// in ordered slices, not maps, so tag output order is stable.
type tagRule struct {
	tag      string
	keywords []string
}

var hazardRules = []tagRule{
	{"GAS_LEAK", []string{"gas", "rotten egg", "sulfur", "hissing"}},
	{"CO_EVENT", []string{"co detector", "carbon monoxide", "co alarm"}},
	{"ELECTRICAL_FIRE", []string{"burning", "smoke", "sparks", "breaker"}},
	{"ACTIVE_FLOODING", []string{"flooding", "water pouring", "burst pipe"}},
	{"REFRIGERANT_LEAK", []string{"chemical smell", "frozen coil"}},
	{"HEALTH_RISK", []string{"no heat", "no ac", "freezing"}},
}

var serviceTypeRules = []tagRule{
	{"REPAIR_AC", []string{"ac", "air conditioning", "cooling", "not cooling", "warm air"}},
	{"REPAIR_HEATING", []string{"heating", "furnace", "heat", "not heating", "no heat"}},
	{"REPAIR_HEATPUMP", []string{"heat pump", "heatpump"}},
	{"REPAIR_THERMOSTAT", []string{"thermostat"}},
	{"REPAIR_DUCTWORK", []string{"duct", "ductwork", "vent"}},
	{"TUNEUP_AC", []string{"tune-up", "tuneup", "maintenance", "checkup"}},
	{"INSTALL_REPLACEMENT", []string{"new system", "replacement", "replace", "install"}},
	{"DIAGNOSTIC_NOISE", []string{"noise", "strange sound", "rattling", "buzzing"}},
	{"DIAGNOSTIC_SMELL", []string{"smell", "odor"}},
	{"SECONDOPINION", []string{"second opinion"}},
	{"WARRANTY_CLAIM", []string{"warranty"}},
}

var recoveryRules = []tagRule{
	{"CALLBACK_RISK", []string{"waiting", "no one called back", "still waiting"}},
	{"COMPLAINT_PRICE", []string{"too expensive", "overcharged", "price"}},
	{"COMPLAINT_SERVICE", []string{"poor service", "rude"}},
	{"COMPLAINT_NOFIX", []string{"still broken", "didn't fix", "not fixed"}},
	{"ESCALATION_REQ", []string{"manager", "supervisor", "speak to"}},
	{"COMPETITOR_MENTION", []string{"cheaper quote", "another company"}},
}

var logisticsRules = []tagRule{
	{"GATE_CODE", []string{"gate", "gated"}},
	{"PET_SECURE", []string{"dog", "cat", "pet"}},
	{"LANDLORD_AUTH", []string{"landlord", "owner permission"}},
	{"TENANT_COORD", []string{"tenant", "renter"}},
}

var nonCustomerRules = []tagRule{
	{"JOB_APPLICANT", []string{"hiring", "job", "apply", "position"}},
	{"VENDOR_SALES", []string{"vendor", "supplier", "selling", "partnership"}},
	{"WRONG_NUMBER", []string{"wrong number"}},
	{"SPAM_TELEMARKETING", []string{"telemarketing", "spam"}},
	{"PARTS_SUPPLIER", []string{"parts supplier", "supply house"}},
	{"REALTOR_INQUIRY", []string{"realtor", "real estate"}},
}

var contextRules = []tagRule{
	{"ELDERLY_OCCUPANT", []string{"elderly", "senior", "grandma", "grandmother"}},
	{"INFANT_NEWBORN", []string{"baby", "infant", "newborn"}},
	{"MEDICAL_NEED", []string{"medical", "oxygen", "health condition"}},
}

var r22Keywords = []string{"r-22", "r22", "freon"}

// urgencyTags maps the internal tier onto the taxonomy's urgency tags.
var urgencyTags = map[session.UrgencyTier]string{
	session.TierEmergency: "EMERGENCY_SAMEDAY",
	session.TierUrgent:    "URGENT_24HR",
	session.TierHigh:      "PRIORITY_48HR",
	session.TierRoutine:   "STANDARD",
	session.TierLow:       "FLEXIBLE",
}

func matchRules(tags Tags, category, text string, rules []tagRule) {
	for _, r := range rules {
		if dialog.MatchAny(text, r.keywords) {
			tags[category] = append(tags[category], r.tag)
		}
	}
}

// Classify maps one finished call onto the taxonomy. Keyword evidence is
// the full transcript text plus the collected problem description; all
// matching is whole-word.
func Classify(s *session.Session, transcriptText string) Tags {
	tags := Tags{
		"HAZARD":       {},
		"URGENCY":      {},
		"SERVICE_TYPE": {},
		"REVENUE":      {},
		"RECOVERY":     {},
		"LOGISTICS":    {},
		"CUSTOMER":     {},
		"NON_CUSTOMER": {},
		"CONTEXT":      {},
	}
	text := strings.ToLower(transcriptText + " " + s.ProblemDescription)

	// Hazard tags are only meaningful when the call actually exited
	// through the safety script; a caller mentioning last year's gas
	// scare mid-booking is not a hazard.
	if s.State == session.StateSafetyExit {
		matchRules(tags, "HAZARD", text, hazardRules)
		if len(tags["HAZARD"]) == 0 {
			tags["HAZARD"] = append(tags["HAZARD"], "HEALTH_RISK")
		}
	}

	if tag, ok := urgencyTags[s.UrgencyTier]; ok {
		tags["URGENCY"] = append(tags["URGENCY"], tag)
	} else {
		tags["URGENCY"] = append(tags["URGENCY"], "STANDARD")
	}
	if s.State == session.StateSafetyExit {
		tags["URGENCY"] = []string{"CRITICAL_EVACUATE"}
	}

	matchRules(tags, "SERVICE_TYPE", text, serviceTypeRules)

	if dialog.DetectHighTicket(s.ProblemDescription) {
		tags["REVENUE"] = append(tags["REVENUE"], "HOT_LEAD")
	}
	if dialog.MatchAny(text, r22Keywords) {
		tags["REVENUE"] = append(tags["REVENUE"], "R22_RETROFIT")
	}

	matchRules(tags, "RECOVERY", text, recoveryRules)
	matchRules(tags, "LOGISTICS", text, logisticsRules)

	if s.CallerKnown {
		tags["CUSTOMER"] = append(tags["CUSTOMER"], "EXISTING_CUSTOMER")
	} else {
		tags["CUSTOMER"] = append(tags["CUSTOMER"], "NEW_CUSTOMER")
	}

	matchRules(tags, "NON_CUSTOMER", text, nonCustomerRules)
	matchRules(tags, "CONTEXT", text, contextRules)

	return tags
}

// Priority is the dashboard row color plus a one-line reason.
type Priority struct {
	Color  string
	Reason string
}

// DetectPriority runs the color cascade: any hazard or service-recovery
// tag paints the row red, non-customer traffic gray, a revenue signal
// green, everything else blue.
func DetectPriority(tags Tags) Priority {
	switch {
	case len(tags["HAZARD"]) > 0:
		return Priority{"red", "Hazard reported: " + strings.Join(tags["HAZARD"], ", ")}
	case len(tags["RECOVERY"]) > 0:
		return Priority{"red", "Service recovery: " + strings.Join(tags["RECOVERY"], ", ")}
	case len(tags["NON_CUSTOMER"]) > 0:
		return Priority{"gray", "Non-customer call: " + strings.Join(tags["NON_CUSTOMER"], ", ")}
	case len(tags["REVENUE"]) > 0:
		return Priority{"green", "Revenue opportunity: " + strings.Join(tags["REVENUE"], ", ")}
	}
	return Priority{"blue", "Standard service call"}
}

// Revenue estimates the ticket size of the job.
type Revenue struct {
	Tier       string
	Label      string
	Signals    []string
	Confidence string
}

// revenueTiers is checked top down; the first tier with a keyword hit
// wins. Bands follow the shop's price book ($89 diagnostic baseline).
var revenueTiers = []struct {
	tier     string
	label    string
	keywords []string
}{
	{"replacement", "System Replacement ($5K+)",
		[]string{"new system", "new unit", "replacement", "replace", "install", "upgrade", "quote", "estimate"}},
	{"major_repair", "Major Repair ($1K-$5K)",
		[]string{"compressor", "coil", "refrigerant", "freon", "r-22", "r22", "motor", "blower", "burst pipe", "flooding"}},
	{"standard_repair", "Standard Repair ($300-$1K)",
		[]string{"not cooling", "not heating", "no heat", "no ac", "broken", "won't turn on", "stopped working", "leak", "leaking", "noise", "warm air"}},
	{"minor", "Minor Service (<$300)",
		[]string{"thermostat", "filter", "tune-up", "tuneup", "maintenance", "checkup"}},
}

// EstimateRevenue buckets the call by expected ticket size from the
// transcript and the problem description. With no keyword evidence the
// call is a plain diagnostic visit at low confidence.
func EstimateRevenue(transcriptText, problem string) Revenue {
	text := strings.ToLower(transcriptText + " " + problem)
	for _, tier := range revenueTiers {
		var signals []string
		for _, kw := range tier.keywords {
			if dialog.MatchAny(text, []string{kw}) {
				signals = append(signals, kw)
			}
		}
		if len(signals) == 0 {
			continue
		}
		confidence := "medium"
		if len(signals) >= 2 {
			confidence = "high"
		}
		return Revenue{Tier: tier.tier, Label: tier.label, Signals: signals, Confidence: confidence}
	}
	return Revenue{Tier: "diagnostic", Label: "Diagnostic Visit ($89)", Signals: []string{}, Confidence: "low"}
}

// DashboardUrgency folds the internal tier onto the dashboard's enum.
func DashboardUrgency(tier session.UrgencyTier) string {
	switch tier {
	case session.TierEmergency:
		return "emergency"
	case session.TierUrgent, session.TierHigh:
		return "high"
	case session.TierMedium:
		return "medium"
	}
	return "low"
}
