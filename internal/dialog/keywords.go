// Package dialog implements the deterministic conversation machine that
// steers a service call: keyword classification, field validation, a
// closed table of state handlers and the per-state system prompts the
// language model speaks from.
//
// The package deliberately keeps control flow out of the model's hands.
// [Machine.Process] decides every transition and every tool call from
// keyword evidence alone; the model only writes the words.
package dialog

import (
	"strings"
	"unicode"
)

// Keyword sets below drive intent classification. Matching is whole-word
// and case-insensitive: "no" must not fire inside "noticed" or "know".

// serviceKeywords mark a call as an HVAC service request.
var serviceKeywords = []string{
	"ac", "heat", "furnace", "cooling", "heating", "broken", "noise",
	"leak", "thermostat", "unit", "system", "not working", "appointment",
	"booking", "schedule", "service", "someone to come out", "repair",
	"maintenance", "hvac", "air conditioning", "compressor", "duct",
	"not cooling", "not heating", "won't turn on", "stopped working",
}

// nonServiceKeywords mark billing, vendor, hiring and misdial calls.
var nonServiceKeywords = []string{
	"billing", "bill", "charge", "payment", "warranty", "invoice",
	"vendor", "supplier", "selling", "partnership", "parts supplier",
	"hiring", "job", "apply", "position", "employment", "wrong number",
}

// billingKeywords are the subset of non-service traffic that earns a
// callback from the office instead of a brush-off.
var billingKeywords = []string{
	"billing", "bill", "charge", "payment", "warranty", "invoice",
}

// followUpKeywords mark callers chasing an earlier call or promise.
var followUpKeywords = []string{
	"following up", "called before", "waiting for callback", "checking on",
	"any update", "called earlier", "still waiting",
}

// manageBookingKeywords mark callers with an existing appointment.
var manageBookingKeywords = []string{
	"my appointment", "reschedule", "cancel my", "cancel the",
	"change my appointment", "move my appointment",
}

// safetyKeywords are the hazard triggers. Any hit in SAFETY sends the
// caller straight to the evacuation script.
var safetyKeywords = []string{
	"gas", "burning", "smoke", "co detector", "carbon monoxide",
	"sparks", "fire",
}

// safetyRetractionKeywords walk back an apparent hazard mention
// ("smelled gas last week but don't worry").
var safetyRetractionKeywords = []string{
	"never mind", "but don't worry", "actually no", "not the issue",
	"forget i said", "i'm fine", "we're okay", "no emergency",
	"that's not it", "not really",
}

// safetyClearKeywords are the plain "no" answers to the safety question.
// A retracted yes ("smelled gas but never mind") is deliberately absent:
// the agent double-checks those instead of advancing.
var safetyClearKeywords = []string{
	"no", "nope", "nah", "nothing like that", "we're fine", "all good",
}

// highTicketPositive suggests a replacement or new-install lead.
var highTicketPositive = []string{
	"new system", "new unit", "new ac", "new furnace", "replacement",
	"replace", "quote", "estimate", "how much for a new", "cost of a new",
	"upgrade", "whole new", "brand new", "installing a new",
}

// highTicketNegative vetoes the lead: repair language means the caller
// wants the existing equipment fixed, not a sales visit.
var highTicketNegative = []string{
	"broken", "not working", "stopped working", "won't turn on", "cover",
	"part", "piece", "component", "noise", "leak", "smell", "drip",
	"tune-up", "check", "maintenance", "filter",
}

// callbackRequestKeywords mark an explicit "just call me back".
var callbackRequestKeywords = []string{
	"call me back", "callback", "just call", "have someone call",
	"have the owner call", "don't want to schedule",
}

// propertyManagerKeywords mark third-party callers arranging service for
// a property they do not occupy.
var propertyManagerKeywords = []string{
	"property manager", "landlord", "i manage", "managing properties",
	"rental property", "tenant", "property management",
	"calling on behalf", "the unit is at",
}

// urgentKeywords set the urgent tier in URGENCY.
var urgentKeywords = []string{
	"today", "right now", "asap", "as soon as possible", "urgent",
	"emergency", "immediately", "can't wait", "tonight", "soonest",
}

// routineKeywords set the routine tier in URGENCY.
var routineKeywords = []string{
	"whenever", "no rush", "anytime", "flexible", "not urgent",
	"this week", "next week",
}

// dayTimeKeywords signal a concrete scheduling preference.
var dayTimeKeywords = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
	"sunday", "tomorrow", "morning", "afternoon", "evening", "weekend",
	"noon",
}

// yesKeywords are the confirmation signals in PRE_CONFIRM and the
// failure terminals. "schedule" and "book" count: "go ahead and book it"
// is approval.
var yesKeywords = []string{
	"yes", "yeah", "yep", "sounds right", "sounds good", "schedule", "book",
}

// declineKeywords are plain refusals of an offered callback.
var declineKeywords = []string{
	"no", "nope", "nah", "no thanks", "don't bother",
}

// cancelKeywords and rescheduleKeywords split MANAGE_BOOKING traffic.
var cancelKeywords = []string{
	"cancel", "cancel my", "cancel the", "cancel it",
}

var rescheduleKeywords = []string{
	"reschedule", "move my", "move it", "change my", "change it",
	"different time", "another time", "another day",
}

// newIssueKeywords is problem evidence used inside the follow-up and
// booking-management states. Scheduling words are excluded on purpose:
// "checking on my appointment" is not a new problem, "it's leaking
// again" is.
var newIssueKeywords = []string{
	"broken", "not working", "stopped working", "won't turn on",
	"not cooling", "not heating", "no heat", "no air", "noise", "leak",
	"leaking", "new problem", "another problem",
}

// bookingLanguage is rejected from terminal-state replies: once a call
// has reached a terminal the agent must not promise scheduling.
var bookingLanguage = []string{
	"appointment", "schedule", "book", "available", "slot", "open",
}

// isWordChar reports whether r continues a word for boundary checks.
// Apostrophes count so "can't" stays one token.
func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// matchWhole reports whether keyword occurs in text on word boundaries.
// Both arguments must already be lowercase.
func matchWhole(text, keyword string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], keyword)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(keyword)
		leftOK := i == 0 || !isWordChar(rune(text[i-1]))
		rightOK := end == len(text) || !isWordChar(rune(text[end]))
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

// MatchAny reports whether any keyword occurs in text as a whole word or
// whole phrase. Matching is case-insensitive; substring hits inside
// larger words do not count, so "no" never fires on "know" or "noticed".
func MatchAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if matchWhole(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyIntent buckets the caller's opening remark. Order matters:
// manage-booking and follow-up phrases also contain service words, so
// the narrower intents win.
func ClassifyIntent(text string) string {
	switch {
	case MatchAny(text, manageBookingKeywords):
		return "manage_booking"
	case MatchAny(text, followUpKeywords):
		return "follow_up"
	case MatchAny(text, nonServiceKeywords):
		return "non_service"
	default:
		return "service"
	}
}

// DetectSafetyEmergency reports a live hazard mention: a safety keyword
// without a retraction in the same utterance.
func DetectSafetyEmergency(text string) bool {
	return MatchAny(text, safetyKeywords) && !MatchAny(text, safetyRetractionKeywords)
}

// DetectSafetyClear reports a plain "no" answer to the safety question.
func DetectSafetyClear(text string) bool {
	return MatchAny(text, safetyClearKeywords)
}

// DetectHighTicket reports replacement or new-install interest. Repair
// language in the same utterance vetoes it: "my new unit is broken" is a
// repair call, not a sales lead.
func DetectHighTicket(text string) bool {
	return MatchAny(text, highTicketPositive) && !MatchAny(text, highTicketNegative)
}

// DetectCallbackRequest reports an explicit request to be called back.
func DetectCallbackRequest(text string) bool {
	return MatchAny(text, callbackRequestKeywords)
}

// DetectPropertyManager reports a third-party caller arranging service
// for a tenant or managed property.
func DetectPropertyManager(text string) bool {
	return MatchAny(text, propertyManagerKeywords)
}

// DetectYes reports explicit agreement.
func DetectYes(text string) bool {
	return MatchAny(text, yesKeywords)
}

// DetectServiceIssue reports service-request language. Used mid-call to
// catch callers who pivot from billing or booking chat to a live problem.
func DetectServiceIssue(text string) bool {
	return MatchAny(text, serviceKeywords)
}

// ContainsBookingLanguage reports whether reply makes scheduling
// promises. Terminal-state replies that trip this check are discarded.
func ContainsBookingLanguage(reply string) bool {
	return MatchAny(reply, bookingLanguage)
}
