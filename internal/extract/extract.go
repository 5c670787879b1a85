// Package extract runs the background field extractor and the firewall
// that merges its output into a call session.
//
// The extractor is a cheap JSON-mode model pass over the recent
// conversation. Its output is untrusted: it lands in a [Proposals] record,
// and [Merge] is the only path from there into the session. Merge enforces
// the field-ownership rules — the deterministic dialog layer owns the ZIP
// code outright and keeps name and address once set, while the extractor
// owns the free-text facts (problem, preferred time, equipment, duration).
// The extractor has no setter path around it.
//
// [Extractor.Extract] does the network call and may run on any goroutine;
// Merge mutates the session and must run on the call's processor goroutine.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/callweave/callweave/internal/dialog"
	"github.com/callweave/callweave/internal/session"
	"github.com/callweave/callweave/pkg/provider/llm"
	"github.com/callweave/callweave/pkg/types"
)

// Prompt instructs the extraction model. Kept strict on purpose: the model
// is told to leave fields empty rather than guess, and everything it emits
// is validated again in [Merge].
const Prompt = `Extract structured data from this conversation between a caller and a receptionist.
Return ONLY valid JSON. Only extract what the CALLER explicitly said — ignore what the receptionist said.

Fields:
- customer_name: The caller's name only. Must be a real human name. Not a phone number, not an address. Only extract from CALLER utterances.
- problem_description: What HVAC service issue the caller described.
- service_address: Street address for service. Do NOT include the customer name. Format: "123 Street Name".
- zip_code: 5-digit ZIP code.
- preferred_time: When the caller wants service (e.g., "ASAP", "tomorrow morning", "this week").
- problem_duration: How long the problem has been going on (e.g., "2 days", "since yesterday", "a few weeks").
- equipment_type: Type of HVAC equipment mentioned (AC, furnace, heat pump, thermostat, etc.).

If a field is not mentioned by the CALLER, use empty string "".
Do not guess or fabricate values. Only extract what the caller explicitly said.
NEVER mix customer_name into service_address or vice versa.`

const (
	// contextWindow is how many trailing conversation messages the
	// extractor sees.
	contextWindow = 10

	// requestTimeout bounds one extraction round trip. The result only
	// matters for the next turn, so a slow call is simply dropped.
	requestTimeout = 10 * time.Second

	temperature = 0.1
)

// Proposals is the extractor's untrusted output. Field names mirror the
// JSON keys the prompt asks for.
type Proposals struct {
	CustomerName       string `json:"customer_name"`
	ProblemDescription string `json:"problem_description"`
	ServiceAddress     string `json:"service_address"`
	ZIPCode            string `json:"zip_code"`
	PreferredTime      string `json:"preferred_time"`
	ProblemDuration    string `json:"problem_duration"`
	EquipmentType      string `json:"equipment_type"`
}

// Empty reports whether no field carries a value.
func (p Proposals) Empty() bool {
	return p == Proposals{}
}

// Extractor wraps the extraction model. The provider is expected to be
// bound to a small, cheap model; the dialog's main model is overkill here.
type Extractor struct {
	llm llm.Provider
}

// New returns an Extractor backed by p.
func New(p llm.Provider) *Extractor {
	return &Extractor{llm: p}
}

// ShouldRun reports whether st is a data-collection state worth extracting
// from. Outside these, the caller is not volunteering bookable facts.
func ShouldRun(st session.State) bool {
	switch st {
	case session.StateServiceArea, session.StateDiscovery,
		session.StateUrgency, session.StatePreConfirm:
		return true
	}
	return false
}

// Extract runs one extraction pass over the tail of history. A history too
// short to contain caller facts yields empty Proposals and no error.
func (e *Extractor) Extract(ctx context.Context, history []types.Message) (Proposals, error) {
	if len(history) < 2 {
		return Proposals{}, nil
	}
	if len(history) > contextWindow {
		history = history[len(history)-contextWindow:]
	}
	hasUser := false
	for _, msg := range history {
		if msg.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return Proposals{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: Prompt,
		Messages:     history,
		Temperature:  temperature,
		JSONMode:     true,
	})
	if err != nil {
		return Proposals{}, fmt.Errorf("extraction completion: %w", err)
	}

	var p Proposals
	if err := json.Unmarshal([]byte(resp.Content), &p); err != nil {
		return Proposals{}, fmt.Errorf("decode extraction output: %w", err)
	}
	return p, nil
}

// Merge applies proposals to the session under the ownership firewall:
//
//   - zip_code is never written here; only the dialog layer sets it.
//   - customer_name and service_address fill in only when currently empty,
//     and only after passing the same validators the dialog uses.
//   - problem_description, preferred_time, equipment_type and
//     problem_duration belong to the extractor and may be refreshed, so a
//     caller's correction ("make that Friday actually") lands.
//
// Merge is deterministic and does no I/O. It must be called from the
// session's processor goroutine.
func Merge(s *session.Session, p Proposals) {
	if s.CustomerName == "" {
		if name := dialog.ValidateName(p.CustomerName); name != "" {
			s.CustomerName = name
		}
	}
	if s.ServiceAddress == "" {
		if addr := dialog.ValidateAddress(dialog.NormalizeAddress(p.ServiceAddress)); addr != "" {
			s.ServiceAddress = addr
		}
	}
	if v := strings.TrimSpace(p.ProblemDescription); v != "" {
		s.ProblemDescription = v
	}
	if v := strings.TrimSpace(p.PreferredTime); v != "" {
		s.PreferredTime = v
	}
	if v := strings.TrimSpace(p.EquipmentType); v != "" {
		s.EquipmentType = v
	}
	if v := strings.TrimSpace(p.ProblemDuration); v != "" {
		s.ProblemDuration = v
	}
}

// Duration category signal lists. Matched as substrings so "hours" hits
// "hour" and "weeks" hits "week".
var (
	acuteSignals   = []string{"today", "this morning", "tonight", "just", "hour", "few hours", "started"}
	recentSignals  = []string{"yesterday", "couple days", "few days", "2 days", "3 days", "since"}
	ongoingSignals = []string{"week", "weeks", "month", "months", "long time", "a while"}
)

// CategorizeDuration maps a free-text problem duration onto the dashboard
// buckets: acute (under a day), recent (days), ongoing (a week or more).
// Unknown phrasings return "".
func CategorizeDuration(duration string) string {
	if duration == "" {
		return ""
	}
	lower := strings.ToLower(duration)
	contains := func(signals []string) bool {
		for _, sig := range signals {
			if strings.Contains(lower, sig) {
				return true
			}
		}
		return false
	}
	switch {
	case contains(acuteSignals):
		return "acute"
	case contains(ongoingSignals):
		return "ongoing"
	case contains(recentSignals):
		return "recent"
	}
	return ""
}
