// Package lexicon corrects STT mishearings of domain vocabulary in final
// transcripts before they reach the dialog machine.
//
// The corrector combines two signals per token:
//
//  1. Double Metaphone phonetic codes: a term whose codes overlap the token's
//     codes is a phonetic candidate and is accepted at the lower threshold
//     (default 0.70).
//  2. Jaro-Winkler string similarity: without phonetic agreement a term must
//     clear the higher fuzzy threshold (default 0.85). Multi-word terms are
//     also compared space-stripped, so a merged mishearing like "heatpump"
//     still aligns with "heat pump".
//
// Only individual whitespace tokens are rewritten. Tokens containing digits
// are never touched (model numbers, temperatures, refrigerant grades), nor
// are tokens that already equal a term or one of a term's words.
package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minCorrectableLen keeps short function words ("the", "is", "AC") out of
	// fuzzy matching entirely.
	minCorrectableLen = 4
)

// DefaultTerms is the HVAC vocabulary corrected when no custom term list is
// configured.
var DefaultTerms = []string{
	"compressor",
	"condenser",
	"thermostat",
	"refrigerant",
	"freon",
	"evaporator coil",
	"capacitor",
	"breaker",
	"furnace",
	"heat pump",
	"blower",
}

// Correction records a single token rewrite.
type Correction struct {
	// Original is the token as it appeared in the transcript.
	Original string
	// Corrected is the canonical term it was replaced with.
	Corrected string
	// Confidence is the Jaro-Winkler score that accepted the match.
	Confidence float64
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithTerms replaces the default term list.
func WithTerms(terms []string) Option {
	return func(c *Corrector) {
		c.rawTerms = terms
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term whose
// phonetic codes overlap the token's. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// term holds a configured vocabulary entry with its comparison forms
// precomputed once at construction.
type term struct {
	canonical string
	lower     string
	concat    string // space-stripped lowercase form
	tokens    []string
	codes     map[string]struct{}
}

// Corrector rewrites misheard domain terms. It is read-only after
// construction and safe for concurrent use.
type Corrector struct {
	rawTerms          []string
	terms             []term
	exactTokens       map[string]struct{} // whole terms and their words
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Corrector over DefaultTerms unless WithTerms overrides them.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		rawTerms:          DefaultTerms,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	c.exactTokens = make(map[string]struct{}, len(c.rawTerms)*2)
	for _, raw := range c.rawTerms {
		lower := strings.ToLower(strings.TrimSpace(raw))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		t := term{
			canonical: strings.TrimSpace(raw),
			lower:     lower,
			concat:    strings.Join(tokens, ""),
			tokens:    tokens,
			codes:     metaphoneCodes(tokens),
		}
		c.terms = append(c.terms, t)

		c.exactTokens[lower] = struct{}{}
		for _, tok := range tokens {
			c.exactTokens[tok] = struct{}{}
		}
	}
	return c
}

// Correct rewrites misheard vocabulary in text and returns the corrected text
// together with the corrections applied, in order. Text with nothing to fix
// comes back joined on single spaces but otherwise unchanged.
func (c *Corrector) Correct(text string) (string, []Correction) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, nil
	}

	var corrections []Correction
	out := make([]string, 0, len(fields))

	for _, tok := range fields {
		prefix, core, suffix := splitToken(tok)
		if !c.correctable(core) {
			out = append(out, tok)
			continue
		}

		canonical, score, ok := c.matchToken(strings.ToLower(core))
		if !ok {
			out = append(out, tok)
			continue
		}

		replacement := matchCase(core, canonical)
		out = append(out, prefix+replacement+suffix)
		corrections = append(corrections, Correction{
			Original:   core,
			Corrected:  canonical,
			Confidence: score,
		})
	}

	return strings.Join(out, " "), corrections
}

// correctable reports whether a token core is eligible for rewriting.
func (c *Corrector) correctable(core string) bool {
	if utf8.RuneCountInString(core) < minCorrectableLen {
		return false
	}
	for _, r := range core {
		if unicode.IsDigit(r) {
			return false
		}
	}
	// Already a term, or a word of one ("heat" must not grow into "heat pump").
	if _, exact := c.exactTokens[strings.ToLower(core)]; exact {
		return false
	}
	return true
}

// matchToken finds the best term for a lowercase token. Phonetic candidates
// (code overlap) are preferred and accepted at the phonetic threshold; other
// terms must clear the fuzzy threshold.
func (c *Corrector) matchToken(token string) (canonical string, score float64, ok bool) {
	tokenCodes := metaphoneCodes([]string{token})

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, t := range c.terms {
		jw := bestSimilarity(token, t)
		if codesOverlap(tokenCodes, t.codes) {
			if jw >= c.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.canonical, jw, true
			}
		} else if !bestPhonetic && jw >= c.fuzzyThreshold && jw > bestScore {
			bestTerm, bestScore = t.canonical, jw
		}
	}

	if bestTerm == "" {
		return "", 0, false
	}
	return bestTerm, bestScore, true
}

// bestSimilarity returns the highest Jaro-Winkler score between the token and
// the term's comparison forms: the full term, its space-stripped form, and
// each individual term word.
func bestSimilarity(token string, t term) float64 {
	score := matchr.JaroWinkler(token, t.lower, false)
	if t.concat != t.lower {
		if s := matchr.JaroWinkler(token, t.concat, false); s > score {
			score = s
		}
	}
	for _, word := range t.tokens {
		if s := matchr.JaroWinkler(token, word, false); s > score {
			score = s
		}
	}
	return score
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens,
// excluding empty codes.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// splitToken separates surrounding punctuation from the word core, so
// "thermostat," keeps its comma after replacement.
func splitToken(tok string) (prefix, core, suffix string) {
	start := strings.IndexFunc(tok, isWordRune)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWordRune)
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:start], tok[start : end+size], tok[end+size:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// matchCase carries a leading capital from the original token onto the
// replacement, so sentence-initial corrections stay capitalised.
func matchCase(original, replacement string) string {
	r, _ := utf8.DecodeRuneInString(original)
	if !unicode.IsUpper(r) {
		return replacement
	}
	first, size := utf8.DecodeRuneInString(replacement)
	return string(unicode.ToUpper(first)) + replacement[size:]
}
