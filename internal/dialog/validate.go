package dialog

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// sentinelValues are placeholder strings the extraction model emits when
// it has nothing real. Any of these means "no value".
var sentinelValues = map[string]struct{}{
	"not provided":        {},
	"n/a":                 {},
	"na":                  {},
	"unknown":             {},
	"none":                {},
	"tbd":                 {},
	"{{customer_name}}":   {},
	"{{zip_code}}":        {},
	"{{service_address}}": {},
	"auto":                {},
	"customer_name":       {},
	"service_address":     {},
}

var (
	zipExact   = regexp.MustCompile(`^\d{5}$`)
	zipInText  = regexp.MustCompile(`\b\d{5}\b`)
	zipInRun   = regexp.MustCompile(`\d{5}`)
	phoneLike  = regexp.MustCompile(`^[\d+\-() ]{7,}$`)
	bareOr     = regexp.MustCompile(`(?i)\bor\b`)
	digitToken = regexp.MustCompile(`[a-zA-Z]+|\d`)
)

// ValidateZIP returns the trimmed value when it is exactly five ASCII
// digits, otherwise "".
func ValidateZIP(value string) string {
	cleaned := strings.TrimSpace(value)
	if zipExact.MatchString(cleaned) {
		return cleaned
	}
	return ""
}

// ValidateName returns the trimmed value unless it is a sentinel, a
// phone-like run of digits and separators, or carries template braces.
func ValidateName(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	if _, bad := sentinelValues[strings.ToLower(cleaned)]; bad {
		return ""
	}
	if phoneLike.MatchString(cleaned) {
		return ""
	}
	if strings.Contains(cleaned, "{{") || strings.Contains(cleaned, "}}") {
		return ""
	}
	return cleaned
}

// ValidateAddress returns the trimmed value when it looks like a real
// street address: not a sentinel, at least 5 characters, at least one
// letter (a stray ZIP landing here is rejected), and no bare word "or"
// (ambiguous alternatives like "Oak or Elm" are useless for dispatch).
func ValidateAddress(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	if _, bad := sentinelValues[strings.ToLower(cleaned)]; bad {
		return ""
	}
	if len(cleaned) < 5 {
		return ""
	}
	if !strings.ContainsFunc(cleaned, unicode.IsLetter) {
		return ""
	}
	if bareOr.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// IsServiceArea reports whether zip is a valid ZIP inside the Austin 787
// dispatch area.
func IsServiceArea(zip string) bool {
	v := ValidateZIP(zip)
	return v != "" && strings.HasPrefix(v, "787")
}

// wordToDigit maps single spoken digits. "oh" and "o" read as zero.
var wordToDigit = map[string]string{
	"zero": "0", "oh": "0", "o": "0",
	"one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// WordsToDigits collapses an utterance to its spoken digits:
// "seven eight seven oh one" → "78701". Words that are not digits are
// dropped; literal digits pass through.
func WordsToDigits(text string) string {
	var b strings.Builder
	for _, tok := range digitToken.FindAllString(strings.ToLower(text), -1) {
		if d, ok := wordToDigit[tok]; ok {
			b.WriteString(d)
		} else if len(tok) == 1 && tok[0] >= '0' && tok[0] <= '9' {
			b.WriteString(tok)
		}
	}
	return b.String()
}

// MatchZIP pulls a five-digit ZIP out of an utterance. Two passes: a
// literal \b\d{5}\b match first, then a re-match over the digit-collapsed
// form so spoken ZIPs ("seven eight seven oh one") land too.
func MatchZIP(text string) string {
	if m := zipInText.FindString(text); m != "" {
		return ValidateZIP(m)
	}
	if m := zipInRun.FindString(WordsToDigits(text)); m != "" {
		return ValidateZIP(m)
	}
	return ""
}

// numberWords covers the values that show up in spoken street numbers.
// Tens merge with a following unit ("fifty three" → 53, not 503).
var numberWords = map[string]int{
	"zero": 0, "oh": 0,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17,
	"eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeAddress rewrites a spoken street number as digits, stopping
// at the first word that is not part of a number:
// "53 Eleven Izzical Road" → "5311 Izzical Road". Anything without a
// leading number passes through unchanged.
func NormalizeAddress(addr string) string {
	fields := strings.Fields(addr)
	var digits strings.Builder
	n := 0
	for n < len(fields) {
		tok := strings.ToLower(strings.Trim(fields[n], ".,"))
		if isAllDigits(tok) {
			digits.WriteString(tok)
			n++
			continue
		}
		v, ok := numberWords[tok]
		if !ok {
			break
		}
		if v >= 20 && v%10 == 0 && n+1 < len(fields) {
			next := strings.ToLower(strings.Trim(fields[n+1], ".,"))
			if u, unit := numberWords[next]; unit && u >= 1 && u <= 9 {
				digits.WriteString(strconv.Itoa(v + u))
				n += 2
				continue
			}
		}
		digits.WriteString(strconv.Itoa(v))
		n++
	}
	if n == 0 || digits.Len() == 0 {
		return addr
	}
	rest := strings.Join(fields[n:], " ")
	if rest == "" {
		return digits.String()
	}
	return digits.String() + " " + rest
}
