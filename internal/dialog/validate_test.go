package dialog

import "testing"

func TestValidateZIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"78701", "78701"},
		{"  78701  ", "78701"},
		{"7870", ""},
		{"787011", ""},
		{"78A01", ""},
		{"", ""},
		{"seven8701", ""},
	}
	for _, tt := range tests {
		if got := ValidateZIP(tt.in); got != tt.want {
			t.Errorf("ValidateZIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "Dana Whitfield", "Dana Whitfield"},
		{"trimmed", "  Dana  ", "Dana"},
		{"sentinel", "Not Provided", ""},
		{"sentinel na", "n/a", ""},
		{"template var", "{{customer_name}}", ""},
		{"half template", "Dana {{zip", ""},
		{"phone as name", "(512) 555-0134", ""},
		{"short digits ok", "7-Eleven Mart", "7-Eleven Mart"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateName(tt.in); got != tt.want {
				t.Errorf("ValidateName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"street address", "5311 Izzical Road", "5311 Izzical Road"},
		{"sentinel", "unknown", ""},
		{"too short", "Oak", ""},
		{"just a zip", "78701", ""},
		{"ambiguous or", "Oak Street or Elm Street", ""},
		{"or inside word", "1200 Portland Ave", "1200 Portland Ave"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAddress(tt.in); got != tt.want {
				t.Errorf("ValidateAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsServiceArea(t *testing.T) {
	tests := []struct {
		zip  string
		want bool
	}{
		{"78701", true},
		{"78745", true},
		{"78640", false}, // Kyle: 786 prefix
		{"10001", false},
		{"787", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsServiceArea(tt.zip); got != tt.want {
			t.Errorf("IsServiceArea(%q) = %v, want %v", tt.zip, got, tt.want)
		}
	}
}

func TestWordsToDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"seven eight seven zero one", "78701"},
		{"seven eight seven oh one", "78701"},
		{"Seven Eight Seven O One", "78701"},
		{"it's 7 8 7 oh 1", "78701"},
		{"no digits here", ""},
		{"one thing and two things", "12"},
	}
	for _, tt := range tests {
		if got := WordsToDigits(tt.in); got != tt.want {
			t.Errorf("WordsToDigits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchZIP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"literal", "it's 78701", "78701"},
		{"literal with punctuation", "78745.", "78745"},
		{"spoken", "seven eight seven oh one", "78701"},
		{"mixed", "seven 8 seven zero 1", "78701"},
		{"too short", "787", ""},
		{"none", "I'm not sure", ""},
		{"six digit run yields first five", "787011", "78701"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchZIP(tt.in); got != tt.want {
				t.Errorf("MatchZIP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"word digits join", "53 Eleven Izzical Road", "5311 Izzical Road"},
		{"all spoken", "five three one one Izzical Road", "5311 Izzical Road"},
		{"tens merge", "fifty three eleven Oak Street", "5311 Oak Street"},
		{"bare tens", "twenty Main Street", "20 Main Street"},
		{"already digits", "5311 Izzical Road", "5311 Izzical Road"},
		{"no leading number", "Izzical Road", "Izzical Road"},
		{"idempotent", NormalizeAddress("53 Eleven Izzical Road"), "5311 Izzical Road"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeAddress(tt.in); got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
