package dialog

import "testing"

func TestMatchAnyWholeWord(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{"exact word", "no", []string{"no"}, true},
		{"word in sentence", "no, nothing like that", []string{"no"}, true},
		{"leading word", "no smell at all", []string{"no"}, true},
		{"trailing word", "i said no", []string{"no"}, true},
		{"inside larger word", "i noticed a smell", []string{"no"}, false},
		{"prefix of larger word", "i know about that", []string{"no"}, false},
		{"not is not no", "it's not working", []string{"no"}, false},
		{"case insensitive", "NO way", []string{"no"}, true},
		{"phrase match", "we're fine thanks", []string{"we're fine"}, true},
		{"phrase not split", "we're finely tuned", []string{"we're fine"}, false},
		{"apostrophe is word char", "i can't say", []string{"can"}, false},
		{"punctuation boundary", "gas!", []string{"gas"}, true},
		{"digit boundary", "gas5", []string{"gas"}, false},
		{"empty text", "", []string{"no"}, false},
		{"multiple keywords", "sounds good to me", []string{"nope", "sounds good"}, true},
		{"repeated partial then whole", "knowing? no.", []string{"no"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchAny(tt.text, tt.keywords); got != tt.want {
				t.Errorf("MatchAny(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.want)
			}
		})
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain service", "my AC stopped working", "service"},
		{"default is service", "hello, can you hear me", "service"},
		{"billing", "I have a question about my bill", "non_service"},
		{"hiring", "I'm calling to apply for the job posting", "non_service"},
		{"wrong number", "sorry, wrong number", "non_service"},
		{"follow up", "I'm following up on my call from yesterday", "follow_up"},
		{"still waiting", "I'm still waiting on that callback", "follow_up"},
		{"manage booking", "I need to reschedule", "manage_booking"},
		{"cancel", "I want to cancel my appointment", "manage_booking"},
		{"manage outranks follow up", "checking on my appointment, I want to cancel the visit", "manage_booking"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyIntent(tt.text); got != tt.want {
				t.Errorf("ClassifyIntent(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectSafetyEmergency(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"gas smell", "I smell gas in the kitchen", true},
		{"smoke", "there's smoke coming from the vents", true},
		{"co detector", "the co detector is going off", true},
		{"retracted", "I smelled gas last week but don't worry", false},
		{"never mind", "gas... never mind, that's not it", false},
		{"no keywords", "the AC is blowing warm air", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSafetyEmergency(tt.text); got != tt.want {
				t.Errorf("DetectSafetyEmergency(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectHighTicket(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"new system", "how much for a whole new system", true},
		{"replacement quote", "I'd like a quote on a replacement", true},
		{"repair veto", "my new unit is broken", false},
		{"maintenance veto", "quote me a tune-up and filter change", false},
		{"plain repair", "the blower is making noise", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHighTicket(tt.text); got != tt.want {
				t.Errorf("DetectHighTicket(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectCallbackRequest(t *testing.T) {
	if !DetectCallbackRequest("just have someone call me back tomorrow") {
		t.Error("DetectCallbackRequest = false for explicit request, want true")
	}
	if DetectCallbackRequest("I'll call back later if I need to") {
		t.Error("DetectCallbackRequest = true for caller's own plan, want false")
	}
}

func TestDetectPropertyManager(t *testing.T) {
	if !DetectPropertyManager("I'm the property manager, the unit is at 500 Oak") {
		t.Error("DetectPropertyManager = false, want true")
	}
	if DetectPropertyManager("my house is too warm") {
		t.Error("DetectPropertyManager = true for homeowner, want false")
	}
}

func TestDetectSafetyClear(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"no, nothing like that", true},
		{"nah we're fine", true},
		{"I noticed something odd", false},
		{"you know, maybe", false},
		{"actually no, never mind", true}, // a literal "no" clears
		{"smelled gas but never mind", false},
	}
	for _, tt := range tests {
		if got := DetectSafetyClear(tt.text); got != tt.want {
			t.Errorf("DetectSafetyClear(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestContainsBookingLanguage(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"I can schedule that for you", true},
		{"We have a slot open tomorrow", true},
		{"Glad I could help, take care!", false},
		{"They'll confirm timing when they call.", false},
	}
	for _, tt := range tests {
		if got := ContainsBookingLanguage(tt.reply); got != tt.want {
			t.Errorf("ContainsBookingLanguage(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}
