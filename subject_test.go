package jobwatch

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantErr bool
	}{
		{"simple", "ashwagandha", false},
		{"two words", "fish oil", false},
		{"with digits", "vitamin d3", false},
		{"padded", "  zinc  ", false},
		{"minimum length", "b6", false},

		{"empty", "", true},
		{"whitespace", "   ", true},
		{"single char", "a", true},
		{"too long", strings.Repeat("a", 101), true},
		{"blocked word", "xanax", true},
		{"blocked word mixed case", "Buy Fentanyl", true},
		{"recipe pattern", "recipe for turmeric latte", true},
		{"prescription pattern", "rx strength melatonin", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubject(tt.subject)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSubject(%q) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSubject) {
				t.Errorf("error %v does not wrap ErrInvalidSubject", err)
			}
		})
	}
}

func TestSanitizeSubject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims", "  zinc \n", "zinc"},
		{"strips angle brackets", "<b>zinc</b>", "bzinc/b"},
		{"keeps unicode", "  café extract ", "café extract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeSubject(tt.in); got != tt.want {
				t.Errorf("SanitizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeSubject_Truncates(t *testing.T) {
	got := SanitizeSubject(strings.Repeat("é", 150))
	if n := len([]rune(got)); n != maxSubjectLength {
		t.Errorf("rune length = %d, want %d", n, maxSubjectLength)
	}
}
