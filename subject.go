package jobwatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minSubjectLength = 2
	maxSubjectLength = 100
)

// ErrInvalidSubject is wrapped by every error returned from [ValidateSubject].
var ErrInvalidSubject = errors.New("invalid subject")

// blockedTerms are single words that never describe a dietary supplement.
var blockedTerms = map[string]struct{}{
	"recipe": {}, "pizza": {}, "cake": {}, "dessert": {},
	"antibiotic": {}, "penicillin": {}, "amoxicillin": {}, "ibuprofen": {},
	"opioid": {}, "morphine": {}, "oxycodone": {}, "fentanyl": {},
	"adderall": {}, "xanax": {}, "cocaine": {}, "heroin": {}, "meth": {},
	"lsd": {}, "mdma": {}, "ketamine": {}, "steroid": {}, "anabolic": {},
	"trenbolone": {}, "dianabol": {}, "bomb": {}, "weapon": {}, "poison": {},
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow to (make|create) (bomb|weapon)`),
	regexp.MustCompile(`(?i)\brecipe (for|of)\b`),
	regexp.MustCompile(`(?i)\b(buy|purchase) (drug|illegal)`),
	regexp.MustCompile(`(?i)\b(prescription|rx)\b`),
}

// SanitizeSubject trims whitespace, strips angle brackets and truncates to
// the maximum subject length.
func SanitizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	if utf8.RuneCountInString(s) > maxSubjectLength {
		s = string([]rune(s)[:maxSubjectLength])
	}
	return s
}

// ValidateSubject rejects subjects that are too short, too long, or clearly
// not about a dietary supplement. It runs before any network call; a
// rejected subject fails the start step.
func ValidateSubject(subject string) error {
	normalized := strings.ToLower(strings.TrimSpace(subject))

	n := utf8.RuneCountInString(normalized)
	if n < minSubjectLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidSubject, minSubjectLength)
	}
	if n > maxSubjectLength {
		return fmt.Errorf("%w: must not exceed %d characters", ErrInvalidSubject, maxSubjectLength)
	}

	for _, word := range strings.Fields(normalized) {
		if _, blocked := blockedTerms[word]; blocked {
			return fmt.Errorf("%w: %q is not a supplement", ErrInvalidSubject, word)
		}
	}

	for _, p := range suspiciousPatterns {
		if p.MatchString(normalized) {
			return fmt.Errorf("%w: does not look like a supplement search", ErrInvalidSubject)
		}
	}

	return nil
}
