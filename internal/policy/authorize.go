package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// DialDecision is the outcome of screening an outbound call target.
type DialDecision struct {
	Blocked bool
	Reason  string
}

var targetPattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// Premium-rate prefixes we refuse to dial automatically. Matched against the
// normalized target with its leading + removed.
var premiumPrefixes = []string{"1900", "0900"}

// ValidateTarget checks that a dial target looks like a phone number:
// an optional leading + followed by 8-15 digits once separators are stripped.
func ValidateTarget(number string) error {
	normalized := NormalizeTarget(number)
	if normalized == "" {
		return fmt.Errorf("dial target is empty")
	}
	if !targetPattern.MatchString(normalized) {
		return fmt.Errorf("dial target %q is not a phone number", number)
	}
	return nil
}

// DecideDial screens a validated target against the block rules.
func DecideDial(number string) DialDecision {
	normalized := NormalizeTarget(number)
	bare := strings.TrimPrefix(normalized, "+")

	if len(bare) <= 4 {
		// Short codes are emergency/service numbers, never campaign targets.
		return DialDecision{Blocked: true, Reason: "short service numbers cannot be dialed"}
	}
	for _, prefix := range premiumPrefixes {
		if strings.HasPrefix(bare, prefix) {
			return DialDecision{
				Blocked: true,
				Reason:  fmt.Sprintf("target matches premium-rate prefix %s", prefix),
			}
		}
	}
	return DialDecision{}
}

// NormalizeTarget strips spaces, dashes, dots and parentheses from a number.
func NormalizeTarget(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(number))
}
