package studentid

import (
	"regexp"
	"strings"
	"unicode"
)

// Length is the number of digits in a student identifier.
const Length = 8

// DefaultFallbackThreshold is the confidence below which ShouldFallback escalates.
const DefaultFallbackThreshold = 0.85

var (
	formatPattern = regexp.MustCompile(`^\d{8}$`)
	digitRun      = regexp.MustCompile(`[0-9]+`)
)

// confusionReplacer maps visual lookalikes to the digit OCR most likely meant.
var confusionReplacer = strings.NewReplacer(
	"O", "0",
	"o", "0",
	"I", "1",
	"l", "1",
	")", "1",
	"(", "1",
	"n", "7",
)

// Normalize cleans raw recognised text into a digit candidate. It strips all
// whitespace, substitutes lookalike characters, then keeps the longest digit
// run (the first one on ties) truncated to Length. The second return value is
// false when no digits remain.
func Normalize(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", false
	}
	cleaned = confusionReplacer.Replace(cleaned)

	longest := ""
	for _, run := range digitRun.FindAllString(cleaned, -1) {
		if len(run) > len(longest) {
			longest = run
		}
	}
	if longest == "" {
		return "", false
	}
	if len(longest) >= Length {
		return longest[:Length], true
	}
	return longest, true
}

// IsValidFormat reports whether s is exactly eight ASCII digits.
func IsValidFormat(s string) bool {
	return formatPattern.MatchString(s)
}

// ShouldFallback reports whether a recognition result needs the next stage.
// It escalates when the format is invalid, the length is wrong, or confidence
// is strictly below threshold.
func ShouldFallback(formatValid bool, confidence float64, lengthValid bool, threshold float64) bool {
	return !formatValid || confidence < threshold || !lengthValid
}
