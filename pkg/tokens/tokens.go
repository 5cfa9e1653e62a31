// Package tokens shapes command output to fit a language-model context
// budget: pass it through, filter lines by pattern, or truncate to an
// estimated token count.
package tokens

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects how output is shaped.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeFilter   Mode = "filter"
	ModeTruncate Mode = "truncate"
)

const truncationSuffix = "..."

// UsageError reports an invalid mode/parameter combination. It is a caller
// mistake, not a network failure.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// Estimate approximates the token count of text: CJK runes count one each,
// everything else averages four characters per token, with a floor of one
// for non-empty input.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	other := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	quarter := other / 4
	if quarter < 1 {
		quarter = 1
	}
	return cjk + quarter
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF,
		r >= 0x3400 && r <= 0x4DBF,
		r >= 0x20000 && r <= 0x2A6DF,
		r >= 0x2A700 && r <= 0x2B73F,
		r >= 0x2B740 && r <= 0x2B81F,
		r >= 0x2B820 && r <= 0x2CEAF:
		return true
	}
	return false
}

// FilterByPattern keeps only the lines matching pattern.
func FilterByPattern(text, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}
	if text == "" {
		return "", nil
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if re.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// Truncate returns the longest prefix of text, plus a "..." suffix, whose
// token estimate fits maxTokens. The binary search runs over rune offsets
// so the cut never lands inside a multi-byte character.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi) / 2
		if Estimate(string(runes[:mid])+truncationSuffix) <= maxTokens {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	cut := lo - 1
	if cut <= 0 {
		if Estimate(truncationSuffix) <= maxTokens {
			return truncationSuffix
		}
		return ""
	}
	return string(runes[:cut]) + truncationSuffix
}

// ValidateOptions rejects invalid mode/parameter combinations before any
// remote work is done.
func ValidateOptions(mode Mode, filterPattern string, maxTokens int) error {
	switch mode {
	case "", ModeFull:
		return nil
	case ModeFilter:
		if filterPattern == "" {
			return &UsageError{Msg: "filter mode requires a filter pattern"}
		}
		if _, err := regexp.Compile(filterPattern); err != nil {
			return fmt.Errorf("invalid filter pattern %q: %w", filterPattern, err)
		}
		return nil
	case ModeTruncate:
		if maxTokens <= 0 {
			return &UsageError{Msg: "truncate mode requires a positive max token budget"}
		}
		return nil
	default:
		return &UsageError{Msg: fmt.Sprintf("unsupported token mode: %q", mode)}
	}
}

// Apply shapes text per mode. Filter requires a pattern; truncate requires
// a positive budget.
func Apply(text string, mode Mode, filterPattern string, maxTokens int) (string, error) {
	switch mode {
	case "", ModeFull:
		return text, nil
	case ModeFilter:
		if filterPattern == "" {
			return "", &UsageError{Msg: "filter mode requires a filter pattern"}
		}
		return FilterByPattern(text, filterPattern)
	case ModeTruncate:
		if maxTokens <= 0 {
			return "", &UsageError{Msg: "truncate mode requires a positive max token budget"}
		}
		return Truncate(text, maxTokens), nil
	default:
		return "", &UsageError{Msg: fmt.Sprintf("unsupported token mode: %q", mode)}
	}
}
