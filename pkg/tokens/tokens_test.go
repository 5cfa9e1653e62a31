package tokens

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short ascii floors at one", "ab", 1},
		{"four ascii chars", "abcd", 1},
		{"eight ascii chars", "abcdefgh", 2},
		{"cjk counts per rune plus floor", "你好", 3},
		{"mixed", "你好abcdefgh", 4},
		{"single char", "a", 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Estimate(tc.text))
		})
	}
}

func TestFilterByPattern(t *testing.T) {
	text := "error: disk full\ninfo: all good\nerror: cpu hot"

	got, err := FilterByPattern(text, `^error:`)
	require.NoError(t, err)
	assert.Equal(t, "error: disk full\nerror: cpu hot", got)

	got, err = FilterByPattern(text, `nomatch`)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = FilterByPattern(text, `([bad`)
	require.Error(t, err)
}

func TestFilterByPatternTrailingNewline(t *testing.T) {
	// A match-anything pattern must not keep a phantom empty line for
	// newline-terminated command output.
	got, err := FilterByPattern("a\nb\n", `.*`)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)

	got, err = FilterByPattern("a\nb\n", `^b`)
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = FilterByPattern("", `.*`)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestTruncate(t *testing.T) {
	t.Run("fits untouched", func(t *testing.T) {
		assert.Equal(t, "short", Truncate("short", 100))
	})

	t.Run("truncates with suffix", func(t *testing.T) {
		text := strings.Repeat("x", 400)
		got := Truncate(text, 10)
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.Less(t, len(got), len(text))
		assert.LessOrEqual(t, Estimate(got), 10)
	})

	t.Run("zero budget yields empty", func(t *testing.T) {
		assert.Equal(t, "", Truncate("anything", 0))
	})

	t.Run("tiny budget keeps estimate within bound", func(t *testing.T) {
		got := Truncate(strings.Repeat("x", 400), 1)
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, Estimate(got), 1)
	})

	t.Run("cjk cut stays on rune boundaries", func(t *testing.T) {
		got := Truncate(strings.Repeat("中", 100), 10)
		assert.True(t, utf8.ValidString(got))
		assert.True(t, strings.HasSuffix(got, "..."))
		assert.LessOrEqual(t, Estimate(got), 10)
		for _, r := range strings.TrimSuffix(got, "...") {
			assert.Equal(t, '中', r)
		}
	})

	t.Run("mixed cjk and ascii stays valid", func(t *testing.T) {
		got := Truncate(strings.Repeat("漢x", 200), 7)
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, Estimate(got), 7)
	})
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		pattern string
		budget  int
		wantErr bool
	}{
		{"full", ModeFull, "", 0, false},
		{"empty mode defaults to full", "", "", 0, false},
		{"filter with pattern", ModeFilter, `^err`, 0, false},
		{"filter without pattern", ModeFilter, "", 0, true},
		{"filter with bad pattern", ModeFilter, `([`, 0, true},
		{"truncate with budget", ModeTruncate, "", 100, false},
		{"truncate without budget", ModeTruncate, "", 0, true},
		{"unknown mode", Mode("summarize"), "", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOptions(tc.mode, tc.pattern, tc.budget)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Run("full passes through", func(t *testing.T) {
		got, err := Apply("text", ModeFull, "", 0)
		require.NoError(t, err)
		assert.Equal(t, "text", got)
	})

	t.Run("filter", func(t *testing.T) {
		got, err := Apply("a\nbb\na", ModeFilter, `^a$`, 0)
		require.NoError(t, err)
		assert.Equal(t, "a\na", got)
	})

	t.Run("truncate", func(t *testing.T) {
		got, err := Apply(strings.Repeat("y", 100), ModeTruncate, "", 5)
		require.NoError(t, err)
		assert.LessOrEqual(t, Estimate(got), 5)
	})

	t.Run("usage errors are typed", func(t *testing.T) {
		_, err := Apply("text", ModeFilter, "", 0)
		var usageErr *UsageError
		require.True(t, errors.As(err, &usageErr))
	})
}
