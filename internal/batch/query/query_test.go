package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Property #6 from spec.md §8: query normalization is deterministic.
func TestClean_SpecExamples(t *testing.T) {
	cases := map[string]string{
		"p i z z a   s l i c e": "pizza slice",
		"Pizza!! ":              "pizza",
		"shoes filetype png":    "shoes",
		"normal text":           "normal text",
	}
	for in, want := range cases {
		require.Equal(t, want, Clean(in, 0, nil), "input %q", in)
	}
}

func TestCleanSpacedText_LeavesNormalTextAlone(t *testing.T) {
	require.Equal(t, "red running shoes", CleanSpacedText("red running shoes"))
}

func TestCleanSpacedText_ReconstructsHighRatioSingleChars(t *testing.T) {
	require.Equal(t, "pizza slice", CleanSpacedText("p i z z a   s l i c e"))
}

func TestCleanSpacedText_MixedRunsBelowThreshold(t *testing.T) {
	// A single stray single-char token amid normal words should not
	// trigger reconstruction.
	got := CleanSpacedText("a normal sentence here")
	require.Equal(t, "a normal sentence here", got)
}

func TestStripJunkSuffixes(t *testing.T) {
	require.Equal(t, "shoes", StripJunkSuffixes("shoes filetype png", defaultJunkSuffixes))
	require.Equal(t, "pizza crust", StripJunkSuffixes("pizza crust site:example.com", defaultJunkSuffixes))
	require.Equal(t, "no junk here", StripJunkSuffixes("no junk here", defaultJunkSuffixes))
}

func TestClean_MaxWords(t *testing.T) {
	require.Equal(t, "one two three", Clean("one two three four five", 3, nil))
	require.Equal(t, "one two three four five", Clean("one two three four five", 0, nil))
}

func TestClean_StripsPunctuationKeepsHyphen(t *testing.T) {
	require.Equal(t, "coffee-table set", Clean("coffee-table, set!!", 0, nil))
}

func TestClean_Empty(t *testing.T) {
	require.Equal(t, "", Clean("", 0, nil))
}

func TestIsValid(t *testing.T) {
	ignore := map[string]struct{}{"n/a": {}, "none": {}, "-": {}}
	require.True(t, IsValid("red sneakers", ignore))
	require.False(t, IsValid("", ignore))
	require.False(t, IsValid("x", ignore))
	require.False(t, IsValid("N/A", ignore))
	require.False(t, IsValid("  none ", ignore))
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("red sneakers")
	b := Fingerprint("red sneakers")
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestFingerprint_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Fingerprint("red sneakers")
	b := Fingerprint("  Red   Sneakers ")
	require.Equal(t, a, b, "two textually identical normalized queries must share a fingerprint")
}

func TestFingerprint_DifferentQueriesDiffer(t *testing.T) {
	require.NotEqual(t, Fingerprint("red sneakers"), Fingerprint("blue sneakers"))
}

func TestBuildFallbacks_OrderAndDedup(t *testing.T) {
	row := map[string]string{
		"keywords": "red sneakers",
		"objects":  "red sneakers", // duplicate after cleaning, should be skipped
		"text":     "running shoes",
	}
	out := BuildFallbacks(row, "keywords", []string{"objects", "text"}, 0, nil)
	require.Equal(t, []string{"red sneakers", "running shoes"}, out)
}

func TestBuildFallbacks_SkipsInvalid(t *testing.T) {
	ignore := map[string]struct{}{"n/a": {}}
	row := map[string]string{
		"keywords": "n/a",
		"text":     "running shoes",
	}
	out := BuildFallbacks(row, "keywords", []string{"text"}, 0, ignore)
	require.Equal(t, []string{"running shoes"}, out)
}
