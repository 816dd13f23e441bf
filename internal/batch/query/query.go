// Package query normalizes raw row text into search queries. The
// cleaning steps are grounded on the original implementation's
// text_cleaner module: fix character-spaced text, strip search-engine
// junk suffixes, drop special characters, collapse whitespace, and
// optionally cap word count.
package query

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var defaultJunkSuffixes = []string{
	"filetype png", "filetype jpg", "filetype jpeg",
	"filetype webp", "filetype gif",
	"site:", "inurl:", "intitle:",
}

var (
	runOfSpaces    = regexp.MustCompile(`\s{2,}`)
	nonWordSpaceHy = regexp.MustCompile(`[^\w\s\-]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// CleanSpacedText repairs queries where individual characters were
// separated by spaces, e.g. "p i z z a" -> "pizza". Text with a normal
// token distribution (most tokens longer than one character) is left
// untouched aside from whitespace collapsing.
func CleanSpacedText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return ""
	}

	singleCharCount := 0
	for _, t := range tokens {
		if len([]rune(t)) == 1 {
			singleCharCount++
		}
	}
	ratio := float64(singleCharCount) / float64(len(tokens))

	if ratio > 0.7 {
		return reconstructSpacedText(text)
	}
	return strings.Join(tokens, " ")
}

// reconstructSpacedText rebuilds character-by-character text by
// splitting on runs of two or more spaces (the word-boundary marker the
// source used) and joining single-character runs within each group.
func reconstructSpacedText(text string) string {
	groups := runOfSpaces.Split(text, -1)

	var reconstructed []string
	for _, group := range groups {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		chars := strings.Fields(group)
		allSingle := len(chars) > 0
		for _, c := range chars {
			if len([]rune(c)) != 1 {
				allSingle = false
				break
			}
		}
		if allSingle {
			reconstructed = append(reconstructed, strings.Join(chars, ""))
		} else {
			reconstructed = append(reconstructed, group)
		}
	}
	return strings.Join(reconstructed, " ")
}

// StripJunkSuffixes removes search-engine junk from the end of a query,
// e.g. "pizza crust filetype png" -> "pizza crust".
func StripJunkSuffixes(text string, suffixes []string) string {
	lower := strings.ToLower(text)
	for _, suffix := range suffixes {
		if idx := strings.Index(lower, strings.ToLower(suffix)); idx >= 0 {
			text = strings.TrimSpace(text[:idx])
			lower = strings.ToLower(text)
		}
	}
	return text
}

// Clean normalizes a raw query string: fix spacing, strip junk
// suffixes, drop special characters (keeping letters, digits, spaces
// and hyphens), collapse whitespace, and optionally cap word count
// (maxWords <= 0 means unlimited).
func Clean(text string, maxWords int, suffixes []string) string {
	if text == "" {
		return ""
	}
	if suffixes == nil {
		suffixes = defaultJunkSuffixes
	}

	cleaned := CleanSpacedText(text)
	cleaned = StripJunkSuffixes(cleaned, suffixes)
	cleaned = nonWordSpaceHy.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))
	cleaned = strings.ToLower(cleaned)

	if maxWords > 0 {
		words := strings.Fields(cleaned)
		if len(words) > maxWords {
			words = words[:maxWords]
		}
		cleaned = strings.Join(words, " ")
	}
	return cleaned
}

// IsValid reports whether text is usable as a query: non-empty, longer
// than a single character, and not one of a caller-supplied set of
// sentinel "empty" values (e.g. "n/a", "-", "none").
func IsValid(text string, ignoreValues map[string]struct{}) bool {
	if text == "" {
		return false
	}
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if len(trimmed) <= 1 {
		return false
	}
	if ignoreValues != nil {
		if _, ignored := ignoreValues[trimmed]; ignored {
			return false
		}
	}
	return true
}

const hexDigits = "0123456789abcdef"

// Fingerprint computes the 16-hex-digit cache key for a query: the
// normalized (lowercased, whitespace-collapsed) query string hashed with
// BLAKE2b and truncated to 8 bytes. Two rows whose normalized queries
// are textually identical always share the same fingerprint (spec.md
// §3's Query fingerprint invariant).
func Fingerprint(normalizedQuery string) string {
	key := strings.ToLower(strings.TrimSpace(whitespaceRun.ReplaceAllString(normalizedQuery, " ")))
	sum := blake2b.Sum256([]byte(key))
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		b := sum[i]
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// BuildFallbacks constructs an ordered list of candidate queries from a
// row's columns, trying the primary query column first and then
// falling back through secondary columns in priority order. This
// mirrors the original implementation's column-priority scheme
// (keywords -> objects -> text) that the distilled specification did
// not name explicitly.
func BuildFallbacks(row map[string]string, primaryColumn string, fallbackColumns []string, maxWords int, ignoreValues map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{})

	tryColumn := func(col string) {
		raw, ok := row[col]
		if !ok || !IsValid(raw, ignoreValues) {
			return
		}
		cleaned := Clean(raw, maxWords, nil)
		if cleaned == "" {
			return
		}
		if _, dup := seen[cleaned]; dup {
			return
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}

	tryColumn(primaryColumn)
	for _, col := range fallbackColumns {
		tryColumn(col)
	}
	return out
}
