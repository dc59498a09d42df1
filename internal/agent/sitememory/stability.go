package sitememory

import "regexp"

// cssInJSHash matches common CSS-in-JS / framework auto-generated marker
// shapes: MuiButton-root-123, jss123, styled-component hashes, and bare
// 6+ character alphanumeric runs that look like a random suffix rather
// than an authored name.
var cssInJSHash = regexp.MustCompile(`(?i)(-root-\d+|^jss\d+|^css-[a-z0-9]{5,}$|^sc-[a-zA-Z0-9]{5,}$)`)
var randomRun = regexp.MustCompile(`[a-zA-Z0-9]{6,}`)
var hasDigit = regexp.MustCompile(`\d`)
var hasLetter = regexp.MustCompile(`[a-zA-Z]`)

// IsStable reports whether an id or class value looks like a durable,
// author-assigned name rather than an auto-generated one that will change
// on the next build (spec.md §4.6 stability filter).
func IsStable(value string) bool {
	if value == "" {
		return false
	}
	if cssInJSHash.MatchString(value) {
		return false
	}
	return !looksAutoGenerated(value)
}

// looksAutoGenerated flags tokens that mix letters and digits in a dense
// run with no word-like structure (underscores/hyphens separating real
// words) — the common shape of a build-tool hash.
func looksAutoGenerated(value string) bool {
	if !hasDigit.MatchString(value) || !hasLetter.MatchString(value) {
		return false
	}
	if containsWordSeparator(value) {
		return false
	}
	return randomRun.MatchString(value) && len(value) >= 6
}

func containsWordSeparator(value string) bool {
	for _, r := range value {
		if r == '-' || r == '_' || r == ' ' {
			return true
		}
	}
	return false
}
