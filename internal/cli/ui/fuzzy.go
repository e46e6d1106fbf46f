package ui

import (
	"sort"
	"strings"
)

// maxSuggestionDistance bounds how far a candidate may be from the target
// before it stops being a plausible typo.
const maxSuggestionDistance = 3

// Suggest returns up to limit candidates closest to target by edit
// distance, case-insensitively, nearest first. Used for "unknown document
// type" hints.
func Suggest(target string, candidates []string, limit int) []string {
	if limit <= 0 {
		limit = 3
	}
	lowered := strings.ToLower(target)

	type scored struct {
		value    string
		distance int
	}
	var matches []scored
	for _, candidate := range candidates {
		d := levenshtein(lowered, strings.ToLower(candidate))
		if d <= maxSuggestionDistance {
			matches = append(matches, scored{candidate, d})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minOf(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minOf(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
