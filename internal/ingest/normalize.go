package ingest

import (
	"regexp"
	"strings"
)

// ContainmentMinLen is the minimum normalized length at which a string
// contained in another counts as the same utterance. Tuned empirically; see
// Equivalent.
const ContainmentMinLen = 16

// Lines that are nothing but a media placeholder carry no comparable text
// and are dropped before comparison.
var mediaPlaceholder = regexp.MustCompile(`(?i)^\s*[<\[](?:image|img|file|attachment|screenshot|media|audio|video)(?:\s+[^<>\[\]]*)?[>\]]\s*$`)

// NormalizeText prepares a message for duplicate comparison: placeholder-only
// lines are dropped, the rest is lowercased and every whitespace run collapses
// to a single space.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if mediaPlaceholder.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(strings.Fields(strings.ToLower(strings.Join(kept, " "))), " ")
}

// Equivalent reports whether two messages are the same logical utterance:
// their normalized forms are equal, or one contains the other and the shorter
// is at least ContainmentMinLen characters (channels truncate or decorate the
// same text differently).
func Equivalent(a, b string) bool {
	return equivalentNormalized(NormalizeText(a), NormalizeText(b))
}

func equivalentNormalized(na, nb string) bool {
	if na == nb {
		return true
	}
	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < ContainmentMinLen {
		return false
	}
	return strings.Contains(longer, shorter)
}
