package curation

import "strings"

// The contradiction keyword lists are grouped by the kind of signal they give that a
// newer observation supersedes an older one referencing the same graph
// node (spec §4.9 step 4, advisory only — nothing here deletes data).
var negationKeywords = []string{
	"no longer", "not actually", "turns out", "was wrong", "incorrect",
	"doesn't work", "does not work", "actually fails",
}

var replacementKeywords = []string{
	"instead of", "replaced", "superseded", "now uses", "switched to",
	"migrated to", "in favor of",
}

var statusChangeKeywords = []string{
	"deprecated", "removed", "obsolete", "abandoned", "no longer maintained",
}

// detectContradiction reports whether newer's content looks like it
// contradicts older's, and if so, which keyword group triggered it (used
// as the staleness flag's reason).
func detectContradiction(older, newer string) (reason string, found bool) {
	lower := strings.ToLower(newer)
	if containsAny(lower, negationKeywords) {
		return "negation", true
	}
	if containsAny(lower, replacementKeywords) {
		return "replacement", true
	}
	if containsAny(lower, statusChangeKeywords) {
		return "status_change", true
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
