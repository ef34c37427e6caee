package graph

import (
	"regexp"
	"strings"

	"github.com/laminark/laminark/internal/storage"
)

const (
	contextWindow        = 50
	tightWindow          = 20
	baseEdgeConfidence   = 0.5
	keywordConfidenceBump = 0.1
	proximityConfidenceBump = 0.15
	minEdgeConfidence    = 0.45
)

// relationshipPattern pairs an edge type with the regex that signals it in
// the text between two co-mentioned entities. Ordered most-specific first:
// the first pattern that matches wins, so a generic word inside a more
// specific phrase ("verified by the fix for") doesn't get mistaken for a
// weaker relationship.
var relationshipPatterns = []struct {
	Type  string
	Regex *regexp.Regexp
}{
	{storage.EdgeVerifiedBy, regexp.MustCompile(`(?i)verified by|confirmed by|validated by`)},
	{storage.EdgeCausedBy, regexp.MustCompile(`(?i)caused by|due to|because of`)},
	{storage.EdgeSolvedBy, regexp.MustCompile(`(?i)solved by|fixed by|resolved by`)},
	{storage.EdgeModifies, regexp.MustCompile(`(?i)modifies|changes|updates|edits`)},
	{storage.EdgeInformedBy, regexp.MustCompile(`(?i)informed by|based on|per the`)},
	{storage.EdgePrecededBy, regexp.MustCompile(`(?i)preceded by|after|following`)},
	{storage.EdgeReferences, regexp.MustCompile(`(?i)references|see also|related docs?`)},
}

// defaultEdgeForTypes is the fallback edge type when no phrase pattern
// matches but two entity types still imply a natural default relationship
// (spec §4.9's type-pair default table).
var defaultEdgeForTypes = map[[2]string]string{
	{storage.NodeProblem, storage.NodeSolution}:  storage.EdgeSolvedBy,
	{storage.NodeDecision, storage.NodeProblem}:  storage.EdgeCausedBy,
	{storage.NodeSolution, storage.NodeFile}:     storage.EdgeModifies,
	{storage.NodeFile, storage.NodeDecision}:     storage.EdgeModifies,
	{storage.NodeDecision, storage.NodeReference}: storage.EdgeInformedBy,
	{storage.NodeSolution, storage.NodeDecision}: storage.EdgeVerifiedBy,
}

// detectedEdge is one relationship candidate between two entity mentions.
type detectedEdge struct {
	SourceName string
	TargetName string
	Type       string
	Confidence float64
}

// detectRelationships scans content for pairs of co-mentioned entities and
// infers the edge type and confidence linking them.
func detectRelationships(content string, entities []entityMention) []detectedEdge {
	var out []detectedEdge
	for i := 0; i < len(entities); i++ {
		for j := 0; j < len(entities); j++ {
			if i == j {
				continue
			}
			a, b := entities[i], entities[j]
			gap := b.Index - (a.Index + len(a.Name))
			if gap < 0 || gap > contextWindow {
				continue
			}
			window := content[a.Index+len(a.Name) : b.Index]

			edgeType := ""
			confidence := baseEdgeConfidence
			for _, p := range relationshipPatterns {
				if p.Regex.MatchString(window) {
					edgeType = p.Type
					confidence += keywordConfidenceBump
					break
				}
			}
			if edgeType == "" {
				t, ok := defaultEdgeForTypes[[2]string{a.Type, b.Type}]
				if !ok {
					continue
				}
				edgeType = t
			}
			if gap <= tightWindow {
				confidence += proximityConfidenceBump
			}
			if confidence > 1.0 {
				confidence = 1.0
			}
			if confidence < minEdgeConfidence {
				continue
			}
			out = append(out, detectedEdge{SourceName: a.Name, TargetName: b.Name, Type: edgeType, Confidence: confidence})
		}
	}
	return out
}

// entityMention is an entity occurrence located within an observation's
// content, needed to measure the context window between two mentions.
type entityMention struct {
	Type  string
	Name  string
	Index int
}

// locateMentions finds the first occurrence of each entity's name in
// content, case-insensitively, dropping any entity not actually found
// verbatim (a classifier may paraphrase a name it extracted).
func locateMentions(content string, names []struct {
	Type string
	Name string
}) []entityMention {
	lower := strings.ToLower(content)
	var out []entityMention
	for _, n := range names {
		idx := strings.Index(lower, strings.ToLower(n.Name))
		if idx < 0 {
			continue
		}
		out = append(out, entityMention{Type: n.Type, Name: n.Name, Index: idx})
	}
	return out
}
