package enrich

import "context"

// ClassificationResult is the structured output a Classifier must produce
// for one observation (spec §4.4).
type ClassificationResult struct {
	Classification string
	DebugSignal    DebugSignal
	Entities       []ExtractedEntity
}

// DebugSignal is the classifier's verdict on whether an observation is part
// of a debug session, fed to the debug-path state machine (spec §4.8).
// WaypointHint, when non-empty, names the waypoint type to record directly
// instead of inferring one from IsError/IsResolution.
type DebugSignal struct {
	IsError      bool
	IsResolution bool
	WaypointHint string
	Confidence   float64
}

// ExtractedEntity is a candidate graph node mention found in an
// observation's content, before the graph package's quality gate and
// relationship detector run over it.
type ExtractedEntity struct {
	Type       string
	Name       string
	Confidence float64
}

// Classifier assigns a classification, a debug-path signal, and candidate
// entities to one observation's content. Implementations may call out to
// an LLM or a local heuristic model; the pipeline gives them a bounded
// deadline per call and treats a timeout as "skip this step for now," not
// a fatal error.
type Classifier interface {
	Classify(ctx context.Context, content string) (ClassificationResult, error)
}
