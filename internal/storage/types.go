package storage

import "time"

// Observation kinds (spec §3).
const (
	KindFinding      = "finding"
	KindChange       = "change"
	KindVerification = "verification"
	KindReference    = "reference"
)

// ClassificationNoise marks an observation hidden from default listings but
// still reachable by direct ID lookup.
const ClassificationNoise = "noise"

// Observation is the unit of captured context (spec §3).
type Observation struct {
	ID               string
	RowID            int64
	ProjectHash      string
	Content          string
	Title            *string
	Source           string
	Kind             string
	SessionID        *string
	Embedding        []float32
	EmbeddingModel   *string
	EmbeddingVersion *string
	Classification   *string
	ClassifiedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// IsDeleted reports whether the observation is soft-deleted.
func (o *Observation) IsDeleted() bool { return o.DeletedAt != nil }

// IsNoise reports whether the observation is classified as noise.
func (o *Observation) IsNoise() bool {
	return o.Classification != nil && *o.Classification == ClassificationNoise
}

// ObservationPatch carries partial update fields; nil means "leave as is".
type ObservationPatch struct {
	Content          *string
	Embedding        []float32
	EmbeddingModel   *string
	EmbeddingVersion *string
}

// Session is a logical work session (spec §3).
type Session struct {
	ID          string
	ProjectHash string
	StartedAt   time.Time
	EndedAt     *time.Time
	Summary     *string
}

// Stash statuses.
const (
	StashStashed = "stashed"
	StashResumed = "resumed"
	StashExpired = "expired"
)

// ContextStash is a frozen topic snapshot (spec §3).
type ContextStash struct {
	ID             string
	ProjectID      string
	SessionID      string
	TopicLabel     string
	Summary        string
	Observations    []ObservationSnapshot
	ObservationIDs []string
	Status         string
	CreatedAt      time.Time
	ResumedAt      *time.Time
}

// ObservationSnapshot is a self-contained copy of an observation's
// full content captured at stash time, independent of later mutation.
type ObservationSnapshot struct {
	ID      string  `json:"id"`
	Title   *string `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Kind    string  `json:"kind"`
}

// Graph node types (spec §3, closed taxonomy).
const (
	NodeProject  = "Project"
	NodeFile     = "File"
	NodeDecision = "Decision"
	NodeProblem  = "Problem"
	NodeSolution = "Solution"
	NodeReference = "Reference"
)

// GraphNode is a typed entity (spec §3).
type GraphNode struct {
	ID             string
	Type           string
	Name           string
	Metadata       map[string]any
	ObservationIDs []string
	ProjectHash    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Graph edge types (spec §3, closed taxonomy).
const (
	EdgeRelatedTo  = "related_to"
	EdgeSolvedBy   = "solved_by"
	EdgeCausedBy   = "caused_by"
	EdgeModifies   = "modifies"
	EdgeInformedBy = "informed_by"
	EdgeReferences = "references"
	EdgeVerifiedBy = "verified_by"
	EdgePrecededBy = "preceded_by"
)

// MaxNodeDegree is the maximum number of edges touching any one node.
const MaxNodeDegree = 50

// GraphEdge is a typed directed relationship (spec §3).
type GraphEdge struct {
	ID          string
	SourceID    string
	TargetID    string
	Type        string
	Weight      float64
	Metadata    map[string]any
	ProjectHash string
	CreatedAt   time.Time
}

// Debug path statuses and waypoint types (spec §3).
const (
	PathActive    = "active"
	PathResolved  = "resolved"
	PathAbandoned = "abandoned"

	WaypointError      = "error"
	WaypointAttempt    = "attempt"
	WaypointFailure    = "failure"
	WaypointSuccess    = "success"
	WaypointPivot      = "pivot"
	WaypointRevert     = "revert"
	WaypointDiscovery  = "discovery"
	WaypointResolution = "resolution"
)

// DebugPath is a persistent debugging session (spec §3).
type DebugPath struct {
	ID          string
	ProjectHash string
	Status      string
	StartedAt   time.Time
	ResolvedAt  *time.Time
}

// PathWaypoint is a single event in a debug path (spec §3).
type PathWaypoint struct {
	ID            string
	PathID        string
	SequenceOrder int
	Type          string
	Content       string
	CreatedAt     time.Time
}

// ThresholdState is the persisted EWMA seed for the topic-shift detector
// (spec §3, §4.6).
type ThresholdState struct {
	ID                string
	ProjectHash       string
	SessionID         *string
	Mean              float64
	Variance          float64
	ObservationCount  int
	ClosedAt          time.Time
}

// ShiftDecision is an audit row for one topic-shift detector invocation
// (spec §3, §4.6).
type ShiftDecision struct {
	ID             string
	ProjectHash    string
	ObservationID  *string
	Distance       float64
	Threshold      float64
	EWMAMean       float64
	EWMAVariance   float64
	Sensitivity    float64
	Shifted        bool
	Confidence     float64
	StashID        *string
	CreatedAt      time.Time
}

// ResearchBufferEntry is transient tool-use provenance (spec §3).
type ResearchBufferEntry struct {
	ID          string
	ProjectHash string
	SessionID   string
	ToolName    string
	Target      string
	CreatedAt   time.Time
}

// Tool registry scopes and statuses (spec §3).
const (
	ToolScopeGlobal  = "global"
	ToolScopeProject = "project"
	ToolScopePlugin  = "plugin"

	ToolStatusActive  = "active"
	ToolStatusStale   = "stale"
	ToolStatusDemoted = "demoted"
)

// ToolRegistryEntry describes one registered tool (spec §3).
type ToolRegistryEntry struct {
	ID          string
	Name        string
	ToolType    string
	Scope       string
	Source      string
	ProjectHash *string
	Description *string
	ServerName  *string
	UsageCount  int
	LastUsedAt  *time.Time
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Notification is a queued, consume-on-read message for a project (spec §3).
type Notification struct {
	ID        string
	ProjectID string
	Message   string
	CreatedAt time.Time
}

// StalenessFlag marks an observation whose content a newer one likely
// contradicts (spec §4.9 step 4, advisory only).
type StalenessFlag struct {
	ObservationID string
	ProjectHash   string
	NodeID        string
	Reason        string
	FlaggedBy     string
	CreatedAt     time.Time
}
