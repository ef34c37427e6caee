package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/laminark/laminark/internal/ids"
)

// GraphRepo manages typed knowledge-graph nodes and edges for a project.
// Natural-key uniqueness (name+type for nodes, source+target+type for
// edges) and the closed type taxonomies are enforced by CHECK constraints
// and unique indexes in the schema (spec §3, §6); this repo enforces the
// degree cap, which needs a count query the schema can't express alone.
type GraphRepo struct {
	db          *sql.DB
	projectHash string
}

func NewGraphRepo(db *sql.DB, projectHash string) *GraphRepo {
	return &GraphRepo{db: db, projectHash: projectHash}
}

// UpsertNode creates a node, or merges into an existing one sharing the
// same natural key: the observation is appended to its provenance list and
// metadata keys are merged (new values win), rather than creating a
// duplicate entity.
func (g *GraphRepo) UpsertNode(ctx context.Context, nodeType, name string, metadata map[string]any, observationID string) (*GraphNode, error) {
	existing, err := g.getNodeByKey(ctx, nodeType, name)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	if existing == nil {
		n := &GraphNode{
			ID:             ids.New(),
			Type:           nodeType,
			Name:           name,
			Metadata:       metadata,
			ObservationIDs: []string{observationID},
			ProjectHash:    g.projectHash,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		metaJSON, err := json.Marshal(n.Metadata)
		if err != nil {
			return nil, fmt.Errorf("graph: upsert_node: marshal metadata: %w", err)
		}
		obsJSON, _ := json.Marshal(n.ObservationIDs)
		_, err = g.db.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, type, name, metadata, observation_ids, project_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Type, n.Name, metaJSON, obsJSON, n.ProjectHash, isoTime(now), isoTime(now))
		if err != nil {
			return nil, wrapDBError("graph: upsert_node: insert", err)
		}
		return n, nil
	}

	merged := existing.Metadata
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	obsIDs := appendUnique(existing.ObservationIDs, observationID)

	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("graph: upsert_node: marshal merged metadata: %w", err)
	}
	obsJSON, _ := json.Marshal(obsIDs)
	_, err = g.db.ExecContext(ctx, `
		UPDATE graph_nodes SET metadata = ?, observation_ids = ?, updated_at = ?
		WHERE id = ?`, metaJSON, obsJSON, isoTime(now), existing.ID)
	if err != nil {
		return nil, wrapDBError("graph: upsert_node: update", err)
	}
	existing.Metadata = merged
	existing.ObservationIDs = obsIDs
	existing.UpdatedAt = now
	return existing, nil
}

func (g *GraphRepo) getNodeByKey(ctx context.Context, nodeType, name string) (*GraphNode, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, type, name, metadata, observation_ids, project_hash, created_at, updated_at
		FROM graph_nodes WHERE name = ? AND type = ? AND project_hash = ?`, name, nodeType, g.projectHash)
	return scanNode(row)
}

// GetNode returns a node by ID.
func (g *GraphRepo) GetNode(ctx context.Context, id string) (*GraphNode, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, type, name, metadata, observation_ids, project_hash, created_at, updated_at
		FROM graph_nodes WHERE id = ? AND project_hash = ?`, id, g.projectHash)
	return scanNode(row)
}

// ListNodesByType returns every node of a type for the project, used by
// curation's entity-dedupe pass to find normalization-equivalent nodes
// that UpsertNode's exact-match natural key didn't catch.
func (g *GraphRepo) ListNodesByType(ctx context.Context, nodeType string) ([]*GraphNode, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, type, name, metadata, observation_ids, project_hash, created_at, updated_at
		FROM graph_nodes WHERE type = ? AND project_hash = ?`, nodeType, g.projectHash)
	if err != nil {
		return nil, wrapDBError("graph: list_nodes_by_type", err)
	}
	defer rows.Close()

	var out []*GraphNode
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ReplaceObservationProvenance rewrites every node's observation_ids list
// across all node types for the project, replacing any id in oldIDs with
// newID (deduplicated). Used by curation's observation-merge step to
// repoint entity provenance at a newly consolidated observation once its
// cluster members are soft-deleted (spec §4.9 step 1).
func (g *GraphRepo) ReplaceObservationProvenance(ctx context.Context, oldIDs []string, newID string) error {
	if len(oldIDs) == 0 {
		return nil
	}
	old := make(map[string]bool, len(oldIDs))
	for _, id := range oldIDs {
		old[id] = true
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT id, type, name, metadata, observation_ids, project_hash, created_at, updated_at
		FROM graph_nodes WHERE project_hash = ?`, g.projectHash)
	if err != nil {
		return wrapDBError("graph: replace_observation_provenance: list", err)
	}
	var touched []*GraphNode
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			rows.Close()
			return err
		}
		for _, id := range n.ObservationIDs {
			if old[id] {
				touched = append(touched, n)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := isoTime(time.Now().UTC())
	for _, n := range touched {
		replaced := make([]string, 0, len(n.ObservationIDs))
		seen := make(map[string]bool, len(n.ObservationIDs))
		for _, id := range n.ObservationIDs {
			v := id
			if old[v] {
				v = newID
			}
			if !seen[v] {
				seen[v] = true
				replaced = append(replaced, v)
			}
		}
		obsJSON, err := json.Marshal(replaced)
		if err != nil {
			return fmt.Errorf("graph: replace_observation_provenance: marshal: %w", err)
		}
		if _, err := g.db.ExecContext(ctx,
			`UPDATE graph_nodes SET observation_ids = ?, updated_at = ? WHERE id = ?`,
			obsJSON, now, n.ID); err != nil {
			return wrapDBError("graph: replace_observation_provenance: update", err)
		}
	}
	return nil
}

// MergeNodes re-points every edge touching loser onto winner, merges
// loser's observation provenance into winner, and deletes loser. Used when
// curation decides two nodes are the same entity under normalization.
func (g *GraphRepo) MergeNodes(ctx context.Context, winnerID, loserID string) error {
	if winnerID == loserID {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("graph: merge_nodes: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE OR IGNORE graph_edges SET source_id = ? WHERE source_id = ?`, winnerID, loserID); err != nil {
		return wrapDBError("graph: merge_nodes: repoint source", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE OR IGNORE graph_edges SET target_id = ? WHERE target_id = ?`, winnerID, loserID); err != nil {
		return wrapDBError("graph: merge_nodes: repoint target", err)
	}
	// Any edge UPDATE OR IGNORE skipped above is now a duplicate natural
	// key (the winner already had that edge); delete loser's leftovers.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM graph_edges WHERE source_id = ? OR target_id = ?`, loserID, loserID); err != nil {
		return wrapDBError("graph: merge_nodes: clear remaining", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE id = ?`, loserID); err != nil {
		return wrapDBError("graph: merge_nodes: delete loser", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("graph: merge_nodes: commit", err)
	}
	return nil
}

// Degree returns how many edges touch a node, either direction.
func (g *GraphRepo) Degree(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := g.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM graph_edges WHERE source_id = ? OR target_id = ?`, nodeID, nodeID).Scan(&n)
	if err != nil {
		return 0, wrapDBError("graph: degree", err)
	}
	return n, nil
}

// AddEdge creates a typed relationship between two nodes. Duplicate
// (source,target,type) edges are merged by keeping the higher weight
// rather than rejected, since the relationship detector may re-derive the
// same edge with different confidence across observations. Degree is not
// enforced at insert time by rejection: per spec §4.7, an overflowing
// insert succeeds and the lowest-weight edges on the affected node(s) are
// pruned back down to MaxNodeDegree afterward — callers should follow up
// with EnforceDegree on both endpoints.
func (g *GraphRepo) AddEdge(ctx context.Context, sourceID, targetID, edgeType string, weight float64, metadata map[string]any) (*GraphEdge, error) {
	existing, err := g.getEdgeByKey(ctx, sourceID, targetID, edgeType)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	metaJSON, merr := json.Marshal(metadata)
	if merr != nil {
		return nil, fmt.Errorf("graph: add_edge: marshal metadata: %w", merr)
	}

	if existing != nil {
		if weight > existing.Weight {
			_, err := g.db.ExecContext(ctx, `UPDATE graph_edges SET weight = ?, metadata = ? WHERE id = ?`,
				weight, metaJSON, existing.ID)
			if err != nil {
				return nil, wrapDBError("graph: add_edge: update", err)
			}
			existing.Weight = weight
			existing.Metadata = metadata
		}
		return existing, nil
	}

	e := &GraphEdge{
		ID:          ids.New(),
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        edgeType,
		Weight:      weight,
		Metadata:    metadata,
		ProjectHash: g.projectHash,
		CreatedAt:   now,
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO graph_edges (id, source_id, target_id, type, weight, metadata, project_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceID, e.TargetID, e.Type, e.Weight, metaJSON, e.ProjectHash, isoTime(now))
	if err != nil {
		return nil, wrapDBError("graph: add_edge: insert", err)
	}
	return e, nil
}

// EnforceDegree prunes the lowest-weight edges touching nodeID until its
// degree is at or below cap, returning how many edges were removed (spec
// §4.7: "delete lowest-weight edges until ≤50, logging the prune count").
func (g *GraphRepo) EnforceDegree(ctx context.Context, nodeID string, maxDegree int) (int, error) {
	edges, err := g.ListEdges(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	overflow := len(edges) - maxDegree
	if overflow <= 0 {
		return 0, nil
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].Weight < edges[j].Weight })
	pruned := 0
	for i := 0; i < overflow; i++ {
		if _, err := g.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE id = ?`, edges[i].ID); err != nil {
			return pruned, wrapDBError("graph: enforce_degree: delete", err)
		}
		pruned++
	}
	return pruned, nil
}

func (g *GraphRepo) getEdgeByKey(ctx context.Context, sourceID, targetID, edgeType string) (*GraphEdge, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, type, weight, metadata, project_hash, created_at
		FROM graph_edges WHERE source_id = ? AND target_id = ? AND type = ?`, sourceID, targetID, edgeType)
	return scanEdge(row)
}

// ListEdges returns every edge touching a node, either direction.
func (g *GraphRepo) ListEdges(ctx context.Context, nodeID string) ([]*GraphEdge, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, weight, metadata, project_hash, created_at
		FROM graph_edges WHERE source_id = ? OR target_id = ?`, nodeID, nodeID)
	if err != nil {
		return nil, wrapDBError("graph: list_edges", err)
	}
	defer rows.Close()

	var out []*GraphEdge
	for rows.Next() {
		e, err := scanEdgeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Traverse walks outgoing edges breadth-first up to depth hops using a
// recursive CTE, returning the distinct visited node IDs excluding the
// start node (grounded in the teacher's recursive blocked-issue query,
// spec §4.9's traversal requirement). depth is clamped to [1,4].
func (g *GraphRepo) Traverse(ctx context.Context, startID string, depth int) ([]*GraphNode, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 4 {
		depth = 4
	}

	rows, err := g.db.QueryContext(ctx, `
		WITH RECURSIVE reachable(id, hops) AS (
			SELECT target_id, 1 FROM graph_edges WHERE source_id = ?
			UNION
			SELECT e.target_id, r.hops + 1
			FROM graph_edges e
			JOIN reachable r ON e.source_id = r.id
			WHERE r.hops < ?
		)
		SELECT n.id, n.type, n.name, n.metadata, n.observation_ids, n.project_hash, n.created_at, n.updated_at
		FROM graph_nodes n
		WHERE n.id IN (SELECT DISTINCT id FROM reachable) AND n.project_hash = ?`,
		startID, depth, g.projectHash)
	if err != nil {
		return nil, wrapDBError("graph: traverse", err)
	}
	defer rows.Close()

	var out []*GraphNode
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func scanNode(row *sql.Row) (*GraphNode, error) {
	var n GraphNode
	var metaJSON, obsJSON []byte
	var createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.Type, &n.Name, &metaJSON, &obsJSON, &n.ProjectHash, &createdAt, &updatedAt); err != nil {
		return nil, wrapDBError("graph: scan_node", err)
	}
	return finishNodeScan(&n, metaJSON, obsJSON, createdAt, updatedAt)
}

func scanNodeRow(rows *sql.Rows) (*GraphNode, error) {
	var n GraphNode
	var metaJSON, obsJSON []byte
	var createdAt, updatedAt string
	if err := rows.Scan(&n.ID, &n.Type, &n.Name, &metaJSON, &obsJSON, &n.ProjectHash, &createdAt, &updatedAt); err != nil {
		return nil, wrapDBError("graph: scan_node", err)
	}
	return finishNodeScan(&n, metaJSON, obsJSON, createdAt, updatedAt)
}

func finishNodeScan(n *GraphNode, metaJSON, obsJSON []byte, createdAt, updatedAt string) (*GraphNode, error) {
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("graph: unmarshal metadata: %w", err)
		}
	}
	if len(obsJSON) > 0 {
		if err := json.Unmarshal(obsJSON, &n.ObservationIDs); err != nil {
			return nil, fmt.Errorf("graph: unmarshal observation_ids: %w", err)
		}
	}
	n.CreatedAt = parseISOTime(createdAt)
	n.UpdatedAt = parseISOTime(updatedAt)
	return n, nil
}

func scanEdge(row *sql.Row) (*GraphEdge, error) {
	var e GraphEdge
	var metaJSON []byte
	var createdAt string
	if err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &e.Weight, &metaJSON, &e.ProjectHash, &createdAt); err != nil {
		return nil, wrapDBError("graph: scan_edge", err)
	}
	return finishEdgeScan(&e, metaJSON, createdAt)
}

func scanEdgeRow(rows *sql.Rows) (*GraphEdge, error) {
	var e GraphEdge
	var metaJSON []byte
	var createdAt string
	if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &e.Weight, &metaJSON, &e.ProjectHash, &createdAt); err != nil {
		return nil, wrapDBError("graph: scan_edge", err)
	}
	return finishEdgeScan(&e, metaJSON, createdAt)
}

func finishEdgeScan(e *GraphEdge, metaJSON []byte, createdAt string) (*GraphEdge, error) {
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("graph: unmarshal edge metadata: %w", err)
		}
	}
	e.CreatedAt = parseISOTime(createdAt)
	return e, nil
}
