package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowos.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Graphs ---

// SaveGraph inserts or replaces a saved graph. An empty ID is assigned a UUID.
// Re-saving keeps the original created_at. When the stored structure changes,
// the graph's position overrides are dropped and g.PositionsReset is set.
func (s *LibSQLStore) SaveGraph(ctx context.Context, g *SavedGraph) error {
	if g.Graph == nil {
		return schema.NewError(schema.ErrCodeValidation, "saved graph has no graph structure")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if strings.TrimSpace(g.Name) == "" {
		g.Name = g.ID
	}
	graphJSON, err := json.Marshal(g.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	var optsJSON any
	if g.Options != nil {
		b, err := json.Marshal(g.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		optsJSON = string(b)
	}

	g.CreatedAt = timeOrNow(g.CreatedAt)
	g.UpdatedAt = time.Now().UTC()
	g.PositionsReset = false

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT graph FROM graphs WHERE id = ?`, g.ID).Scan(&prev)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("read graph %s: %w", g.ID, err)
	case prev != string(graphJSON):
		// Overrides belong to the previous structure; node ids may be reused.
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_positions WHERE graph_id = ?`, g.ID); err != nil {
			return fmt.Errorf("clear positions of %s: %w", g.ID, err)
		}
		g.PositionsReset = true
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graphs (id, name, source_text, options, graph, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, source_text=excluded.source_text,
		   options=excluded.options, graph=excluded.graph, updated_at=excluded.updated_at`,
		g.ID, g.Name, nullStr(g.SourceText), optsJSON, string(graphJSON), g.CreatedAt, g.UpdatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetGraph loads a saved graph with its node position overrides applied.
func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*SavedGraph, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, source_text, options, graph, created_at, updated_at FROM graphs WHERE id = ?`, id)
	g, err := scanGraph(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, err
	}

	positions, err := s.ListNodePositions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if n := g.Graph.Node(p.NodeID); n != nil {
			n.Position = p.Position
		}
	}
	return g, nil
}

// ListGraphs returns saved graphs, most recently updated first.
// Position overrides are not applied.
func (s *LibSQLStore) ListGraphs(ctx context.Context, filter GraphFilter) ([]*SavedGraph, error) {
	var where []string
	var args []any

	if filter.NameContains != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.NameContains+"%")
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, *filter.UpdatedBefore)
	}

	query := "SELECT id, name, source_text, options, graph, created_at, updated_at FROM graphs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SavedGraph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// DeleteGraph removes a saved graph. Positions and history cascade.
func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

// PurgeGraphsBefore deletes graphs not updated since cutoff and returns their
// ids. Positions and history cascade.
func (s *LibSQLStore) PurgeGraphsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT id FROM graphs WHERE updated_at < ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("purge graph %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraph(row rowScanner) (*SavedGraph, error) {
	g := &SavedGraph{}
	var (
		source, opts sql.NullString
		graphJSON    string
	)
	if err := row.Scan(&g.ID, &g.Name, &source, &opts, &graphJSON, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.SourceText = source.String
	if err := json.Unmarshal([]byte(graphJSON), &g.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph %s: %w", g.ID, err)
	}
	if raw := rawOrNil(opts); raw != nil {
		var o layout.Options
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("unmarshal options %s: %w", g.ID, err)
		}
		g.Options = &o
	}
	return g, nil
}

// --- Node positions ---

// SetNodePosition stores a position override for a node of a saved graph.
// Fails with NOT_FOUND if the graph or the node does not exist.
func (s *LibSQLStore) SetNodePosition(ctx context.Context, graphID, nodeID string, pos schema.Position) error {
	var graphJSON string
	err := s.db.QueryRowContext(ctx, `SELECT graph FROM graphs WHERE id = ?`, graphID).Scan(&graphJSON)
	if err == sql.ErrNoRows {
		return storeNotFound("graph", graphID)
	}
	if err != nil {
		return err
	}
	var g schema.GraphStructure
	if err := json.Unmarshal([]byte(graphJSON), &g); err != nil {
		return fmt.Errorf("unmarshal graph %s: %w", graphID, err)
	}
	if g.Node(nodeID) == nil {
		return storeNotFound("node", graphID+"/"+nodeID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_positions (graph_id, node_id, x, y, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(graph_id, node_id) DO UPDATE SET x=excluded.x, y=excluded.y, updated_at=excluded.updated_at`,
		graphID, nodeID, pos.X, pos.Y, time.Now().UTC(),
	)
	return err
}

// ListNodePositions returns the position overrides of a graph ordered by node id.
func (s *LibSQLStore) ListNodePositions(ctx context.Context, graphID string) ([]*NodePosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT graph_id, node_id, x, y, updated_at FROM node_positions WHERE graph_id = ? ORDER BY node_id ASC`,
		graphID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*NodePosition
	for rows.Next() {
		p := &NodePosition{}
		if err := rows.Scan(&p.GraphID, &p.NodeID, &p.Position.X, &p.Position.Y, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- Events ---

// AppendEvent inserts an event with the next per-graph sequence.
// Prefer EventLog.AppendEvent when writers may race.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM graph_events WHERE graph_id = ?`, event.GraphID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_events (graph_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.GraphID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetEvents returns events for a graph with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, graphID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_id, node_id, event_type, payload, timestamp, sequence
		 FROM graph_events WHERE graph_id = ? AND sequence > ? ORDER BY sequence ASC`,
		graphID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType returns events of a specific type matching the filter.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT id, graph_id, node_id, event_type, payload, timestamp, sequence FROM graph_events WHERE " +
		strings.Join(where, " AND ") + " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.GraphID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
