package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/caseflow-xyz/go-caseflow/causal"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
)

// SQLiteStore persists the log in a SQLite database. Payloads, cause
// lists, and vector clocks are stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes appends so chain sealing and sequence assignment
	// stay consistent with what is already on disk.
	mu        sync.Mutex
	lastEvent map[string]*WorkflowEvent
	lastSeq   uint64
}

// NewSQLiteStore opens (or creates) a store at the given path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver is not safe for concurrent writers on one
	// connection pool against in-memory databases.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, lastEvent: make(map[string]*WorkflowEvent)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.loadChainHeads(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return s, nil
}

// migrate creates the schema if it doesn't exist.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		sequence INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_kind TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		tick_number INTEGER NOT NULL,
		workflow_id TEXT NOT NULL,
		payload TEXT,
		caused_by TEXT,
		vector_clock TEXT,
		previous_hash TEXT NOT NULL,
		event_hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_workflow ON events(workflow_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(event_kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadChainHeads restores the last event of every workflow and the
// global sequence counter after reopening an existing database.
func (s *SQLiteStore) loadChainHeads() error {
	rows, err := s.db.Query(
		`SELECT ` + eventColumns + ` FROM events
		 WHERE sequence IN (SELECT MAX(sequence) FROM events GROUP BY workflow_id)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return err
		}
		s.lastEvent[e.WorkflowID] = e
		if e.Sequence > s.lastSeq {
			s.lastSeq = e.Sequence
		}
	}
	return rows.Err()
}

const eventColumns = `sequence, event_id, event_kind, timestamp, tick_number,
	workflow_id, payload, caused_by, vector_clock, previous_hash, event_hash`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*WorkflowEvent, error) {
	var e WorkflowEvent
	var ts int64
	var payload, causedBy, clock sql.NullString

	err := row.Scan(&e.Sequence, &e.ID, &e.Kind, &ts, &e.Tick,
		&e.WorkflowID, &payload, &causedBy, &clock, &e.PreviousHash, &e.EventHash)
	if err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(0, ts).UTC()

	if payload.Valid && payload.String != "" {
		var m wfdata.Map
		if err := json.Unmarshal([]byte(payload.String), &m); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", e.ID, err)
		}
		e.Payload = m
	}
	if causedBy.Valid && causedBy.String != "" {
		if err := json.Unmarshal([]byte(causedBy.String), &e.CausedBy); err != nil {
			return nil, fmt.Errorf("decode caused_by of %s: %w", e.ID, err)
		}
	}
	if clock.Valid && clock.String != "" {
		var vc map[string]uint64
		if err := json.Unmarshal([]byte(clock.String), &vc); err != nil {
			return nil, fmt.Errorf("decode vector_clock of %s: %w", e.ID, err)
		}
		e.VectorClock = causal.VectorClock(vc)
	}
	return &e, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, event *WorkflowEvent) (uint64, error) {
	seqs, err := s.AppendBatch(ctx, []*WorkflowEvent{event})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch implements Store. The batch is written inside one
// transaction, so readers observe all of it or none.
func (s *SQLiteStore) AppendBatch(ctx context.Context, events []*WorkflowEvent) ([]uint64, error) {
	for _, e := range events {
		if e.ID == "" {
			return nil, fmt.Errorf("append: event has no id")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	heads := make(map[string]*WorkflowEvent, len(events))
	seq := s.lastSeq
	seqs := make([]uint64, len(events))

	for i, e := range events {
		prev, ok := heads[e.WorkflowID]
		if !ok {
			prev = s.lastEvent[e.WorkflowID]
		}
		e.seal(prev)
		seq++
		e.Sequence = seq
		seqs[i] = seq
		heads[e.WorkflowID] = e

		payload, causedBy, clock, err := encodeColumns(e)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (sequence, event_id, event_kind, timestamp, tick_number,
			 workflow_id, payload, caused_by, vector_clock, previous_hash, event_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Sequence, e.ID, e.Kind, e.Timestamp.UnixNano(), e.Tick,
			e.WorkflowID, payload, causedBy, clock, e.PreviousHash, e.EventHash)
		if err != nil {
			return nil, fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	s.lastSeq = seq
	for wf, head := range heads {
		s.lastEvent[wf] = head
	}
	return seqs, nil
}

func encodeColumns(e *WorkflowEvent) (payload, causedBy, clock string, err error) {
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return "", "", "", fmt.Errorf("encode payload of %s: %w", e.ID, err)
		}
		payload = string(b)
	}
	if len(e.CausedBy) > 0 {
		b, err := json.Marshal(e.CausedBy)
		if err != nil {
			return "", "", "", fmt.Errorf("encode caused_by of %s: %w", e.ID, err)
		}
		causedBy = string(b)
	}
	if len(e.VectorClock) > 0 {
		b, err := json.Marshal(map[string]uint64(e.VectorClock))
		if err != nil {
			return "", "", "", fmt.Errorf("encode vector_clock of %s: %w", e.ID, err)
		}
		clock = string(b)
	}
	return payload, causedBy, clock, nil
}

// GetByID implements Store.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*WorkflowEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	return e, err
}

// GetBySequence implements Store.
func (s *SQLiteStore) GetBySequence(ctx context.Context, seq uint64) (*WorkflowEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE sequence = ?`, seq)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrEventNotFound)
	}
	return e, err
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) (*QueryResult, error) {
	var conds []string
	var args []any
	if f.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, f.WorkflowID)
	}
	if f.Kind != "" {
		conds = append(conds, "event_kind = ?")
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until.UnixNano())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	result := &QueryResult{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events`+where, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY sequence`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result.Events = append(result.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.HasMore = f.Offset+len(result.Events) < result.Total
	return result, nil
}

// Replay implements Store.
func (s *SQLiteStore) Replay(ctx context.Context, opts ReplayOptions) ([]*WorkflowEvent, error) {
	var conds []string
	var args []any
	if opts.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if opts.FromSequence > 0 {
		conds = append(conds, "sequence >= ?")
		args = append(args, opts.FromSequence)
	}
	if opts.ToSequence > 0 {
		conds = append(conds, "sequence <= ?")
		args = append(args, opts.ToSequence)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountForWorkflow implements Store.
func (s *SQLiteStore) CountForWorkflow(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE workflow_id = ?`, workflowID).Scan(&n)
	return n, err
}

// VerifyChainIntegrity implements Store.
func (s *SQLiteStore) VerifyChainIntegrity(ctx context.Context, workflowID string) (*ChainReport, error) {
	events, err := s.Replay(ctx, ReplayOptions{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}
	return verifyChain(workflowID, events), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
