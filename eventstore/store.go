package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common store errors.
var (
	// ErrEventNotFound is returned for lookups of unknown event ids or
	// sequence numbers; "does this event exist" is a valid query
	// outcome, not an exceptional one.
	ErrEventNotFound = errors.New("event not found")
)

// ChainIntegrityError reports a broken hash chain. It is a diagnostic,
// never auto-repaired: the offending event id is surfaced so operators
// can investigate.
type ChainIntegrityError struct {
	WorkflowID     string
	OffendingEvent string
	Sequence       uint64
	Reason         string
}

// Error implements the error interface.
func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity broken in workflow %s at event %s (seq %d): %s",
		e.WorkflowID, e.OffendingEvent, e.Sequence, e.Reason)
}

// Filter narrows a range query. Zero values match everything.
type Filter struct {
	Since      time.Time
	Until      time.Time
	WorkflowID string
	Kind       string
	Offset     int
	Limit      int
}

// QueryResult is one page of filtered events.
type QueryResult struct {
	Events  []*WorkflowEvent
	Total   int
	HasMore bool
}

// ReplayOptions selects a sequence-ordered slice of the log.
// FromSequence/ToSequence are inclusive; zero ToSequence means "to the
// end". Empty WorkflowID replays across all workflows.
type ReplayOptions struct {
	WorkflowID   string
	FromSequence uint64
	ToSequence   uint64
}

// ChainReport is the outcome of a chain-integrity walk.
type ChainReport struct {
	WorkflowID     string `json:"workflow_id"`
	Valid          bool   `json:"valid"`
	EventsChecked  int    `json:"events_checked"`
	OffendingEvent string `json:"offending_event,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Store is the append-only event log. Appends assign monotonically
// increasing sequence numbers and seal each event into its workflow's
// hash chain; batch appends are atomic. Lookups by id or sequence are
// O(1) for the in-memory backend and indexed for durable ones.
type Store interface {
	// Append seals and stores one event, returning its sequence.
	Append(ctx context.Context, event *WorkflowEvent) (uint64, error)

	// AppendBatch seals and stores events atomically under a single
	// critical section, returning their sequences in order.
	AppendBatch(ctx context.Context, events []*WorkflowEvent) ([]uint64, error)

	// GetByID retrieves an event by id.
	GetByID(ctx context.Context, id string) (*WorkflowEvent, error)

	// GetBySequence retrieves an event by its global sequence number.
	GetBySequence(ctx context.Context, seq uint64) (*WorkflowEvent, error)

	// Query returns a filtered, paginated page of events in sequence
	// order.
	Query(ctx context.Context, f Filter) (*QueryResult, error)

	// Replay returns events in ascending sequence order, optionally
	// restricted to one workflow and a sequence range. This is the
	// primitive all downstream projections use.
	Replay(ctx context.Context, opts ReplayOptions) ([]*WorkflowEvent, error)

	// CountForWorkflow returns how many events a workflow holds.
	CountForWorkflow(ctx context.Context, workflowID string) (int, error)

	// VerifyChainIntegrity walks one workflow's chain in sequence
	// order, confirming each recorded previous-hash matches the prior
	// event's own hash and each event hash matches its content.
	VerifyChainIntegrity(ctx context.Context, workflowID string) (*ChainReport, error)

	// Close releases backend resources.
	Close() error
}

// verifyChain applies the integrity rules to an already-ordered slice
// of one workflow's events. Shared by all backends.
func verifyChain(workflowID string, events []*WorkflowEvent) *ChainReport {
	report := &ChainReport{WorkflowID: workflowID, Valid: true}

	var prev *WorkflowEvent
	for _, e := range events {
		report.EventsChecked++

		want := ""
		if prev != nil {
			want = prev.EventHash
		}
		if e.PreviousHash != want {
			report.Valid = false
			report.OffendingEvent = e.ID
			report.Reason = fmt.Sprintf("previous_hash mismatch: recorded %q, chain expects %q", e.PreviousHash, want)
			return report
		}
		if recomputed := e.ComputeHash(); recomputed != e.EventHash {
			report.Valid = false
			report.OffendingEvent = e.ID
			report.Reason = "event content does not match its recorded hash"
			return report
		}
		prev = e
	}
	return report
}

// matches applies a filter to a single event, ignoring pagination.
func (f Filter) matches(e *WorkflowEvent) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
