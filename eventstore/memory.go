package eventstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the log in process memory. Suitable for tests and
// for orchestrators whose history fits in RAM.
type MemoryStore struct {
	mu sync.RWMutex

	// events is ordered by sequence; events[i].Sequence == i+1.
	events     []*WorkflowEvent
	byID       map[string]*WorkflowEvent
	byWorkflow map[string][]*WorkflowEvent
	lastEvent  map[string]*WorkflowEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*WorkflowEvent),
		byWorkflow: make(map[string][]*WorkflowEvent),
		lastEvent:  make(map[string]*WorkflowEvent),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, event *WorkflowEvent) (uint64, error) {
	seqs, err := s.AppendBatch(ctx, []*WorkflowEvent{event})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch implements Store. All events are sealed and stored under
// one lock acquisition, so a batch is atomic with respect to readers.
func (s *MemoryStore) AppendBatch(ctx context.Context, events []*WorkflowEvent) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.ID == "" {
			return nil, fmt.Errorf("append: event has no id")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, dup := s.byID[e.ID]; dup {
			return nil, fmt.Errorf("append: duplicate event id %s", e.ID)
		}
	}

	seqs := make([]uint64, len(events))
	for i, e := range events {
		e.seal(s.lastEvent[e.WorkflowID])
		e.Sequence = uint64(len(s.events)) + 1

		s.events = append(s.events, e)
		s.byID[e.ID] = e
		s.byWorkflow[e.WorkflowID] = append(s.byWorkflow[e.WorkflowID], e)
		s.lastEvent[e.WorkflowID] = e
		seqs[i] = e.Sequence
	}
	return seqs, nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	return e, nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(ctx context.Context, seq uint64) (*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq == 0 || seq > uint64(len(s.events)) {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrEventNotFound)
	}
	return s.events[seq-1], nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, f Filter) (*QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*WorkflowEvent
	for _, e := range s.events {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}

	result := &QueryResult{Total: len(matched)}
	if f.Offset >= len(matched) {
		return result, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
		result.HasMore = true
	}
	result.Events = matched
	return result, nil
}

// Replay implements Store.
func (s *MemoryStore) Replay(ctx context.Context, opts ReplayOptions) ([]*WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := s.events
	if opts.WorkflowID != "" {
		source = s.byWorkflow[opts.WorkflowID]
	}

	var out []*WorkflowEvent
	for _, e := range source {
		if opts.FromSequence > 0 && e.Sequence < opts.FromSequence {
			continue
		}
		if opts.ToSequence > 0 && e.Sequence > opts.ToSequence {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// CountForWorkflow implements Store.
func (s *MemoryStore) CountForWorkflow(ctx context.Context, workflowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byWorkflow[workflowID]), nil
}

// VerifyChainIntegrity implements Store.
func (s *MemoryStore) VerifyChainIntegrity(ctx context.Context, workflowID string) (*ChainReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyChain(workflowID, s.byWorkflow[workflowID]), nil
}

// Close implements Store. A memory store holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}
