package temporal

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caseflow-xyz/go-caseflow/causal"
	"github.com/caseflow-xyz/go-caseflow/engine"
	"github.com/caseflow-xyz/go-caseflow/eventstore"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
)

// DefaultProjectionCacheSize bounds the time-travel cache unless
// overridden.
const DefaultProjectionCacheSize = 256

// Orchestrator bridges engine execution and the event store: engine
// notifications emitted during a tick are captured as hash-chained
// events, stamped with the orchestrator's vector clock, and recorded in
// the causal tracker. It answers time-travel and causal-chain queries
// over the captured history.
type Orchestrator struct {
	eng     *engine.Engine
	store   eventstore.Store
	tracker *causal.Tracker
	cache   *ProjectionCache
	log     zerolog.Logger

	processID string

	mu         sync.Mutex
	clock      causal.VectorClock
	pending    []engine.Event
	lastByCase map[string]string

	// appendMu serializes drain-and-append so concurrent flushes cannot
	// store an effect ahead of its cause.
	appendMu sync.Mutex
}

// NewOrchestrator wires an orchestrator to an engine and a store and
// registers itself as an engine event listener.
func NewOrchestrator(eng *engine.Engine, store eventstore.Store) *Orchestrator {
	o := &Orchestrator{
		eng:        eng,
		store:      store,
		tracker:    causal.NewTracker(),
		cache:      NewProjectionCache(DefaultProjectionCacheSize),
		log:        zerolog.Nop(),
		processID:  "orchestrator",
		clock:      causal.VectorClock{},
		lastByCase: make(map[string]string),
	}
	eng.AddEventListener(o.buffer)
	return o
}

// WithProcessID sets the logical process id used for vector clock
// ticks.
func (o *Orchestrator) WithProcessID(id string) *Orchestrator {
	o.processID = id
	return o
}

// WithLogger sets the structured logger.
func (o *Orchestrator) WithLogger(log zerolog.Logger) *Orchestrator {
	o.log = log
	return o
}

// WithProjectionCacheSize replaces the time-travel cache with one of
// the given capacity.
func (o *Orchestrator) WithProjectionCacheSize(maxSize int) *Orchestrator {
	o.cache = NewProjectionCache(maxSize)
	return o
}

// Tracker returns the causal tracker populated by captured events.
func (o *Orchestrator) Tracker() *causal.Tracker {
	return o.tracker
}

// CacheStats reports projection cache counters.
func (o *Orchestrator) CacheStats() CacheStats {
	return o.cache.Stats()
}

// buffer queues engine notifications; the engine forbids listeners from
// mutating its state, so capture is deferred to the next flush.
func (o *Orchestrator) buffer(ev engine.Event) {
	o.mu.Lock()
	o.pending = append(o.pending, ev)
	o.mu.Unlock()
}

// TickResult summarizes one captured execution tick.
type TickResult struct {
	CaseID         string        `json:"case_id"`
	EventsCaptured int           `json:"events_captured"`
	LastEventID    string        `json:"last_event_id,omitempty"`
	CausalDepth    int           `json:"causal_depth"`
	StateChanged   bool          `json:"state_changed"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Tick runs one mutation against the engine and captures the events it
// emitted. Events are chained to the case's previously captured event,
// so intra-case capture order is causal order. When the tick changed
// case state, cached projections for the case are invalidated.
func (o *Orchestrator) Tick(ctx context.Context, caseID string, mutate func() error) (*TickResult, error) {
	start := time.Now()

	before, err := o.store.CountForWorkflow(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", caseID, err)
	}

	mutErr := mutate()

	// Events emitted before a failure are real history; capture them
	// regardless of the mutation outcome.
	lastID, flushErr := o.flush(ctx)
	if flushErr != nil {
		return nil, fmt.Errorf("tick %s: %w", caseID, flushErr)
	}

	after, err := o.store.CountForWorkflow(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", caseID, err)
	}

	result := &TickResult{
		CaseID:         caseID,
		EventsCaptured: after - before,
		StateChanged:   after > before,
		Elapsed:        time.Since(start),
	}
	if result.StateChanged {
		o.cache.InvalidateWorkflow(caseID)
		o.mu.Lock()
		result.LastEventID = o.lastByCase[caseID]
		o.mu.Unlock()
		if result.LastEventID == "" {
			result.LastEventID = lastID
		}
		if ex, err := o.tracker.Explain(result.LastEventID); err == nil {
			result.CausalDepth = ex.ChainDepth
		}
	}

	o.log.Debug().
		Str("case", caseID).
		Int("captured", result.EventsCaptured).
		Int("depth", result.CausalDepth).
		Msg("tick captured")

	return result, mutErr
}

// flush drains the pending engine notifications into the store.
// Returns the id of the last captured event. The append lock is held
// from drain through append: chaining assigns each event's causes from
// lastByCase, so the batch must reach the store before another flush
// drains events chained onto it.
func (o *Orchestrator) flush(ctx context.Context) (string, error) {
	o.appendMu.Lock()
	defer o.appendMu.Unlock()

	o.mu.Lock()
	batch := o.pending
	o.pending = nil

	events := make([]*eventstore.WorkflowEvent, 0, len(batch))
	for _, ev := range batch {
		payload := wfdata.Map{}
		if ev.Payload != nil {
			payload = ev.Payload.Copy()
		}
		if ev.SpecID != "" {
			payload["spec_id"] = wfdata.String(ev.SpecID)
		}
		if ev.TaskID != "" {
			payload["task_id"] = wfdata.String(ev.TaskID)
		}
		if ev.WorkItemID != "" {
			payload["work_item_id"] = wfdata.String(ev.WorkItemID)
		}

		stored := eventstore.NewEvent(ev.CaseID, ev.Kind, ev.Tick, payload)
		if prev := o.lastByCase[ev.CaseID]; prev != "" {
			stored.WithCauses(prev)
			o.tracker.TrackCausation(stored.ID, prev)
		} else {
			o.tracker.TrackCausation(stored.ID)
		}
		o.clock.Tick(o.processID)
		stored.WithClock(o.clock)

		o.lastByCase[ev.CaseID] = stored.ID
		events = append(events, stored)
	}
	o.mu.Unlock()

	if len(events) == 0 {
		return "", nil
	}
	if _, err := o.store.AppendBatch(ctx, events); err != nil {
		return "", fmt.Errorf("capture events: %w", err)
	}
	return events[len(events)-1].ID, nil
}

// storeClocks adapts the event store to vector clock lookups.
type storeClocks struct {
	ctx   context.Context
	store eventstore.Store
}

func (s storeClocks) ClockOf(eventID string) (causal.VectorClock, bool) {
	e, err := s.store.GetByID(s.ctx, eventID)
	if err != nil || len(e.VectorClock) == 0 {
		return nil, false
	}
	return e.VectorClock, true
}

// CausallyRelated reports whether one captured event happens before the
// other, in either direction, judged by their recorded vector clocks.
func (o *Orchestrator) CausallyRelated(ctx context.Context, eventA, eventB string) (bool, error) {
	return causal.CausallyRelated(storeClocks{ctx: ctx, store: o.store}, eventA, eventB)
}

// Concurrent reports whether two captured events are causally
// independent.
func (o *Orchestrator) Concurrent(ctx context.Context, eventA, eventB string) (bool, error) {
	return causal.CheckConcurrent(storeClocks{ctx: ctx, store: o.store}, eventA, eventB)
}

// QueryAtTime reconstructs a case's state as of the given timestamp by
// folding captured payloads in sequence order. Results are served from
// the projection cache when available; the second return reports a
// cache hit.
func (o *Orchestrator) QueryAtTime(ctx context.Context, caseID string, asOf time.Time) (*Projection, bool, error) {
	if p := o.cache.Get(caseID, asOf); p != nil {
		return p, true, nil
	}

	events, err := o.store.Replay(ctx, eventstore.ReplayOptions{WorkflowID: caseID})
	if err != nil {
		return nil, false, fmt.Errorf("query at time: %w", err)
	}

	p := &Projection{
		WorkflowID: caseID,
		AsOf:       asOf,
		State:      wfdata.Map{},
	}
	for _, e := range events {
		if e.Timestamp.After(asOf) {
			break
		}
		p.State.Merge(e.Payload)
		p.NearestEventTime = e.Timestamp
		p.Tick = e.Tick
		p.EventsReplayed++
	}
	p.StateHash = fmt.Sprintf("%x", sha256.Sum256([]byte(p.State.Canonical())))

	o.cache.Put(p)
	return p, false, nil
}

// CausalChain is the oldest-first ancestry of one event.
type CausalChain struct {
	EventID string `json:"event_id"`
	// Ancestry lists the transitive causes in capture order, ending
	// with the event itself.
	Ancestry []string `json:"ancestry"`
	Root     string   `json:"root"`
}

// GetCausalChain returns the event's transitive causes ordered oldest
// first, plus the chain's root event.
func (o *Orchestrator) GetCausalChain(ctx context.Context, eventID string) (*CausalChain, error) {
	ancestors, err := o.tracker.TransitiveCauses(eventID)
	if err != nil {
		return nil, err
	}

	// Capture order is global sequence order; unknown ids sort first.
	seqs := make(map[string]uint64, len(ancestors))
	for _, id := range ancestors {
		if e, err := o.store.GetByID(ctx, id); err == nil {
			seqs[id] = e.Sequence
		}
	}
	sort.Slice(ancestors, func(i, j int) bool {
		return seqs[ancestors[i]] < seqs[ancestors[j]]
	})

	chain := &CausalChain{
		EventID:  eventID,
		Ancestry: append(ancestors, eventID),
		Root:     eventID,
	}
	if roots, err := o.tracker.RootCauses(eventID); err == nil && len(roots) > 0 {
		chain.Root = roots[0]
	}
	return chain, nil
}

// EventExplanation enriches a causal explanation with the domain rule
// identifiers found on the event and its ancestors.
type EventExplanation struct {
	*causal.Explanation
	Rules []string `json:"rules,omitempty"`
}

// ExplainEvent combines the tracker's causal explanation with any
// "rule" payload values along the ancestry.
func (o *Orchestrator) ExplainEvent(ctx context.Context, eventID string) (*EventExplanation, error) {
	ex, err := o.tracker.Explain(eventID)
	if err != nil {
		return nil, err
	}

	out := &EventExplanation{Explanation: ex}
	seen := make(map[string]bool)
	ids := append([]string{eventID}, ex.Direct...)
	ids = append(ids, ex.Indirect...)
	for _, id := range ids {
		e, err := o.store.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if rule := e.Payload.GetString("rule"); rule != "" && !seen[rule] {
			seen[rule] = true
			out.Rules = append(out.Rules, rule)
		}
	}
	sort.Strings(out.Rules)
	return out, nil
}
