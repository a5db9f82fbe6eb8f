package causal

import (
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEvent is returned for queries about events the tracker has
// never seen.
var ErrUnknownEvent = fmt.Errorf("unknown event")

// DefaultMaxDepth bounds transitive traversals so a pathological or
// corrupted graph cannot spin a query forever.
const DefaultMaxDepth = 1000

// ClockSource resolves an event id to its recorded vector clock. The
// event store satisfies this through a small adapter so the tracker
// stays independent of any particular storage backend.
type ClockSource interface {
	ClockOf(eventID string) (VectorClock, bool)
}

// Tracker records which events directly caused which other events and
// answers ancestry queries over the resulting DAG.
type Tracker struct {
	mu sync.RWMutex

	// causes maps effect id to its direct-cause ids in recorded order.
	causes map[string][]string
	// effects is the inverse index, cause id to effect ids.
	effects map[string][]string
	// known holds every event id ever mentioned, cause or effect.
	known map[string]bool

	maxDepth int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		causes:   make(map[string][]string),
		effects:  make(map[string][]string),
		known:    make(map[string]bool),
		maxDepth: DefaultMaxDepth,
	}
}

// WithMaxDepth bounds transitive traversals and returns the tracker for
// chaining.
func (t *Tracker) WithMaxDepth(depth int) *Tracker {
	t.maxDepth = depth
	return t
}

// TrackCausation records that each of causes directly caused effect.
// Recording an event with no causes still registers it, so root events
// are queryable.
func (t *Tracker) TrackCausation(effect string, causes ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.known[effect] = true
	for _, cause := range causes {
		t.known[cause] = true
		t.causes[effect] = append(t.causes[effect], cause)
		t.effects[cause] = append(t.effects[cause], effect)
	}
}

// Knows reports whether the tracker has seen the event id.
func (t *Tracker) Knows(eventID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.known[eventID]
}

// DirectCauses returns the immediate causes of an event, in the order
// they were recorded.
func (t *Tracker) DirectCauses(eventID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known[eventID] {
		return nil, fmt.Errorf("direct causes of %s: %w", eventID, ErrUnknownEvent)
	}
	return append([]string(nil), t.causes[eventID]...), nil
}

// DirectEffects returns the events the given event directly caused.
func (t *Tracker) DirectEffects(eventID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known[eventID] {
		return nil, fmt.Errorf("direct effects of %s: %w", eventID, ErrUnknownEvent)
	}
	return append([]string(nil), t.effects[eventID]...), nil
}

// TransitiveCauses returns every ancestor of an event, breadth-first
// from nearest to farthest, deduplicated. The traversal stops at the
// configured depth bound.
func (t *Tracker) TransitiveCauses(eventID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known[eventID] {
		return nil, fmt.Errorf("transitive causes of %s: %w", eventID, ErrUnknownEvent)
	}
	return t.walk(eventID, t.causes), nil
}

// TransitiveEffects returns every descendant of an event, breadth-first.
func (t *Tracker) TransitiveEffects(eventID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known[eventID] {
		return nil, fmt.Errorf("transitive effects of %s: %w", eventID, ErrUnknownEvent)
	}
	return t.walk(eventID, t.effects), nil
}

// walk traverses one direction of the DAG breadth-first. Callers hold
// the read lock.
func (t *Tracker) walk(start string, edges map[string][]string) []string {
	visited := map[string]bool{start: true}
	var out []string
	frontier := []string{start}

	for depth := 0; len(frontier) > 0 && depth < t.maxDepth; depth++ {
		var next []string
		for _, id := range frontier {
			for _, adj := range edges[id] {
				if visited[adj] {
					continue
				}
				visited[adj] = true
				out = append(out, adj)
				next = append(next, adj)
			}
		}
		frontier = next
	}
	return out
}

// RootCauses returns the ancestors of an event that themselves have no
// recorded causes, sorted for determinism. An event with no causes is
// its own root.
func (t *Tracker) RootCauses(eventID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known[eventID] {
		return nil, fmt.Errorf("root causes of %s: %w", eventID, ErrUnknownEvent)
	}

	ancestors := t.walk(eventID, t.causes)
	if len(ancestors) == 0 {
		return []string{eventID}, nil
	}

	var roots []string
	for _, id := range ancestors {
		if len(t.causes[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots, nil
}

// CausalGraph is the induced subgraph over a chosen set of events.
type CausalGraph struct {
	// Nodes lists the requested event ids that the tracker knows.
	Nodes []string
	// Edges maps cause id to effect ids, restricted to Nodes.
	Edges map[string][]string
}

// BuildCausalGraph extracts the cause-effect subgraph over the given
// event ids. Edges to events outside the set are dropped.
func (t *Tracker) BuildCausalGraph(eventIDs []string) *CausalGraph {
	t.mu.RLock()
	defer t.mu.RUnlock()

	inSet := make(map[string]bool, len(eventIDs))
	graph := &CausalGraph{Edges: make(map[string][]string)}
	for _, id := range eventIDs {
		if t.known[id] && !inSet[id] {
			inSet[id] = true
			graph.Nodes = append(graph.Nodes, id)
		}
	}

	for _, id := range graph.Nodes {
		for _, effect := range t.effects[id] {
			if inSet[effect] {
				graph.Edges[id] = append(graph.Edges[id], effect)
			}
		}
	}
	return graph
}

// CausallyRelated reports whether one event happens-before the other in
// either direction, according to their recorded vector clocks.
func CausallyRelated(source ClockSource, a, b string) (bool, error) {
	ca, ok := source.ClockOf(a)
	if !ok {
		return false, fmt.Errorf("clock of %s: %w", a, ErrUnknownEvent)
	}
	cb, ok := source.ClockOf(b)
	if !ok {
		return false, fmt.Errorf("clock of %s: %w", b, ErrUnknownEvent)
	}
	return ca.HappensBefore(cb) || cb.HappensBefore(ca), nil
}

// CheckConcurrent reports whether two events are causally independent:
// neither happens-before the other.
func CheckConcurrent(source ClockSource, a, b string) (bool, error) {
	related, err := CausallyRelated(source, a, b)
	if err != nil {
		return false, err
	}
	return !related, nil
}
