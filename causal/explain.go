package causal

import (
	"fmt"
	"strings"
)

// Explanation is a human-readable account of why an event happened.
type Explanation struct {
	EventID    string   `json:"event_id"`
	Direct     []string `json:"direct_causes"`
	Indirect   []string `json:"indirect_causes"`
	Roots      []string `json:"root_causes"`
	ChainDepth int      `json:"chain_depth"`
	Narrative  string   `json:"narrative"`
}

// Explain builds an explanation for an event from the tracker's DAG:
// its direct causes, the indirect ancestors behind them, and the root
// events the whole chain traces back to.
func (t *Tracker) Explain(eventID string) (*Explanation, error) {
	direct, err := t.DirectCauses(eventID)
	if err != nil {
		return nil, err
	}
	all, err := t.TransitiveCauses(eventID)
	if err != nil {
		return nil, err
	}
	roots, err := t.RootCauses(eventID)
	if err != nil {
		return nil, err
	}

	isDirect := make(map[string]bool, len(direct))
	for _, id := range direct {
		isDirect[id] = true
	}
	var indirect []string
	for _, id := range all {
		if !isDirect[id] {
			indirect = append(indirect, id)
		}
	}

	ex := &Explanation{
		EventID:    eventID,
		Direct:     direct,
		Indirect:   indirect,
		Roots:      roots,
		ChainDepth: t.depthOf(eventID),
	}
	ex.Narrative = ex.narrate()
	return ex, nil
}

// depthOf measures the longest cause chain above an event.
func (t *Tracker) depthOf(eventID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	memo := make(map[string]int)
	return t.depthLocked(eventID, memo, 0)
}

func (t *Tracker) depthLocked(id string, memo map[string]int, guard int) int {
	if guard > t.maxDepth {
		return 0
	}
	if d, ok := memo[id]; ok {
		return d
	}
	best := 0
	for _, cause := range t.causes[id] {
		if d := t.depthLocked(cause, memo, guard+1) + 1; d > best {
			best = d
		}
	}
	memo[id] = best
	return best
}

func (ex *Explanation) narrate() string {
	if len(ex.Direct) == 0 {
		return fmt.Sprintf("event %s is a root event with no recorded causes", ex.EventID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "event %s was directly caused by %s", ex.EventID, joinIDs(ex.Direct))
	if len(ex.Indirect) > 0 {
		fmt.Fprintf(&b, ", with %d earlier events in its history", len(ex.Indirect))
	}
	fmt.Fprintf(&b, "; the chain traces back to %s", joinIDs(ex.Roots))
	return b.String()
}

func joinIDs(ids []string) string {
	switch len(ids) {
	case 0:
		return "nothing"
	case 1:
		return ids[0]
	default:
		return strings.Join(ids[:len(ids)-1], ", ") + " and " + ids[len(ids)-1]
	}
}
