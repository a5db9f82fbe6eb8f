package eventstore

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// TraceSummary provides basic statistics about one workflow's event
// trace.
type TraceSummary struct {
	WorkflowID string
	NumEvents  int
	NumKinds   int
	FirstTick  uint64
	LastTick   uint64
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	// KindCounts maps event kind to how often it appeared.
	KindCounts map[string]int
}

// Summarize computes trace statistics for one workflow.
func Summarize(ctx context.Context, store Store, workflowID string) (*TraceSummary, error) {
	events, err := store.Replay(ctx, ReplayOptions{WorkflowID: workflowID})
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", workflowID, err)
	}

	summary := &TraceSummary{
		WorkflowID: workflowID,
		NumEvents:  len(events),
		KindCounts: make(map[string]int),
	}
	if len(events) == 0 {
		return summary, nil
	}

	first, last := events[0], events[len(events)-1]
	summary.FirstTick = first.Tick
	summary.LastTick = last.Tick
	summary.StartTime = first.Timestamp
	summary.EndTime = last.Timestamp
	summary.Duration = last.Timestamp.Sub(first.Timestamp)

	for _, e := range events {
		summary.KindCounts[e.Kind]++
	}
	summary.NumKinds = len(summary.KindCounts)
	return summary, nil
}

// Kinds returns the observed event kinds in sorted order.
func (s *TraceSummary) Kinds() []string {
	kinds := make([]string, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// String renders the summary for logs and CLI output.
func (s *TraceSummary) String() string {
	return fmt.Sprintf("workflow %s: %d events across %d kinds, ticks %d-%d (duration %v)",
		s.WorkflowID, s.NumEvents, s.NumKinds, s.FirstTick, s.LastTick, s.Duration)
}
