// Package eventstore provides the append-only, hash-chained log of
// workflow events. Each workflow id owns an independent chain: every
// event embeds the content hash of its predecessor, so any tampering or
// corruption breaks the chain at a detectable point.
package eventstore

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow-xyz/go-caseflow/causal"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
)

// WorkflowEvent is one record in a workflow's chain.
type WorkflowEvent struct {
	ID          string             `json:"event_id"`
	Kind        string             `json:"event_kind"`
	Timestamp   time.Time          `json:"timestamp"`
	Tick        uint64             `json:"tick_number"`
	WorkflowID  string             `json:"workflow_id"`
	Payload     wfdata.Map         `json:"payload,omitempty"`
	CausedBy    []string           `json:"caused_by,omitempty"`
	VectorClock causal.VectorClock `json:"vector_clock,omitempty"`

	// PreviousHash is the content hash of the prior event in this
	// workflow's chain; empty on the genesis event.
	PreviousHash string `json:"previous_hash"`
	// EventHash is this event's own content hash, covering every field
	// above including PreviousHash.
	EventHash string `json:"event_hash"`

	// Sequence is the global append order assigned by the store.
	Sequence uint64 `json:"sequence"`
}

// NewEvent creates an unchained event with a fresh id. The store
// assigns sequence, previous hash, and content hash on append.
func NewEvent(workflowID, kind string, tick uint64, payload wfdata.Map) *WorkflowEvent {
	return &WorkflowEvent{
		ID:         uuid.New().String(),
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Tick:       tick,
		WorkflowID: workflowID,
		Payload:    payload,
	}
}

// WithCauses records the directly-causing event ids.
func (e *WorkflowEvent) WithCauses(causes ...string) *WorkflowEvent {
	e.CausedBy = append(e.CausedBy, causes...)
	return e
}

// WithClock attaches the vector clock at emission time.
func (e *WorkflowEvent) WithClock(clock causal.VectorClock) *WorkflowEvent {
	e.VectorClock = clock.Copy()
	return e
}

// ComputeHash returns the sha256 content hash over a canonical
// rendering of the event, covering the previous hash so the chain link
// is part of the signed content.
func (e *WorkflowEvent) ComputeHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "id=%s|kind=%s|ts=%d|tick=%d|wf=%s|prev=%s",
		e.ID, e.Kind, e.Timestamp.UnixNano(), e.Tick, e.WorkflowID, e.PreviousHash)

	if len(e.Payload) > 0 {
		h.Write([]byte("|payload=" + e.Payload.Canonical()))
	}
	if len(e.CausedBy) > 0 {
		causes := append([]string(nil), e.CausedBy...)
		sort.Strings(causes)
		h.Write([]byte("|causes=" + strings.Join(causes, ",")))
	}
	if len(e.VectorClock) > 0 {
		h.Write([]byte("|clock=" + e.VectorClock.String()))
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// seal links the event after prev (nil for genesis) and stamps its
// content hash. Called by stores inside their append critical section.
func (e *WorkflowEvent) seal(prev *WorkflowEvent) {
	if prev != nil {
		e.PreviousHash = prev.EventHash
	} else {
		e.PreviousHash = ""
	}
	e.EventHash = e.ComputeHash()
}
