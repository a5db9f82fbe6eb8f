// Package causal tracks cause-effect relationships between workflow
// events: a direct-cause DAG with transitive and root-cause queries,
// and vector-clock reasoning for happens-before and concurrency checks.
package causal

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock maps a logical process id to its event counter. Clocks
// order events causally without a global wall clock.
type VectorClock map[string]uint64

// Copy returns an independent copy of the clock.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Tick increments the counter for the given process and returns the
// clock for chaining.
func (vc VectorClock) Tick(process string) VectorClock {
	vc[process]++
	return vc
}

// Merge folds other into vc, keeping the componentwise maximum.
func (vc VectorClock) Merge(other VectorClock) {
	for k, v := range other {
		if v > vc[k] {
			vc[k] = v
		}
	}
}

// HappensBefore reports whether vc causally precedes other: every
// component is <= and at least one is strictly less.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	strictlyLess := false
	for k, v := range vc {
		ov := other[k]
		if v > ov {
			return false
		}
		if v < ov {
			strictlyLess = true
		}
	}
	for k, ov := range other {
		if _, ok := vc[k]; !ok && ov > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither clock happens-before the other.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.HappensBefore(other) && !other.HappensBefore(vc)
}

// Equals reports componentwise equality, treating absent as zero.
func (vc VectorClock) Equals(other VectorClock) bool {
	for k, v := range vc {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if vc[k] != v {
			return false
		}
	}
	return true
}

// String renders the clock deterministically.
func (vc VectorClock) String() string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, vc[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
