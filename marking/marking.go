// Package marking implements the token semantics of workflow nets: the
// marking snapshot, the token-conservation firing rule, and the
// enabled-transition-set resolver with deferred-choice selection.
package marking

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Marking represents a state of the workflow net: the token count held
// by each condition. Conditions absent from the map hold zero tokens.
type Marking map[string]int

// Copy creates a deep copy of the marking.
func (m Marking) Copy() Marking {
	result := make(Marking, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// Equals checks structural equality: the same condition-to-count
// mapping. This equality underlies reachability-graph deduplication.
func (m Marking) Equals(other Marking) bool {
	for k, v := range m {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if m[k] != v {
			return false
		}
	}
	return true
}

// Hash returns a deterministic hash of the marking.
func (m Marking) Hash() string {
	keys := m.SortedKeys()
	h := sha256.New()
	buf := make([]byte, 8)
	for _, k := range keys {
		if m[k] == 0 {
			continue
		}
		h.Write([]byte(k))
		binary.BigEndian.PutUint64(buf, uint64(m[k]))
		h.Write(buf)
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// String returns a human-readable rendering of the marked conditions.
func (m Marking) String() string {
	keys := m.SortedKeys()
	var parts []string
	for _, k := range keys {
		if m[k] > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
		}
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, ", ")
}

// SortedKeys returns condition ids in sorted order.
func (m Marking) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Total returns the sum of all tokens.
func (m Marking) Total() int {
	sum := 0
	for _, v := range m {
		sum += v
	}
	return sum
}

// Get returns the token count for a condition (0 if not present).
func (m Marking) Get(condition string) int {
	return m[condition]
}

// Add adds tokens to a condition.
func (m Marking) Add(condition string, tokens int) {
	m[condition] += tokens
}

// Sub subtracts tokens from a condition.
func (m Marking) Sub(condition string, tokens int) {
	m[condition] -= tokens
}

// Max returns the maximum token count in any condition.
func (m Marking) Max() int {
	max := 0
	for _, v := range m {
		if v > max {
			max = v
		}
	}
	return max
}

// MarkedConditions returns the ids of conditions holding tokens.
func (m Marking) MarkedConditions() []string {
	var out []string
	for k, v := range m {
		if v > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// IsFinal reports whether exactly the given output condition holds a
// single token and every other condition is empty. This is the proper
// completion state.
func (m Marking) IsFinal(outputCondition string) bool {
	for k, v := range m {
		if k == outputCondition {
			if v != 1 {
				return false
			}
			continue
		}
		if v != 0 {
			return false
		}
	}
	return m[outputCondition] == 1
}
