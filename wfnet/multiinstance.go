package wfnet

// CreationMode controls whether multi-instance counts are fixed at
// enablement or may grow while the task runs.
type CreationMode int

const (
	CreationStatic CreationMode = iota
	CreationDynamic
)

// String returns the mode name.
func (m CreationMode) String() string {
	if m == CreationDynamic {
		return "dynamic"
	}
	return "static"
}

// MultiInstance configures a task that spawns several sibling work
// items from a single enabling.
type MultiInstance struct {
	Min       int
	Max       int
	Threshold int // Completions needed before the task completes
	Creation  CreationMode

	// SplitExpression names the case-data list whose elements seed one
	// instance each. Empty means Max instances with the full case data.
	SplitExpression string
	// JoinExpression names the output key under which per-instance
	// outputs are collected into a list.
	JoinExpression string
}

// InstanceCount decides how many instances a static enabling spawns
// given the length of the split list (0 when no split expression).
func (mi *MultiInstance) InstanceCount(splitLen int) int {
	count := mi.Max
	if mi.SplitExpression != "" && splitLen > 0 && splitLen < count {
		count = splitLen
	}
	if count < mi.Min {
		count = mi.Min
	}
	if count < 1 {
		count = 1
	}
	return count
}

// CompletionThreshold returns the number of instance completions that
// completes the task, clamped to the instance count.
func (mi *MultiInstance) CompletionThreshold(instances int) int {
	t := mi.Threshold
	if t < 1 {
		t = instances
	}
	if t > instances {
		t = instances
	}
	return t
}
