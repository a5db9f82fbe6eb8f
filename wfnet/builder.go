package wfnet

// Builder provides a fluent API for constructing workflow nets.
//
// Example:
//
//	net := wfnet.Build("claims").
//	    Input("received").
//	    Task("assess").
//	    Condition("assessed").
//	    Task("settle").
//	    Output("closed").
//	    Flow("received", "assess").
//	    Flow("assess", "assessed").
//	    Flow("assessed", "settle").
//	    Flow("settle", "closed").
//	    Done()
type Builder struct {
	net *Net
}

// Build creates a new Builder for the given net id.
func Build(id string) *Builder {
	return &Builder{net: NewNet(id)}
}

// Input adds the input condition.
func (b *Builder) Input(id string) *Builder {
	b.net.AddCondition(id, ConditionInput)
	return b
}

// Output adds the output condition.
func (b *Builder) Output(id string) *Builder {
	b.net.AddCondition(id, ConditionOutput)
	return b
}

// Condition adds an ordinary condition.
func (b *Builder) Condition(id string) *Builder {
	b.net.AddCondition(id, ConditionOrdinary)
	return b
}

// Task adds an atomic task with AND join and AND split.
func (b *Builder) Task(id string) *Builder {
	b.net.AddTask(&Task{ID: id, Decomposition: &Automated{}})
	return b
}

// TaskWith adds a fully specified task.
func (b *Builder) TaskWith(t *Task) *Builder {
	b.net.AddTask(t)
	return b
}

// TaskXORSplit adds an atomic task with an XOR split.
func (b *Builder) TaskXORSplit(id string) *Builder {
	b.net.AddTask(&Task{ID: id, Split: PolicyXOR, Decomposition: &Automated{}})
	return b
}

// TaskXORJoin adds an atomic task with an XOR join.
func (b *Builder) TaskXORJoin(id string) *Builder {
	b.net.AddTask(&Task{ID: id, Join: PolicyXOR, Decomposition: &Automated{}})
	return b
}

// CompositeTask adds a task that decomposes to the named sub-net.
func (b *Builder) CompositeTask(id, subnetID string) *Builder {
	b.net.AddTask(&Task{ID: id, Decomposition: &NetDecomposition{NetID: subnetID}})
	return b
}

// ManualTask adds a task requiring allocation to one of the given roles.
func (b *Builder) ManualTask(id string, roles ...string) *Builder {
	b.net.AddTask(&Task{
		ID:            id,
		Decomposition: &Manual{},
		Resourcing:    &Resourcing{Roles: roles},
	})
	return b
}

// Flow adds an unconditioned arc.
func (b *Builder) Flow(source, target string) *Builder {
	b.net.AddFlow(source, target)
	return b
}

// FlowIf adds an arc guarded by a routing predicate.
func (b *Builder) FlowIf(source, target string, pred Predicate) *Builder {
	f := b.net.AddFlow(source, target)
	f.Predicate = pred
	return b
}

// DefaultFlow adds the fallback arc taken when no predicate matches.
func (b *Builder) DefaultFlow(source, target string) *Builder {
	f := b.net.AddFlow(source, target)
	f.IsDefault = true
	return b
}

// Chain adds a strictly alternating condition/task sequence, marking
// the first element as the input condition and the last as the output.
//
// Example:
//
//	wfnet.Build("seq").Chain("start", "A", "mid", "B", "end").Done()
func (b *Builder) Chain(elements ...string) *Builder {
	if len(elements) < 3 || len(elements)%2 == 0 {
		// Need condition, task, condition, ... ending on a condition.
		return b
	}

	for i, id := range elements {
		if i%2 == 0 {
			switch i {
			case 0:
				b.Input(id)
			case len(elements) - 1:
				b.Output(id)
			default:
				b.Condition(id)
			}
		} else {
			b.Task(id)
		}
		if i > 0 {
			b.Flow(elements[i-1], id)
		}
	}
	return b
}

// Done validates nothing and returns the net under construction.
// Run Validate separately before loading the net into an engine.
func (b *Builder) Done() *Net {
	return b.net
}
