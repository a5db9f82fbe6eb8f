package wfnet

// Resourcing declares who may perform a task. An empty spec means the
// system performs the task without external allocation.
type Resourcing struct {
	Roles        []string
	Participants []string
	Capabilities []string
}

// IsSystem reports whether the spec imposes no human requirements.
func (r *Resourcing) IsSystem() bool {
	if r == nil {
		return true
	}
	return len(r.Roles) == 0 && len(r.Participants) == 0 && len(r.Capabilities) == 0
}

// Accepts reports whether a participant with the given role set and
// capability set satisfies the spec.
func (r *Resourcing) Accepts(participant string, roles, capabilities []string) bool {
	if r.IsSystem() {
		return true
	}
	if len(r.Participants) > 0 && !contains(r.Participants, participant) {
		return false
	}
	if len(r.Roles) > 0 && !intersects(r.Roles, roles) {
		return false
	}
	if len(r.Capabilities) > 0 && !intersects(r.Capabilities, capabilities) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range b {
		if contains(a, v) {
			return true
		}
	}
	return false
}
