package wfnet

// Decomposition describes what a task does when it fires. It is a
// closed variant set: dispatch with a type switch, never reflection.
type Decomposition interface {
	decomposition()
	// Label returns a short human-readable description of the variant.
	Label() string
}

// NetDecomposition marks a composite task that unfolds into a sub-net.
type NetDecomposition struct {
	NetID string
}

// WebServiceGateway invokes an external service endpoint.
type WebServiceGateway struct {
	Endpoint  string
	Operation string
}

// Manual is leaf work performed by a human participant.
type Manual struct {
	Description string
}

// Automated is leaf work performed by the system, optionally naming a
// codelet to run.
type Automated struct {
	Codelet string
}

func (*NetDecomposition) decomposition()  {}
func (*WebServiceGateway) decomposition() {}
func (*Manual) decomposition()            {}
func (*Automated) decomposition()         {}

func (d *NetDecomposition) Label() string  { return "subnet:" + d.NetID }
func (d *WebServiceGateway) Label() string { return "gateway:" + d.Endpoint }
func (d *Manual) Label() string            { return "manual" }
func (d *Automated) Label() string         { return "automated:" + d.Codelet }
