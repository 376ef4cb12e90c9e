package workflow

import "fmt"

// Builder assembles a Graph from a base template and optional rewiring
// steps. The first error is sticky and returned by Build.
type Builder struct {
	nodes Graph
	built bool
	err   error
}

func NewBuilder() *Builder {
	return &Builder{nodes: make(Graph)}
}

// Add inserts a node under id.
func (b *Builder) Add(id string, n Node) *Builder {
	if b.err != nil {
		return b
	}
	if b.built {
		b.err = ErrBuilderUsed
		return b
	}
	if _, exists := b.nodes[id]; exists {
		b.err = fmt.Errorf("%w: %s", ErrDuplicateNode, id)
		return b
	}
	if n.Inputs == nil {
		n.Inputs = map[string]any{}
	}
	b.nodes[id] = n
	return b
}

// Rewire points input of node id at l, replacing whatever was bound before.
func (b *Builder) Rewire(id, input string, l Link) *Builder {
	if b.err != nil {
		return b
	}
	if b.built {
		b.err = ErrBuilderUsed
		return b
	}
	n, ok := b.nodes[id]
	if !ok {
		b.err = fmt.Errorf("%w: %s", ErrUnknownNode, id)
		return b
	}
	n.Inputs[input] = l
	return b
}

// Build validates the graph and returns a frozen copy. The builder cannot
// be modified afterwards.
func (b *Builder) Build() (Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.built {
		return nil, ErrBuilderUsed
	}
	if err := b.nodes.Validate(); err != nil {
		return nil, err
	}
	b.built = true
	return b.nodes.clone(), nil
}
