// Package workflow builds the node graphs submitted to the execution engine.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDanglingLink  = errors.New("link references unknown node")
	ErrCycle         = errors.New("workflow graph contains a cycle")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrUnknownNode   = errors.New("unknown node id")
	ErrBuilderUsed   = errors.New("builder already built")
)

// Graph maps node ids to node descriptors. It is the exact body the engine
// expects under the "prompt" key of a queue submission.
type Graph map[string]Node

// Node is one operation in the graph. Inputs hold either literal parameters
// or Link values binding to another node's output slot.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      Meta           `json:"_meta"`
}

type Meta struct {
	Title string `json:"title"`
}

// Link binds an input to output slot Slot of node NodeID.
// On the wire it is the two-element array ["4", 0].
type Link struct {
	NodeID string
	Slot   int
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.NodeID, l.Slot})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding link: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("decoding link: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &l.NodeID); err != nil {
		return fmt.Errorf("decoding link node id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &l.Slot); err != nil {
		return fmt.Errorf("decoding link slot: %w", err)
	}
	return nil
}

// Links returns the node's bindings keyed by input name.
func (n Node) Links() map[string]Link {
	links := make(map[string]Link)
	for name, v := range n.Inputs {
		if l, ok := v.(Link); ok {
			links[name] = l
		}
	}
	return links
}

// NodesOfClass returns the ids of all nodes with the given class type, sorted.
func (g Graph) NodesOfClass(classType string) []string {
	var ids []string
	for id, n := range g {
		if n.ClassType == classType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every link resolves to a node in the graph and that
// the dependency graph is acyclic.
func (g Graph) Validate() error {
	ids := g.sortedIDs()

	for _, id := range ids {
		for input, l := range g[id].Links() {
			if _, ok := g[l.NodeID]; !ok {
				return fmt.Errorf("%w: node %s input %s -> %s", ErrDanglingLink, id, input, l.NodeID)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: through node %s", ErrCycle, id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, l := range g[id].Links() {
			if err := visit(l.NodeID); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// clone returns a deep copy; input values are scalars or Links.
func (g Graph) clone() Graph {
	out := make(Graph, len(g))
	for id, n := range g {
		inputs := make(map[string]any, len(n.Inputs))
		for k, v := range n.Inputs {
			inputs[k] = v
		}
		n.Inputs = inputs
		out[id] = n
	}
	return out
}

func (g Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
