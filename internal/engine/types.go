package engine

import (
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/reelforge/pkg/workflow"
)

// --- Engine wire types ---

type promptRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// queueResponse items are positional arrays:
// [number, prompt_id, prompt, extra_data, outputs_to_execute].
// Both lists must be present; a nil field means the body was not a queue.
type queueResponse struct {
	Running *[]json.RawMessage `json:"queue_running"`
	Pending *[]json.RawMessage `json:"queue_pending"`
}

// objectInfoNode is one entry of /object_info. Required inputs are
// positional too: the first element of a combo input is its option list.
type objectInfoNode struct {
	Input struct {
		Required map[string][]json.RawMessage `json:"required"`
	} `json:"input"`
}

func (n objectInfoNode) options(field string) []string {
	input := n.Input.Required[field]
	if len(input) == 0 {
		return []string{}
	}
	var opts []string
	if err := json.Unmarshal(input[0], &opts); err != nil || opts == nil {
		return []string{}
	}
	return opts
}

// promptIDs extracts element [1] of each queue item. Any malformed item
// fails the whole list: a dropped id would read as a finished prompt.
func promptIDs(items []json.RawMessage) ([]string, error) {
	ids := make([]string, 0, len(items))
	for i, item := range items {
		var fields []json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || len(fields) < 2 {
			return nil, fmt.Errorf("queue item %d is not a [number, prompt_id, ...] array", i)
		}
		var id string
		if err := json.Unmarshal(fields[1], &id); err != nil || id == "" {
			return nil, fmt.Errorf("queue item %d has no prompt id", i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
