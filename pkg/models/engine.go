package models

// QueueSnapshot lists the correlation ids the engine currently holds.
// A reachable engine with nothing queued yields two empty slices.
type QueueSnapshot struct {
	Running []string `json:"running"`
	Pending []string `json:"pending"`
}

// Contains reports whether promptID is running or waiting in the engine queue.
func (q QueueSnapshot) Contains(promptID string) bool {
	for _, id := range q.Running {
		if id == promptID {
			return true
		}
	}
	for _, id := range q.Pending {
		if id == promptID {
			return true
		}
	}
	return false
}
