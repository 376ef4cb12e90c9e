package cache

import "fmt"

// CapabilityKey caches an engine capability listing such as "checkpoints".
func CapabilityKey(kind string) string {
	return fmt.Sprintf("engine:capabilities:%s", kind)
}

// GenerationKey caches a generation record once it is terminal.
func GenerationKey(id string) string {
	return fmt.Sprintf("generation:%s", id)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
