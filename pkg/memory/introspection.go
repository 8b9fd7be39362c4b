package memory

import (
	"github.com/aretw0/introspection"
)

// State exposes internal memory accounting for observability.
type State struct {
	Limit     int64            `json:"limit"`
	Usage     int64            `json:"usage"`
	Objects   int              `json:"objects"`
	Estimates map[string]int64 `json:"estimates,omitempty"`
}

// State implements introspection.Introspectable.
func (c *Control) State() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	estimates := make(map[string]int64, len(c.stats))
	for k, s := range c.stats {
		estimates[k] = s.estimate()
	}
	return State{
		Limit:     c.limit,
		Usage:     c.usage,
		Objects:   len(c.items),
		Estimates: estimates,
	}
}

// ComponentType implements introspection.Component.
func (c *Control) ComponentType() string {
	return "memory-control"
}

var _ introspection.Introspectable = (*Control)(nil)
var _ introspection.Component = (*Control)(nil)
