package journal

import (
	"github.com/aretw0/introspection"
)

// State exposes internal journal state for observability.
type State struct {
	Directory   string `json:"directory"`
	RunID       string `json:"run_id"`
	Position    uint64 `json:"position"`
	ActiveStart uint64 `json:"active_start"`
	Flushed     uint64 `json:"flushed"`
	Buffered    int    `json:"buffered"`
	Books       int    `json:"books"`
	MaxBooks    int    `json:"max_books"`
	Shortcuts   int    `json:"shortcuts"`
	Degraded    bool   `json:"degraded"`
}

// State implements introspection.Introspectable.
func (j *Journal) State() any {
	j.mu.Lock()
	defer j.mu.Unlock()

	return State{
		Directory:   j.config.Directory,
		RunID:       j.cp.RunID,
		Position:    j.position,
		ActiveStart: j.activeStart,
		Flushed:     j.flushed,
		Buffered:    len(j.buffer),
		Books:       len(j.books),
		MaxBooks:    j.config.MaxBooks,
		Shortcuts:   len(j.cp.Shortcuts),
		Degraded:    j.degraded,
	}
}

// ComponentType implements introspection.Component.
func (j *Journal) ComponentType() string {
	return "journal"
}

var _ introspection.Introspectable = (*Journal)(nil)
var _ introspection.Component = (*Journal)(nil)
