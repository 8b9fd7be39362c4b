package crystal

import (
	"fmt"

	"github.com/aretw0/introspection"
)

// CrystalState describes one registered crystal.
type CrystalState struct {
	Key      string `json:"key"`
	Path     string `json:"path,omitempty"`
	State    string `json:"state"`
	Policy   string `json:"policy"`
	Format   string `json:"format"`
	Waypoint string `json:"waypoint"`
	Dirty    bool   `json:"dirty"`
}

// CrystalizerState exposes internal state for observability.
type CrystalizerState struct {
	Directory       string         `json:"directory"`
	Backup          string         `json:"backup,omitempty"`
	Crystals        []CrystalState `json:"crystals"`
	PendingSaves    int            `json:"pending_saves"`
	MemoryUsage     int64          `json:"memory_usage"`
	MemoryLimit     int64          `json:"memory_limit"`
	JournalPosition uint64         `json:"journal_position"`
	SchedulerStatus string         `json:"scheduler_status"`
	SchedulerTicks  int64          `json:"scheduler_ticks"`
}

// State implements introspection.Introspectable.
func (cz *Crystalizer) State() any {
	nodes := cz.nodes()
	crystals := make([]CrystalState, 0, len(nodes))
	for _, c := range nodes {
		crystals = append(crystals, c.info())
	}

	cz.mu.Lock()
	pending := len(cz.queueOrder)
	cz.mu.Unlock()

	return CrystalizerState{
		Directory:       cz.config.Directory,
		Backup:          cz.config.BackupDirectory,
		Crystals:        crystals,
		PendingSaves:    pending,
		MemoryUsage:     cz.control.MemoryUsage(),
		MemoryLimit:     cz.control.Limit(),
		JournalPosition: cz.journal.Position(),
		SchedulerStatus: fmt.Sprint(cz.worker.State().Status),
		SchedulerTicks:  cz.worker.ticks.Load(),
	}
}

// ComponentType implements introspection.Component.
func (cz *Crystalizer) ComponentType() string {
	return "crystalizer"
}

var _ introspection.Introspectable = (*Crystalizer)(nil)
var _ introspection.Component = (*Crystalizer)(nil)
