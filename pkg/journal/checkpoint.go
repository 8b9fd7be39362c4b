package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/archi-Doc/CrystalData-sub001/internal/atomicfile"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

const (
	checkpointFile    = "checkpoint.json"
	checkpointVersion = 1
)

// checkpoint is the persisted journal state that is not part of the record
// stream itself.
type checkpoint struct {
	Version   int                      `json:"version"`
	RunID     string                   `json:"run_id"`
	Position  uint64                   `json:"position"`
	Shortcuts map[string]core.Waypoint `json:"shortcuts"`
	Stats     map[string]float64       `json:"stats,omitempty"`
	dirty     bool
}

func newCheckpoint() *checkpoint {
	return &checkpoint{
		Version:   checkpointVersion,
		RunID:     uuid.NewString(),
		Shortcuts: make(map[string]core.Waypoint),
		Stats:     make(map[string]float64),
	}
}

func (j *Journal) checkpointPath() string {
	return filepath.Join(j.config.Directory, checkpointFile)
}

// loadCheckpoint reads the checkpoint at path. A missing file yields a fresh
// checkpoint.
func loadCheckpoint(path string) (*checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	cp := newCheckpoint()
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w: %w", core.ErrCorruptedData, err)
	}
	if cp.Version > checkpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported %d", cp.Version, checkpointVersion)
	}
	if cp.Shortcuts == nil {
		cp.Shortcuts = make(map[string]core.Waypoint)
	}
	if cp.Stats == nil {
		cp.Stats = make(map[string]float64)
	}
	return cp, nil
}

// rotateRunID starts a new run. The checkpoint is rewritten on the next flush.
func (cp *checkpoint) rotateRunID() {
	cp.RunID = uuid.NewString()
	cp.dirty = true
}

// save writes the checkpoint atomically if it changed since the last save.
func (cp *checkpoint) save(path string) error {
	if !cp.dirty {
		return nil
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		return err
	}
	cp.dirty = false
	return nil
}
