package journal

import (
	"context"
	"sync"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

// Null is a journal that records nothing. Positions still advance so that
// waypoints stay meaningful; replay always finds an empty stream.
type Null struct {
	mu        sync.Mutex
	position  uint64
	shortcuts map[string]core.Waypoint
}

// NewNull creates a no-op journal.
func NewNull() *Null {
	return &Null{shortcuts: make(map[string]core.Waypoint)}
}

func (n *Null) Add(plane uint32, recordType core.RecordType, payload []byte) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.position += uint64(recordHeaderSize + len(payload))
	return n.position
}

func (n *Null) Position() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.position
}

// ReadJournal returns no data; positions before the current one are gone.
func (n *Null) ReadJournal(ctx context.Context, position uint64) (uint64, []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if position >= n.position {
		return position, nil, nil
	}
	return n.position, nil, nil
}

func (n *Null) ResetJournal(position uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if position > n.position {
		n.position = position
	}
}

func (n *Null) SetShortcut(key string, wp core.Waypoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shortcuts[key] = wp
}

func (n *Null) Shortcut(key string) (core.Waypoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	wp, ok := n.shortcuts[key]
	return wp, ok
}

func (n *Null) RemoveShortcut(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.shortcuts, key)
}

var _ core.Journal = (*Null)(nil)
