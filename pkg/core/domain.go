// Package core holds the domain types and ports shared by every component of
// the engine. Adapters (filesystem, badger, journal) implement the interfaces
// declared here; the crystal package orchestrates them.
package core

import (
	"fmt"
	"strings"
	"time"
)

// Waypoint is the last confirmed persisted point of a crystal.
// Position is a journal position, Hash the content signature of the saved payload.
type Waypoint struct {
	Position uint64 `json:"position"`
	Hash     uint64 `json:"hash"`
}

// IsZero reports whether the waypoint has never been set.
func (w Waypoint) IsZero() bool {
	return w.Position == 0 && w.Hash == 0
}

func (w Waypoint) String() string {
	return fmt.Sprintf("%d/%016x", w.Position, w.Hash)
}

// SaveFormat selects the on-disk encoding of a crystal.
type SaveFormat int

const (
	FormatBinary SaveFormat = iota
	FormatUtf8
)

func (f SaveFormat) String() string {
	if f == FormatUtf8 {
		return "utf8"
	}
	return "binary"
}

// ParseSaveFormat parses "binary" or "utf8" (case-insensitive).
func ParseSaveFormat(s string) (SaveFormat, error) {
	switch strings.ToLower(s) {
	case "", "binary":
		return FormatBinary, nil
	case "utf8", "utf-8", "text":
		return FormatUtf8, nil
	}
	return FormatBinary, fmt.Errorf("unknown save format: %s", s)
}

// SavePolicy decides when a crystal is written to durable storage.
type SavePolicy int

const (
	// SaveManual saves only on explicit Save/SaveAll calls.
	SaveManual SavePolicy = iota
	// SavePeriodic saves on the scheduler tick once SaveInterval elapsed.
	SavePeriodic
	// SaveOnChanged queues a save whenever the crystal is marked dirty.
	SaveOnChanged
	// SaveVolatile never writes the crystal.
	SaveVolatile
)

func (p SavePolicy) String() string {
	switch p {
	case SavePeriodic:
		return "periodic"
	case SaveOnChanged:
		return "on-changed"
	case SaveVolatile:
		return "volatile"
	default:
		return "manual"
	}
}

// UnloadMode selects whether a save also evicts the in-memory state.
type UnloadMode int

const (
	NoUnload UnloadMode = iota
	TryUnload
	ForceUnload
)

// EventType represents the type of lifecycle change of a crystal or object.
type EventType string

const (
	EventLoaded        EventType = "LOADED"
	EventSaved         EventType = "SAVED"
	EventUnloaded      EventType = "UNLOADED"
	EventForceUnloaded EventType = "FORCE_UNLOADED"
	EventDeleted       EventType = "DELETED"
)

// Event represents a change observed by the engine.
type Event struct {
	Type      EventType
	Key       string
	Timestamp int64 // Unix timestamp
}

// String implements lifecycle.Event.
func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Key)
}

// Clock abstracts time for components with timeouts and debounce windows.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx-like cancellation is signaled by done.
	Sleep(done <-chan struct{}, d time.Duration) bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sleep returns false if done was closed before d elapsed.
func (SystemClock) Sleep(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
