package core

import (
	"context"
	"fmt"
	"log/slog"
)

// FileID identifies one blob inside a Storage. The zero value asks Put to
// allocate a new identifier.
type FileID uint64

// IsZero reports whether the id is the "new blob" sentinel.
func (id FileID) IsZero() bool {
	return id == 0
}

func (id FileID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Filer defines the file I/O contract used by crystals and storages.
// Paths are relative to the filer root and use forward slashes.
type Filer interface {
	// Read returns the full content of path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the content of path. Implementations must not leave a
	// partially written file in place of the previous content.
	Write(ctx context.Context, path string, data []byte) error

	// Delete removes path. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Rename moves a file, replacing the destination.
	Rename(ctx context.Context, from, to string) error

	// List returns the paths matching a glob pattern (doublestar syntax).
	List(ctx context.Context, pattern string) ([]string, error)

	// Root returns the root location of the filer.
	Root() string
}

// StorageParams carries what a storage needs to resolve itself.
type StorageParams struct {
	// Key identifies the storage in the journal and in shortcut positions.
	Key string

	// Journal receives incremental size-table records. May be nil.
	Journal Journal

	// Query is consulted when the persisted state is inconsistent. May be nil.
	Query Query

	// UseQuery enables recovery queries during preparation.
	UseQuery bool

	Logger *slog.Logger
}

// Storage defines the contract for blob storage backends.
// Adhering to this interface allows crystals to be independent of the
// underlying storage mechanism (directory, key-value store, none).
type Storage interface {
	// Prepare resolves the storage and restores its size table.
	Prepare(ctx context.Context, params StorageParams) error

	// Get returns the blob stored under id.
	Get(ctx context.Context, id FileID) ([]byte, error)

	// Put stores data under id. A zero id allocates a new identifier,
	// which is returned.
	Put(ctx context.Context, id FileID, data []byte) (FileID, error)

	// Delete removes the blob stored under id.
	Delete(ctx context.Context, id FileID) error

	// DeleteAll removes every blob and the size table.
	DeleteAll(ctx context.Context) error

	// Save persists the size table and advances its waypoint.
	Save(ctx context.Context) error

	// Usage returns the sum of recorded blob sizes in bytes.
	Usage() int64
}

// RecordType tags one journal record.
type RecordType uint8

const (
	RecordValue RecordType = iota
	RecordAdd
	RecordRemove
	RecordCustom RecordType = 0x80
)

// Journal defines the contract of the write-ahead journal as seen by crystals
// and storages.
type Journal interface {
	// Add appends one record for plane and returns the post-write position.
	Add(plane uint32, recordType RecordType, payload []byte) uint64

	// Position returns the current (next) journal position.
	Position() uint64

	// ReadJournal returns raw record bytes starting at position, and the
	// position following them.
	ReadJournal(ctx context.Context, position uint64) (next uint64, data []byte, err error)

	// ResetJournal moves the position counter to position when a snapshot is
	// newer than the journal content.
	ResetJournal(position uint64)

	// SetShortcut records the latest waypoint for key.
	SetShortcut(key string, wp Waypoint)

	// Shortcut returns the latest known waypoint for key.
	Shortcut(key string) (Waypoint, bool)

	// RemoveShortcut forgets key.
	RemoveShortcut(key string)
}

// NullStorage is a no-op storage used by crystals without storage-backed data.
type NullStorage struct{}

func (NullStorage) Prepare(ctx context.Context, params StorageParams) error { return nil }

func (NullStorage) Get(ctx context.Context, id FileID) ([]byte, error) {
	return nil, ErrStorageUnavailable
}

func (NullStorage) Put(ctx context.Context, id FileID, data []byte) (FileID, error) {
	return id, ErrStorageUnavailable
}

func (NullStorage) Delete(ctx context.Context, id FileID) error { return nil }

func (NullStorage) DeleteAll(ctx context.Context) error { return nil }

func (NullStorage) Save(ctx context.Context) error { return nil }

func (NullStorage) Usage() int64 { return 0 }

var _ Storage = NullStorage{}
