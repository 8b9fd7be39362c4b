// Package badger provides a Storage backed by a BadgerDB key-value store.
// Several storages may share one database: blobs are namespaced by the
// storage key handed over in Prepare.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

const (
	blobPrefix          = "blob/"
	maxAllocateAttempts = 16
)

// Open opens a database at path. An empty path opens an in-memory
// database, which is only useful in tests.
func Open(path string) (*badgerdb.DB, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// OpenReadOnly opens an existing database at path without writing to it.
func OpenReadOnly(path string) (*badgerdb.DB, error) {
	db, err := badgerdb.Open(badgerdb.DefaultOptions(path).WithLogger(nil).WithReadOnly(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database read-only: %w", err)
	}
	return db, nil
}

// Config holds the configuration of a badger-backed storage.
type Config struct {
	DB *badgerdb.DB

	// MaxSize bounds the total stored size in bytes. Zero means unbounded.
	MaxSize int64

	// MaxFiles bounds the number of blobs. Zero means unbounded.
	MaxFiles int

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Storage keeps blobs as values of a BadgerDB. Writes are transactional, so
// the size table is rebuilt from the keys on Prepare instead of journaled.
type Storage struct {
	mu     sync.Mutex
	config Config
	db     *badgerdb.DB
	logger *slog.Logger

	key      string
	prefix   []byte
	sizes    map[core.FileID]int64
	usage    int64
	prepared bool
}

// NewStorage creates a storage over config.DB. Call Prepare before use.
func NewStorage(config Config) *Storage {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Storage{
		config: config,
		db:     config.DB,
		logger: logger.With("component", "badger-storage"),
		sizes:  make(map[core.FileID]int64),
	}
}

func (s *Storage) blobKey(id core.FileID) []byte {
	key := make([]byte, len(s.prefix)+8)
	copy(key, s.prefix)
	binary.BigEndian.PutUint64(key[len(s.prefix):], uint64(id))
	return key
}

// Prepare rebuilds the size table from the keys stored under params.Key.
func (s *Storage) Prepare(ctx context.Context, params core.StorageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("badger storage: %w", core.ErrStorageUnavailable)
	}
	if params.Logger != nil {
		s.logger = params.Logger.With("component", "badger-storage")
	}
	s.key = params.Key
	s.prefix = []byte(blobPrefix + params.Key + "/")

	sizes := make(map[core.FileID]int64)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.Key()
			if len(key) != len(s.prefix)+8 {
				continue
			}
			id := core.FileID(binary.BigEndian.Uint64(key[len(s.prefix):]))
			sizes[id] = item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger storage %s: %w", s.key, err)
	}

	s.sizes = sizes
	s.usage = 0
	for _, size := range sizes {
		s.usage += size
	}
	s.prepared = true

	s.logger.Debug("storage prepared", "key", s.key, "files", len(s.sizes), "usage", s.usage)
	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return nil
}

func (s *Storage) checkPrepared() error {
	if !s.prepared {
		return core.ErrNotPrepared
	}
	return nil
}

// Put stores data under id, allocating a new identifier when id is zero.
func (s *Storage) Put(ctx context.Context, id core.FileID, data []byte) (core.FileID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrepared(); err != nil {
		return id, err
	}

	if id.IsZero() {
		for i := 0; ; i++ {
			if i == maxAllocateAttempts {
				return id, fmt.Errorf("failed to allocate file id: %w", core.ErrFileOperation)
			}
			candidate := core.FileID(rand.Uint64())
			if _, taken := s.sizes[candidate]; !taken && !candidate.IsZero() {
				id = candidate
				break
			}
		}
	}

	old, exists := s.sizes[id]
	size := int64(len(data))
	delta := size - old
	if s.config.MaxSize > 0 && delta > 0 && s.usage+delta > s.config.MaxSize {
		return id, fmt.Errorf("storage %s: %w", s.key, core.ErrOverSizeLimit)
	}
	if s.config.MaxFiles > 0 && !exists && len(s.sizes) >= s.config.MaxFiles {
		return id, fmt.Errorf("storage %s: %w", s.key, core.ErrOverNumberLimit)
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.blobKey(id), data)
	})
	if err != nil {
		return id, fmt.Errorf("put %s: %w: %w", id, core.ErrFileOperation, err)
	}

	s.sizes[id] = size
	s.usage += delta
	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return id, nil
}

// Get returns the blob stored under id.
func (s *Storage) Get(ctx context.Context, id core.FileID) ([]byte, error) {
	s.mu.Lock()
	err := s.checkPrepared()
	key := s.blobKey(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", id, core.ErrFileOperation, err)
	}
	return data, nil
}

// Delete removes the blob stored under id.
func (s *Storage) Delete(ctx context.Context, id core.FileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrepared(); err != nil {
		return err
	}

	size, ok := s.sizes[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(s.blobKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w: %w", id, core.ErrFileOperation, err)
	}

	delete(s.sizes, id)
	s.usage -= size
	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return nil
}

// DeleteAll drops every blob of this storage.
func (s *Storage) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefix == nil {
		return nil
	}
	if err := s.db.DropPrefix(s.prefix); err != nil {
		return fmt.Errorf("storage %s: %w: %w", s.key, core.ErrFileOperation, err)
	}
	s.sizes = make(map[core.FileID]int64)
	s.usage = 0
	metrics.RecordStorageUsage(s.config.Metrics, s.key, 0)
	return nil
}

// Save syncs the database to disk.
func (s *Storage) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrepared(); err != nil {
		return err
	}
	if s.db.Opts().InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("storage %s: %w: %w", s.key, core.ErrFileOperation, err)
	}
	return nil
}

// Usage returns the sum of the stored blob sizes.
func (s *Storage) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Len returns the number of stored blobs.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sizes)
}

var _ core.Storage = (*Storage)(nil)
