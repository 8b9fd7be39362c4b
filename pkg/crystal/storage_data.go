package crystal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/memory"
)

// Bindable is implemented by root objects holding StorageData fields. Bind
// is called after every load and must pass the binding on to each field.
type Bindable interface {
	Bind(b *Binding)
}

// storageNode is the type-erased view of a StorageData.
type storageNode interface {
	save(ctx context.Context, mode core.UnloadMode) error
	remove(ctx context.Context) error
}

// Binding connects StorageData fields to the storage and memory control of
// their crystal.
type Binding struct {
	storage core.Storage
	control *memory.Control
	format  core.SaveFormat
	logger  *slog.Logger

	mu    sync.Mutex
	nodes map[storageNode]struct{}
}

func newBinding(storage core.Storage, control *memory.Control, format core.SaveFormat, logger *slog.Logger) *Binding {
	return &Binding{
		storage: storage,
		control: control,
		format:  format,
		logger:  logger,
		nodes:   make(map[storageNode]struct{}),
	}
}

func (b *Binding) attach(n storageNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[n] = struct{}{}
}

func (b *Binding) detach(n storageNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, n)
}

func (b *Binding) snapshot() []storageNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]storageNode, 0, len(b.nodes))
	for n := range b.nodes {
		out = append(out, n)
	}
	return out
}

func (b *Binding) saveAll(ctx context.Context, mode core.UnloadMode) error {
	var errs []error
	for _, n := range b.snapshot() {
		if err := n.save(ctx, mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Binding) removeAll(ctx context.Context) error {
	var errs []error
	for _, n := range b.snapshot() {
		if err := n.remove(ctx); err != nil {
			errs = append(errs, err)
		}
		b.detach(n)
	}
	return errors.Join(errs...)
}

// StorageData is a lazily loaded child object kept in the crystal's Storage.
// Only ID is serialized with the parent; the object itself is loaded on Get
// and tracked by the memory control until unloaded.
//
// ID changes only through Set, MarkDirty and Delete, which must be called
// from within Crystal.Update. The storage allocates the ID on the first write.
type StorageData[T any] struct {
	ID core.FileID `json:"id" yaml:"id"`

	mu      sync.Mutex
	binding *Binding
	data    *T
	size    int64
	dirty   bool
	locked  bool
	hinted  bool
}

// Bind attaches the field to b. Called from the parent's Bindable.Bind.
func (s *StorageData[T]) Bind(b *Binding) {
	s.mu.Lock()
	s.binding = b
	s.mu.Unlock()
	b.attach(s)
}

func (s *StorageData[T]) serializer() Serializer[T] {
	return DefaultSerializer[T](s.binding.format, "")
}

func (s *StorageData[T]) checkBound() error {
	if s.binding == nil {
		return fmt.Errorf("storage data is not bound: %w", core.ErrNotPrepared)
	}
	return nil
}

// Get returns the object, loading it from storage when needed. A field
// that was never set yields a new zero object.
func (s *StorageData[T]) Get(ctx context.Context) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx)
}

func (s *StorageData[T]) getLocked(ctx context.Context) (*T, error) {
	if err := s.checkBound(); err != nil {
		return nil, err
	}
	if s.data != nil {
		s.binding.control.Register(s, s.size)
		return s.data, nil
	}

	if s.ID.IsZero() {
		s.data, s.size = new(T), 0
		s.binding.control.Register(s, 0)
		return s.data, nil
	}

	raw, err := s.binding.storage.Get(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("storage data %s: %w", s.ID, err)
	}
	v := new(T)
	if err := s.serializer().Deserialize(raw, v); err != nil {
		return nil, fmt.Errorf("storage data %s: %w", s.ID, err)
	}
	s.data, s.size = v, int64(len(raw))
	s.binding.control.Register(s, s.size)
	return s.data, nil
}

// Set replaces the object and marks it for saving. A field without an ID is
// written at once so that the storage allocates one.
func (s *StorageData[T]) Set(ctx context.Context, v *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkBound(); err != nil {
		return err
	}
	prev, prevDirty := s.data, s.dirty
	s.data, s.dirty = v, true
	if err := s.allocateLocked(ctx); err != nil {
		s.data, s.dirty = prev, prevDirty
		return err
	}
	s.binding.control.Register(s, s.size)
	return nil
}

// MarkDirty flags an object mutated in place for saving.
func (s *StorageData[T]) MarkDirty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	s.dirty = true
	return s.allocateLocked(ctx)
}

// allocateLocked writes a field that has no ID yet. Later writes, including
// those of unloads running outside Crystal.Update, keep the ID unchanged.
func (s *StorageData[T]) allocateLocked(ctx context.Context) error {
	if !s.ID.IsZero() {
		return nil
	}
	return s.putLocked(ctx)
}

// Lock loads the object and takes the application lock. While held,
// TryUnload fails with core.ErrDataIsLocked.
func (s *StorageData[T]) Lock(ctx context.Context) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, core.ErrDataIsLocked
	}
	v, err := s.getLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.locked = true
	return v, nil
}

// Unlock releases the application lock.
func (s *StorageData[T]) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	s.hinted = false
}

// HintForceUnload implements memory.Hinter.
func (s *StorageData[T]) HintForceUnload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked && !s.hinted {
		s.hinted = true
		if s.binding != nil {
			s.binding.logger.Debug("forced unload pending", "id", s.ID)
		}
	}
}

// ForceUnloadHinted reports whether a forced unload is pending while locked.
func (s *StorageData[T]) ForceUnloadHinted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hinted
}

// TryUnload implements memory.Object.
func (s *StorageData[T]) TryUnload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return core.ErrDataIsLocked
	}
	return s.unloadLocked(ctx)
}

// ForceUnload implements memory.Object. It releases the application lock.
func (s *StorageData[T]) ForceUnload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked, s.hinted = false, false
	return s.unloadLocked(ctx)
}

func (s *StorageData[T]) unloadLocked(ctx context.Context) error {
	if s.binding == nil {
		return nil
	}
	if s.data == nil {
		s.binding.control.Unregister(s)
		return nil
	}
	if s.dirty {
		if err := s.putLocked(ctx); err != nil {
			return err
		}
	}
	s.data = nil
	s.binding.control.ReportUnloaded(s, s.size)
	return nil
}

func (s *StorageData[T]) putLocked(ctx context.Context) error {
	raw, err := s.serializer().Serialize(s.data)
	if err != nil {
		return fmt.Errorf("storage data %s: %w", s.ID, err)
	}
	id, err := s.binding.storage.Put(ctx, s.ID, raw)
	if err != nil {
		return fmt.Errorf("storage data %s: %w", s.ID, err)
	}
	s.ID = id
	s.size = int64(len(raw))
	s.dirty = false
	return nil
}

func (s *StorageData[T]) save(ctx context.Context, mode core.UnloadMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	if s.dirty {
		if err := s.putLocked(ctx); err != nil {
			return err
		}
	}
	switch mode {
	case core.TryUnload:
		if !s.locked {
			return s.unloadLocked(ctx)
		}
	case core.ForceUnload:
		s.locked, s.hinted = false, false
		return s.unloadLocked(ctx)
	}
	return nil
}

func (s *StorageData[T]) remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding == nil {
		return nil
	}
	s.data, s.dirty, s.locked = nil, false, false
	s.binding.control.Unregister(s)
	if s.ID.IsZero() {
		return nil
	}
	if err := s.binding.storage.Delete(ctx, s.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

// Delete removes the stored object and clears the field.
func (s *StorageData[T]) Delete(ctx context.Context) error {
	if err := s.remove(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding != nil {
		s.binding.detach(s)
	}
	s.ID = 0
	return nil
}

var (
	_ memory.Object = (*StorageData[struct{}])(nil)
	_ memory.Hinter = (*StorageData[struct{}])(nil)
)
