package fs

import (
	"github.com/aretw0/introspection"
)

// StorageState exposes internal storage state for observability.
type StorageState struct {
	Key      string `json:"key"`
	Path     string `json:"path"`
	Backup   string `json:"backup,omitempty"`
	Files    int    `json:"files"`
	Usage    int64  `json:"usage"`
	MaxSize  int64  `json:"max_size,omitempty"`
	MaxFiles int    `json:"max_files,omitempty"`
	Prepared bool   `json:"prepared"`
}

// State implements introspection.Introspectable.
func (s *Storage) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StorageState{
		Key:      s.key,
		Path:     s.config.Directory,
		Backup:   s.config.BackupDirectory,
		Files:    len(s.sizes),
		Usage:    s.usage,
		MaxSize:  s.config.MaxSize,
		MaxFiles: s.config.MaxFiles,
		Prepared: s.prepared,
	}
}

// ComponentType implements introspection.Component.
func (s *Storage) ComponentType() string {
	return "storage"
}

var _ introspection.Introspectable = (*Storage)(nil)
var _ introspection.Component = (*Storage)(nil)
