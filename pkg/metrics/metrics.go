// Package metrics declares the observability hooks of the engine.
//
// Components accept a nil Metrics and skip collection in that case, so the
// helpers below are safe to call unconditionally.
package metrics

import "time"

// Metrics collects engine measurements.
type Metrics interface {
	// ObserveSave records one crystal save.
	ObserveSave(key string, bytes int, duration time.Duration)

	// RecordMemoryUsage records the aggregate MemoryControl usage.
	RecordMemoryUsage(bytes int64)

	// RecordStorageUsage records the usage of one storage.
	RecordStorageUsage(storage string, bytes int64)

	// RecordEviction records one eviction attempt by result
	// ("unloaded", "locked", "failed").
	RecordEviction(result string)

	// RecordForceUnload records one forced unload.
	RecordForceUnload()

	// RecordJournalPosition records the current journal position.
	RecordJournalPosition(position uint64)

	// RecordJournalFailure records a failed journal operation ("write", "read").
	RecordJournalFailure(op string)
}

func ObserveSave(m Metrics, key string, bytes int, duration time.Duration) {
	if m != nil {
		m.ObserveSave(key, bytes, duration)
	}
}

func RecordMemoryUsage(m Metrics, bytes int64) {
	if m != nil {
		m.RecordMemoryUsage(bytes)
	}
}

func RecordStorageUsage(m Metrics, storage string, bytes int64) {
	if m != nil {
		m.RecordStorageUsage(storage, bytes)
	}
}

func RecordEviction(m Metrics, result string) {
	if m != nil {
		m.RecordEviction(result)
	}
}

func RecordForceUnload(m Metrics) {
	if m != nil {
		m.RecordForceUnload()
	}
}

func RecordJournalPosition(m Metrics, position uint64) {
	if m != nil {
		m.RecordJournalPosition(position)
	}
}

func RecordJournalFailure(m Metrics, op string) {
	if m != nil {
		m.RecordJournalFailure(op)
	}
}
