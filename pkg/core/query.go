package core

import (
	"context"
	"sync"
)

// QueryKind names a structural condition escalated to the hosting application.
type QueryKind string

const (
	QueryNoData              QueryKind = "no-data"
	QueryInconsistentJournal QueryKind = "inconsistent-journal"
	QueryLoadBackup          QueryKind = "load-backup"
)

// Answer is the reply of a recovery query.
type Answer int

const (
	Continue Answer = iota
	Abort
	Yes
	No
)

// Query decides how the engine proceeds when persisted data is missing or
// inconsistent. The engine never discards unexplained data on its own.
type Query interface {
	// NoData is asked when a required crystal has no readable file.
	// Expected answers: Abort or Continue.
	NoData(ctx context.Context, key string) Answer

	// InconsistentJournal is asked when journal replay fails.
	// Expected answers: Abort or Continue.
	InconsistentJournal(ctx context.Context, key string) Answer

	// LoadBackup is asked before falling back to a history or backup file.
	// Expected answers: Yes or No.
	LoadBackup(ctx context.Context, key, path string) Answer
}

// DefaultQuery continues on every condition and accepts backups.
type DefaultQuery struct{}

func (DefaultQuery) NoData(ctx context.Context, key string) Answer              { return Continue }
func (DefaultQuery) InconsistentJournal(ctx context.Context, key string) Answer { return Continue }
func (DefaultQuery) LoadBackup(ctx context.Context, key, path string) Answer    { return Yes }

// AbortQuery aborts on every structural condition and refuses backups.
type AbortQuery struct{}

func (AbortQuery) NoData(ctx context.Context, key string) Answer              { return Abort }
func (AbortQuery) InconsistentJournal(ctx context.Context, key string) Answer { return Abort }
func (AbortQuery) LoadBackup(ctx context.Context, key, path string) Answer    { return No }

// CachedQuery remembers the first answer per condition kind so an operator is
// asked once per run.
type CachedQuery struct {
	inner   Query
	mu      sync.Mutex
	answers map[QueryKind]Answer
}

// NewCachedQuery wraps inner.
func NewCachedQuery(inner Query) *CachedQuery {
	return &CachedQuery{inner: inner, answers: make(map[QueryKind]Answer)}
}

func (q *CachedQuery) ask(kind QueryKind, fn func() Answer) Answer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a, ok := q.answers[kind]; ok {
		return a
	}
	a := fn()
	q.answers[kind] = a
	return a
}

func (q *CachedQuery) NoData(ctx context.Context, key string) Answer {
	return q.ask(QueryNoData, func() Answer { return q.inner.NoData(ctx, key) })
}

func (q *CachedQuery) InconsistentJournal(ctx context.Context, key string) Answer {
	return q.ask(QueryInconsistentJournal, func() Answer { return q.inner.InconsistentJournal(ctx, key) })
}

func (q *CachedQuery) LoadBackup(ctx context.Context, key, path string) Answer {
	return q.ask(QueryLoadBackup, func() Answer { return q.inner.LoadBackup(ctx, key, path) })
}

// Reset clears the cached answers.
func (q *CachedQuery) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.answers = make(map[QueryKind]Answer)
}
