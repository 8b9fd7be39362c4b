package memory

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// retryInterval is both the minimum spacing between two attempts on the same
// object and the pause after a pass without progress.
const retryInterval = time.Second

type unloadTask struct {
	obj            Object
	firstContended time.Time
	lastAttempt    time.Time
	index          int
}

// taskQueue is a min-heap of tasks ordered by last attempt.
type taskQueue []*unloadTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].lastAttempt.Before(q[j].lastAttempt)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*unloadTask)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Drain unloads every tracked object, retrying contended ones. An object that
// stays contended for longer than timeout is force-unloaded. Drain returns
// once nothing is left or ctx is done.
func (c *Control) Drain(ctx context.Context, timeout time.Duration) error {
	objects := c.Objects()
	if len(objects) == 0 {
		return nil
	}

	q := make(taskQueue, 0, len(objects))
	for _, obj := range objects {
		heap.Push(&q, &unloadTask{obj: obj})
	}
	c.logger.Debug("draining", "objects", len(objects), "timeout", timeout)

	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		progress := false
		now := c.clock.Now()
		var retry []*unloadTask
		for q.Len() > 0 {
			t := heap.Pop(&q).(*unloadTask)
			if !t.lastAttempt.IsZero() && now.Sub(t.lastAttempt) < retryInterval {
				// Ordered by last attempt: the rest are even more recent.
				retry = append(retry, t)
				break
			}
			t.lastAttempt = now

			if !t.firstContended.IsZero() && now.Sub(t.firstContended) > timeout {
				c.forceUnload(ctx, t, now)
				progress = true
				continue
			}

			err := c.unloadOne(ctx, t.obj)
			switch {
			case err == nil:
				// The object normally reports itself; make sure it is no longer counted.
				c.Unregister(t.obj)
				progress = true
				continue
			case errors.Is(err, core.ErrDataIsLocked):
				if h, ok := t.obj.(Hinter); ok {
					h.HintForceUnload()
				}
			default:
				c.logger.Warn("unload failed during drain", "type", typeKey(t.obj), "error", err)
			}
			// Failures of any kind count toward the timeout so the drain ends.
			if t.firstContended.IsZero() {
				t.firstContended = now
			}
			retry = append(retry, t)
		}
		for _, t := range retry {
			heap.Push(&q, t)
		}

		if !progress && q.Len() > 0 {
			if !c.clock.Sleep(ctx.Done(), retryInterval) {
				return ctx.Err()
			}
		}
	}
	return nil
}

func (c *Control) unloadOne(ctx context.Context, obj Object) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)
	return obj.TryUnload(ctx)
}

func (c *Control) forceUnload(ctx context.Context, t *unloadTask, now time.Time) {
	err := t.obj.ForceUnload(ctx)
	c.logger.Error("force-unloaded",
		"type", typeKey(t.obj),
		"contended", now.Sub(t.firstContended),
		"error", err,
	)
	metrics.RecordForceUnload(c.metrics)
	metrics.RecordEviction(c.metrics, "forced")
	// A failed forced unload must not keep the object accounted.
	c.Unregister(t.obj)
}
