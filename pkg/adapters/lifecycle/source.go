// Package lifecycle bridges crystalizer events into the lifecycle runtime.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

type crystalSource struct {
	events <-chan core.Event
	types  map[core.EventType]struct{}
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source emitting crystal events, typically
// Crystalizer.Events(). With types given, only those event types are
// forwarded.
func NewSource(events <-chan core.Event, types ...core.EventType) lifecycle.Source {
	s := &crystalSource{
		events: events,
		out:    make(chan lifecycle.Event),
	}
	if len(types) > 0 {
		s.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	return s
}

func (s *crystalSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *crystalSource) accepts(e core.Event) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[e.Type]
	return ok
}

func (s *crystalSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if !s.accepts(e) {
					continue
				}
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
