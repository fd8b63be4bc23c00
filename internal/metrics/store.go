package metrics

import (
	"context"

	"github.com/cmdgate/cmdgate/internal/store"
	"github.com/cmdgate/cmdgate/pkg/types"
)

type wrappedEventStore struct {
	inner store.EventStore
	c     *Collector
}

// WrapEventStore counts every appended event on its way into the store.
func WrapEventStore(inner store.EventStore, c *Collector) store.EventStore {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &wrappedEventStore{inner: inner, c: c}
}

func (w *wrappedEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	w.c.IncEvent(ev.Type)
	if ev.Decision != "" {
		w.c.IncDecision(ev.Decision)
	}
	return w.inner.AppendEvent(ctx, ev)
}

func (w *wrappedEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return w.inner.QueryEvents(ctx, q)
}

func (w *wrappedEventStore) Close() error { return w.inner.Close() }
