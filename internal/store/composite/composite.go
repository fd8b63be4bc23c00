// Package composite fans appends out to every configured store.
// Queries are answered by the primary store alone.
package composite

import (
	"context"

	"github.com/cmdgate/cmdgate/internal/store"
	"github.com/cmdgate/cmdgate/pkg/types"
)

type Store struct {
	primary store.EventStore
	others  []store.EventStore
}

func New(primary store.EventStore, others ...store.EventStore) *Store {
	return &Store{primary: primary, others: others}
}

// AppendEvent writes to every store. The first error is reported, but
// all stores are attempted regardless.
func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	var firstErr error
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		firstErr = err
	}
	for _, o := range s.others {
		if err := o.AppendEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.primary.QueryEvents(ctx, q)
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.primary.Close(); err != nil {
		firstErr = err
	}
	for _, o := range s.others {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
