package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/cmdgate/cmdgate/pkg/types"
)

type fakeEventStore struct {
	appendErr error
	appended  int
	closed    bool
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	f.appended++
	return f.appendErr
}
func (f *fakeEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return []types.Event{{ID: "x"}}, nil
}
func (f *fakeEventStore) Close() error { f.closed = true; return nil }

func TestAppendEventCollectsFirstError(t *testing.T) {
	primary := &fakeEventStore{appendErr: errors.New("primary")}
	secondary := &fakeEventStore{appendErr: errors.New("secondary")}
	s := New(primary, secondary)

	err := s.AppendEvent(context.Background(), types.Event{ID: "1"})
	if err == nil || err.Error() != "primary" {
		t.Fatalf("expected primary error, got %v", err)
	}
	if primary.appended != 1 || secondary.appended != 1 {
		t.Fatalf("expected both stores to receive append, got %d %d", primary.appended, secondary.appended)
	}
}

func TestQueryGoesToPrimary(t *testing.T) {
	s := New(&fakeEventStore{}, &fakeEventStore{})
	got, err := s.QueryEvents(context.Background(), types.EventQuery{})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "x" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestCloseClosesAllStores(t *testing.T) {
	primary := &fakeEventStore{}
	secondary := &fakeEventStore{}
	s := New(primary, secondary)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primary.closed || !secondary.closed {
		t.Fatal("expected all stores closed")
	}
}
