package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndQueryEvents(t *testing.T) {
	s := openTestStore(t)

	ev := types.Event{
		ID:        "evt1",
		Timestamp: time.Now().UTC(),
		Type:      "policy_decision",
		CommandID: "cmd1",
		Decision:  types.ActionAllow,
		Pattern:   "echo *",
		Shell:     "powershell",
		Command:   "echo hello",
	}
	if err := s.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := s.QueryEvents(context.Background(), types.EventQuery{CommandID: "cmd1"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID || got[0].Pattern != "echo *" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestAppendRejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	if err := s.AppendEvent(context.Background(), types.Event{Type: "policy_decision"}); err == nil {
		t.Fatal("expected error for event without id")
	}
}

func TestQueryFilters(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	decisions := []types.Action{types.ActionAllow, types.ActionDeny, types.ActionDeny}
	for i, d := range decisions {
		ev := types.Event{
			ID:        fmt.Sprintf("evt%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      "policy_decision",
			Decision:  d,
			Command:   fmt.Sprintf("command %d", i),
		}
		if err := s.AppendEvent(context.Background(), ev); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	deny := types.ActionDeny
	got, err := s.QueryEvents(context.Background(), types.EventQuery{Decision: &deny, Asc: true})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "evt1" || got[1].ID != "evt2" {
		t.Fatalf("unexpected deny events: %+v", got)
	}

	since := base.Add(1500 * time.Millisecond)
	got, err = s.QueryEvents(context.Background(), types.EventQuery{Since: &since})
	if err != nil {
		t.Fatalf("QueryEvents since: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt2" {
		t.Fatalf("unexpected since events: %+v", got)
	}

	got, err = s.QueryEvents(context.Background(), types.EventQuery{CommandLike: "%command 0%"})
	if err != nil {
		t.Fatalf("QueryEvents commandLike: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt0" {
		t.Fatalf("unexpected commandLike events: %+v", got)
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ev := types.Event{
			ID:        fmt.Sprintf("evt%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      "command_end",
		}
		if err := s.AppendEvent(context.Background(), ev); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	got, err := s.QueryEvents(context.Background(), types.EventQuery{Limit: 2})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != "evt4" || got[1].ID != "evt3" {
		t.Fatalf("expected newest first, got: %+v", got)
	}

	got, err = s.QueryEvents(context.Background(), types.EventQuery{Limit: 2, Offset: 2, Asc: true})
	if err != nil {
		t.Fatalf("QueryEvents offset: %v", err)
	}
	if len(got) != 2 || got[0].ID != "evt2" {
		t.Fatalf("unexpected page: %+v", got)
	}
}
