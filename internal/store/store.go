package store

import (
	"context"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// EventStore persists the audit trail of policy decisions and command
// lifecycle events. Implementations that cannot answer queries return
// an error from QueryEvents.
type EventStore interface {
	AppendEvent(ctx context.Context, ev types.Event) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error)
	Close() error
}
