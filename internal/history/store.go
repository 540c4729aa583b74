//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package history

import (
	"context"
	"errors"

	"github.com/aura-chat/backend/internal/event"
)

// ErrStorageFailure wraps any backend fault while appending or reading history.
var ErrStorageFailure = errors.New("history storage failure")

// Store is the append-only, totally ordered log of past events.
type Store interface {
	// Append stores e at the end of the log and returns its sequence number.
	// Sequence numbers start at 1 and only grow.
	Append(ctx context.Context, e event.Event) (int64, error)
	// Snapshot returns every stored event in append order.
	Snapshot(ctx context.Context) ([]event.Event, error)
}
