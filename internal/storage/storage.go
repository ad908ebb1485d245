// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOpen is returned when a second open position is saved for
	// an asset that already has one.
	ErrDuplicateOpen = errors.New("asset already has an open position")
)

// PositionStore persists ledger positions. Save is an upsert keyed by
// position id.
type PositionStore interface {
	position.Store
	Get(ctx context.Context, id string) (position.Position, error)
	ListClosed(ctx context.Context, since time.Time) ([]position.Position, error)
	Close() error
}
