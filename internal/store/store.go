package store

import (
	"context"

	"liqflow/internal/models"
)

// Store retains the most recent liquidations, newest first.
type Store interface {
	Append(ctx context.Context, ev models.Liquidation) error
	// Snapshot returns up to n events, most recent first. The returned slice
	// is owned by the caller.
	Snapshot(ctx context.Context, n int) ([]models.Liquidation, error)
	Capacity() int
}
