// Package pubsub fans out pool snapshots after each committed mutation.
package pubsub

import (
	"context"

	"poolScope/internal/model"
)

// Publisher delivers snapshots. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, snapshot model.PoolSnapshot) error
	Close() error
}

// Nop discards every snapshot.
type Nop struct{}

func (Nop) Publish(context.Context, model.PoolSnapshot) error { return nil }

func (Nop) Close() error { return nil }
