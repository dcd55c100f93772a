package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. The queue layer uses it
// to wake pollers when new work arrives; the API uses it to fan out progress
// updates without hitting the store.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
