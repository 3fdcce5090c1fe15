// Package messaging defines the task queue used between the API and the
// analysis workers.
package messaging

import (
	"context"
)

// Broker moves opaque messages through named point-to-point queues. Each
// message is delivered to one subscriber.
type Broker interface {
	Publish(ctx context.Context, queue string, message []byte) error
	// Subscribe streams messages until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
