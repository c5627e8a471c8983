// Package publisher declares the completion-event publisher interface.
// Publishing is optional; the harvester emits one event per finished job
// when a topic is configured.
package publisher

import "context"

// Publisher emits one event per published payload and returns the backend's
// message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
