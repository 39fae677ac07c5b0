package connection

import (
	"context"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/handlers"
)

// Transport is the client side of a session with the game server.
type Transport interface {
	// Connect blocks until the session is established or fails.
	Connect(ctx context.Context, address string, port uint16) error

	// Send must not retain data after returning; callers reuse the buffer.
	Send(data []byte, channel handlers.DeliveryChannel) error

	// Incoming is drained once per tick. It is closed when the session ends.
	Incoming() <-chan []byte

	Close() error
}

type SceneLoadResult struct {
	SceneId uuid.UUID
	Scene   any
	Err     error
}

// SceneLoader loads the in-game scene once the handshake has finished. The returned channel
// receives exactly one result.
type SceneLoader interface {
	LoadSceneAsync(ctx context.Context, sceneId uuid.UUID) <-chan SceneLoadResult
}
