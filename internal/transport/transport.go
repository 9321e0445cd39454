// Package transport defines the interface for user-facing surfaces.
//
// Each transport (HTTP/WebSocket, gRPC) accepts triggers from clients and
// runs them through a session obtained from the shared session manager. The
// pipeline doesn't care how triggers arrive; it only works with sessions.
package transport

import (
	"context"

	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting requests and serves them through sessions
	// from the manager. It blocks until the context is cancelled.
	Listen(ctx context.Context, sessions *session.Manager) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
