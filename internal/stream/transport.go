// Package stream owns the streaming session to the notification source:
// transport abstraction, connection manager state machine, and the concrete
// Genesys websocket and NATS transports.
package stream

import "context"

// Conn is one established streaming session. Connections are single-use: the
// manager closes and replaces them wholesale on any failure, never reusing
// transport state across reconnects.
type Conn interface {
	// Subscribe registers the desired topics and waits for acknowledgment.
	// The caller bounds the wait via ctx. A partial ack is a failure.
	Subscribe(ctx context.Context, topics []string) error
	// Read blocks for the next data frame. The caller applies the keep-alive
	// deadline via ctx.
	Read(ctx context.Context) ([]byte, error)
	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Transport establishes streaming sessions. Implementations surface typed
// errors (*HandshakeError, *SubscribeError, *ReadError, *auth.Error) so the
// manager can log failure classes distinctly.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}
