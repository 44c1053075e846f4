package stream

import "fmt"

// HandshakeError is a failure to establish the data connection (channel
// creation, dial, protocol handshake).
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("handshake: %v", e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }

// SubscribeError is a topic subscription rejection or ack timeout.
type SubscribeError struct {
	Err error
}

func (e *SubscribeError) Error() string { return fmt.Sprintf("subscribe: %v", e.Err) }
func (e *SubscribeError) Unwrap() error { return e.Err }

// ReadError is a mid-stream failure: server close, transport error, or a
// keep-alive deadline exceeded.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }
