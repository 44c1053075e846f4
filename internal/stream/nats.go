package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// flushTimeout bounds the subscription flush when the caller's context
// carries no deadline of its own.
const flushTimeout = 10 * time.Second

// NATSTransport is the local development transport: topics map to NATS
// subjects and payloads are wrapped into notification envelopes. Reconnection
// is disabled on the client because the manager owns the reconnect loop; a
// dropped NATS connection must surface as a session failure, not heal
// silently underneath it.
type NATSTransport struct {
	url string
	log *slog.Logger
}

func NewNATSTransport(url string, log *slog.Logger) *NATSTransport {
	return &NATSTransport{url: url, log: log}
}

func (t *NATSTransport) Connect(ctx context.Context) (Conn, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(t.url,
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, &HandshakeError{Err: fmt.Errorf("connecting to NATS at %s: %w", t.url, err)}
	}
	t.log.Debug("nats connected", "url", t.url)
	return &natsConn{
		nc:     nc,
		msgs:   make(chan *nats.Msg, 64),
		closed: closed,
	}, nil
}

type natsConn struct {
	nc     *nats.Conn
	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	closed chan struct{}
}

func (c *natsConn) Subscribe(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		sub, err := c.nc.ChanSubscribe(topic, c.msgs)
		if err != nil {
			return &SubscribeError{Err: fmt.Errorf("subscribing to %s: %w", topic, err)}
		}
		c.subs = append(c.subs, sub)
	}
	// Flush ensures the subscriptions are registered on the server before
	// returning, so that messages published on other connections are routed.
	// FlushWithContext rejects contexts without a deadline, so fall back to a
	// fixed timeout for those.
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = c.nc.FlushWithContext(ctx)
	} else {
		err = c.nc.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return &SubscribeError{Err: fmt.Errorf("flushing subscriptions: %w", err)}
	}
	return nil
}

func (c *natsConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return wrapEnvelope(msg.Subject, msg.Data), nil
	case <-c.closed:
		return nil, &ReadError{Err: fmt.Errorf("nats connection closed")}
	case <-ctx.Done():
		return nil, &ReadError{Err: ctx.Err()}
	}
}

// wrapEnvelope presents a NATS message the way the notification service
// frames it, so downstream normalization sees one shape regardless of
// transport.
func wrapEnvelope(subject string, data []byte) []byte {
	body := json.RawMessage(data)
	if !json.Valid(data) {
		quoted, _ := json.Marshal(string(data))
		body = quoted
	}
	frame, _ := json.Marshal(map[string]any{
		"topicName": subject,
		"eventBody": body,
	})
	return frame
}

func (c *natsConn) Close() error {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.nc.Close()
	return nil
}
