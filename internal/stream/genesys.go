package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/groblegark/hookrelay/internal/genesys"
)

// maxFrameBytes bounds a single notification frame. Operational events are
// small; anything past this is a stream gone wrong.
const maxFrameBytes = 1 << 20

// GenesysTransport establishes sessions against the Genesys Cloud
// notification service: create a channel over the REST API, then dial the
// channel's websocket URI. Channels expire server-side, so every session gets
// a fresh one.
type GenesysTransport struct {
	client *genesys.Client
	log    *slog.Logger
}

func NewGenesysTransport(c *genesys.Client, log *slog.Logger) *GenesysTransport {
	return &GenesysTransport{client: c, log: log}
}

func (t *GenesysTransport) Connect(ctx context.Context) (Conn, error) {
	ch, err := t.client.CreateChannel(ctx)
	if err != nil {
		return nil, &HandshakeError{Err: fmt.Errorf("create channel: %w", err)}
	}
	ws, _, err := websocket.Dial(ctx, ch.ConnectURI, nil)
	if err != nil {
		return nil, &HandshakeError{Err: fmt.Errorf("dial %s: %w", ch.ConnectURI, err)}
	}
	ws.SetReadLimit(maxFrameBytes)
	t.log.Debug("notification channel open", "channel", ch.ID)
	return &genesysConn{client: t.client, channelID: ch.ID, ws: ws}, nil
}

type genesysConn struct {
	client    *genesys.Client
	channelID string
	ws        *websocket.Conn
}

// Subscribe replaces the channel's entire topic set. Genesys has no
// incremental add; the PUT is the acknowledgment.
func (c *genesysConn) Subscribe(ctx context.Context, topics []string) error {
	if err := c.client.PutSubscriptions(ctx, c.channelID, topics); err != nil {
		return &SubscribeError{Err: err}
	}
	return nil
}

func (c *genesysConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, &ReadError{Err: err}
	}
	return data, nil
}

func (c *genesysConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "shutting down")
}
