package client

import (
	"context"

	"github.com/coder/websocket"
)

// Channel is one open duplex connection to the server.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// WebSocketDialer dials with coder/websocket. It works natively and under
// js/wasm, where the browser's WebSocket is used underneath.
type WebSocketDialer struct{}

// Dial implements Dialer.
func (WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Agent replies can carry whole file contents.
	ws.SetReadLimit(16 << 20)
	return wsChannel{ws}, nil
}

type wsChannel struct {
	ws *websocket.Conn
}

func (c wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c wsChannel) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c wsChannel) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closed")
}
