package protocol

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-rod/rod/lib/cdp"
)

// Transport carries whole JSON messages. Send is never called
// concurrently; Read is called from a single goroutine.
type Transport interface {
	Send(msg []byte) error
	Read() ([]byte, error)
	Close() error
}

// Dial opens a websocket to url and returns a client reading from it.
// header is sent with the upgrade request and may be nil.
func Dial(ctx context.Context, url string, header http.Header, opts ...Option) (*Client, error) {
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, url, header); err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return New(ws, opts...), nil
}
