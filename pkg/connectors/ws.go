package connectors

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WS is a thin wrapper around a single websocket connection.
// Reconnection policy lives in the caller.
type WS struct {
	conn *websocket.Conn
}

func (ws *WS) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			body, errR := io.ReadAll(resp.Body)
			resp.Body.Close()
			if errR == nil {
				return errors.Wrapf(err, "got message connecting to ws: %q", string(body))
			}
		}

		return errors.Wrap(err, "websocket dial failed")
	}

	ws.conn = conn
	return nil
}

func (ws *WS) Listen(ctx context.Context, ch chan<- []byte) error {
	for {
		_, msg, err := ws.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrap(err, "websocket read error")
		}

		select {
		case ch <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (ws *WS) Write(ctx context.Context, msg []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.conn.SetWriteDeadline(deadline)
	}
	return ws.conn.WriteMessage(websocket.TextMessage, msg)
}

func (ws *WS) Close() error {
	if ws.conn == nil {
		return nil
	}
	return ws.conn.Close()
}
