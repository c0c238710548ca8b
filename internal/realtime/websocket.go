package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// WebsocketDialer dials with nhooyr.io/websocket.
type WebsocketDialer struct {
	// HTTPClient is used for the upgrade request. Nil uses the default.
	HTTPClient *http.Client

	// ReadLimit caps inbound frame size in bytes. Zero keeps the library
	// default.
	ReadLimit int64
}

// Dial opens a websocket to url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, translateError(err)
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *websocketConn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return translateError(err)
	}
	return nil
}

func (c *websocketConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func translateError(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return &CloseError{Code: int(closeErr.Code), Reason: closeErr.Reason}
	}
	return err
}
