package realtime

import (
	"context"
	"net/http"
)

// Conn is an open push channel socket carrying text frames. Write may be
// called concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens sockets. A rejected upgrade is reported as *HandshakeError
// and a peer close as *CloseError from Conn.Read.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Redirector sends the user to re-authenticate.
type Redirector interface {
	RedirectToLogin(reason string)
}

// RedirectorFunc adapts a function to Redirector.
type RedirectorFunc func(reason string)

// RedirectToLogin calls f(reason).
func (f RedirectorFunc) RedirectToLogin(reason string) {
	f(reason)
}

// Handler receives inbound traffic. Either field may be nil.
type Handler struct {
	// OnFrame is called for timeline, processing and stream frames.
	OnFrame func(Frame)

	// OnResync asks the consumer to reconcile by pulling history.
	OnResync func(reason string)
}
