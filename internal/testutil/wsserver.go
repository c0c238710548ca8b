package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"nhooyr.io/websocket"
)

// WSServer is a loopback websocket endpoint for tests.
type WSServer struct {
	*httptest.Server

	mu      sync.Mutex
	headers []http.Header
	reject  int
}

// NewWSServer starts a server that upgrades every request and hands the
// connection to serve. The connection is closed when serve returns.
func NewWSServer(t *testing.T, serve func(ctx context.Context, conn *websocket.Conn)) *WSServer {
	t.Helper()
	SkipIfNoNetwork(t)

	s := &WSServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.headers = append(s.headers, r.Header.Clone())
		reject := s.reject
		s.mu.Unlock()
		if reject != 0 {
			http.Error(w, http.StatusText(reject), reject)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("websocket accept: %v", err)
			return
		}
		defer conn.CloseNow()
		serve(r.Context(), conn)
	}))
	t.Cleanup(s.Close)
	return s
}

// WSURL returns the ws:// address of the server.
func (s *WSServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Reject makes subsequent upgrade requests fail with status.
func (s *WSServer) Reject(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = status
}

// Headers returns the request headers seen so far.
func (s *WSServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}
