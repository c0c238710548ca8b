package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Close codes with protocol meaning.
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseAuthRequired = 4401
	closeAuthzMin     = 4400
	closeAuthzMax     = 4499
)

// ErrClosed is returned by Conn operations on a closed connection.
var ErrClosed = errors.New("realtime: connection closed")

// CloseError reports that the peer closed the socket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed with code %d", e.Code)
	}
	return fmt.Sprintf("websocket closed with code %d: %s", e.Code, e.Reason)
}

// HandshakeError reports a rejected upgrade request.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected with status %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

type failureClass int

const (
	failureTransient failureClass = iota
	failureNormal
	failureAuth
	failureAuthz
)

// classify maps a socket failure to how the manager reacts to it.
func classify(err error) failureClass {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == CloseNormal:
			return failureNormal
		case closeErr.Code == CloseAuthRequired:
			return failureAuth
		case closeErr.Code >= closeAuthzMin && closeErr.Code <= closeAuthzMax:
			return failureAuthz
		}
		return failureTransient
	}
	var handshakeErr *HandshakeError
	if errors.As(err, &handshakeErr) {
		switch handshakeErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return failureAuth
		}
	}
	return failureTransient
}

var authHints = []string{"auth", "unauthorized", "forbidden", "login", "token expired", "credential"}

// looksLikeAuth reports whether a server error message asks for a new login.
func looksLikeAuth(message string) bool {
	lower := strings.ToLower(message)
	for _, hint := range authHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
