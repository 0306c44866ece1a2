// internal/lobby/errors.go
package lobby

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a command failure. The string value is the wire code sent to clients.
type Kind string

const (
	KindNotFound       Kind = "NotFound"
	KindLobbyFull      Kind = "LobbyFull"
	KindLobbyClosed    Kind = "LobbyClosed"
	KindAlreadyInLobby Kind = "AlreadyInLobby"
	KindNotHost        Kind = "NotHost"
	KindNotReady       Kind = "NotReady"
	KindNoSuchPlayer   Kind = "NoSuchPlayer"
	KindTimeout        Kind = "Timeout"
	KindTransient      Kind = "Transient"
	KindInvalidRequest Kind = "InvalidRequest"
	KindUnauthorized   Kind = "Unauthorized"
)

// Error is returned synchronously to the client that issued a command. It is never broadcast.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrLobbyFull) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrLobbyFull      = &Error{Kind: KindLobbyFull}
	ErrLobbyClosed    = &Error{Kind: KindLobbyClosed}
	ErrAlreadyInLobby = &Error{Kind: KindAlreadyInLobby}
	ErrNotHost        = &Error{Kind: KindNotHost}
	ErrNotReady       = &Error{Kind: KindNotReady}
	ErrNoSuchPlayer   = &Error{Kind: KindNoSuchPlayer}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrTransient      = &Error{Kind: KindTransient}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err. Anything that is not a *Error is reported as Transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// StatusCode maps an error kind to the HTTP status used by the polling surface.
func StatusCode(kind Kind) int {
	switch kind {
	case KindNotFound, KindNoSuchPlayer:
		return http.StatusNotFound
	case KindLobbyFull, KindAlreadyInLobby, KindNotReady:
		return http.StatusConflict
	case KindLobbyClosed:
		return http.StatusGone
	case KindNotHost:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusServiceUnavailable
	}
}
