// Package backend holds the thin HTTP adapters to the tutoring backend:
// streamed chat, speech transcription and speech synthesis.
package backend

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyReply is returned when the chat stream closes before a single
// byte of reply arrived.
var ErrEmptyReply = errors.New("chat stream closed with empty reply")

// ErrSynthesisUnavailable is returned when the speech endpoint fails or
// yields no playable path. Callers treat it as non-fatal: the textual
// reply stands, the turn just ends without speech.
var ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

// netError wraps transport-level failures of any backend call.
type netError struct {
	endpoint string
	err      error
}

func (e *netError) Error() string {
	return "backend " + e.endpoint + ": " + e.err.Error()
}

func (e *netError) Unwrap() error { return e.err }

// IsNetworkFailure reports whether err is a transport-level backend
// failure, as opposed to a semantic one like ErrEmptyReply.
func IsNetworkFailure(err error) bool {
	var ne *netError
	return errors.As(err, &ne)
}

// Client issues requests against the tutoring backend.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}
