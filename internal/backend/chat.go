package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antoniostano/profe/internal/conversation"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Level     string `json:"level"`
}

// DeltaHandler receives each reply fragment in arrival order.
type DeltaHandler func(delta string)

// StreamChat posts one user message and consumes the streamed reply body.
// Fragments are forwarded to onDelta exactly as they arrive, with no
// reordering or framing; the return value is their concatenation.
//
// A stream that breaks after at least one byte is a complete (possibly
// truncated) reply, not an error. A stream that closes before any byte
// arrived fails with ErrEmptyReply.
func (c *Client) StreamChat(ctx context.Context, message string, sess conversation.Session, onDelta DeltaHandler) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Message:   message,
		SessionID: sess.ID,
		Level:     sess.StudentLevel,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", &netError{endpoint: "chat", err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &netError{endpoint: "chat", err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			delta := string(buf[:n])
			out.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// Abrupt closure mid-stream: keep whatever accumulated.
			break
		}
	}

	if out.Len() == 0 {
		return "", ErrEmptyReply
	}
	return out.String(), nil
}
