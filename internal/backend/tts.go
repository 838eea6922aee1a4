package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type speakRequest struct {
	Text string `json:"text"`
}

type speakResponse struct {
	AudioURL string `json:"audio_url"`
}

// Speak asks the backend to synthesize the reply and returns the audio
// path the playback layer dereferences. Any failure, including an empty
// path in a 2xx response, maps to ErrSynthesisUnavailable so the caller
// can finish the turn without speech.
func (c *Client) Speak(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrSynthesisUnavailable
	}

	payload, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/audio/speak", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create speak request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrSynthesisUnavailable, res.StatusCode)
	}

	var parsed speakResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	if strings.TrimSpace(parsed.AudioURL) == "" {
		return "", fmt.Errorf("%w: empty audio_url", ErrSynthesisUnavailable)
	}
	return parsed.AudioURL, nil
}
