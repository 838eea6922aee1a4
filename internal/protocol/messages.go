// Package protocol defines the websocket payloads exchanged with the
// rendering/presentation layer.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/profe/internal/animator"
	"github.com/antoniostano/profe/internal/history"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound, from the presentation layer.
	TypeTextSubmit    MessageType = "text_submit"
	TypeVoicePress    MessageType = "voice_press"
	TypeVoiceRelease  MessageType = "voice_release"
	TypePlaybackEnded MessageType = "playback_ended"
	TypePointerMove   MessageType = "pointer_move"
	TypeAudioSpectrum MessageType = "audio_spectrum"

	// Outbound, to the presentation layer.
	TypeStatusChanged      MessageType = "status_changed"
	TypeHistorySnapshot    MessageType = "history_snapshot"
	TypeMessageAppended    MessageType = "message_appended"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeSpeak              MessageType = "speak"
	TypeAnimationFrame     MessageType = "animation_frame"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type TextSubmit struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type VoicePress struct {
	Type MessageType `json:"type"`
}

type VoiceRelease struct {
	Type MessageType `json:"type"`
}

type PlaybackEnded struct {
	Type MessageType `json:"type"`
}

type PointerMove struct {
	Type MessageType `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

type AudioSpectrum struct {
	Type       MessageType `json:"type"`
	BinsBase64 string      `json:"bins_base64"`

	// Bins is decoded during parsing and never serialized.
	Bins []byte `json:"-"`
}

type StatusChanged struct {
	Type    MessageType `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Trigger string      `json:"trigger"`
}

type HistorySnapshot struct {
	Type     MessageType       `json:"type"`
	Messages []history.Message `json:"messages"`
}

type MessageAppended struct {
	Type    MessageType     `json:"type"`
	Message history.Message `json:"message"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type Speak struct {
	Type     MessageType `json:"type"`
	TurnID   string      `json:"turn_id"`
	AudioURL string      `json:"audio_url"`
}

type AnimationFrame struct {
	Type   MessageType   `json:"type"`
	Speech float64       `json:"speech"`
	Blink  float64       `json:"blink"`
	Smile  float64       `json:"smile"`
	Gaze   animator.Gaze `json:"gaze"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTextSubmit:
		var msg TextSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("text_submit requires text")
		}
		return msg, nil
	case TypeVoicePress:
		return VoicePress{Type: TypeVoicePress}, nil
	case TypeVoiceRelease:
		return VoiceRelease{Type: TypeVoiceRelease}, nil
	case TypePlaybackEnded:
		return PlaybackEnded{Type: TypePlaybackEnded}, nil
	case TypePointerMove:
		var msg PointerMove
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.X < -1 || msg.X > 1 || msg.Y < -1 || msg.Y > 1 {
			return nil, errors.New("pointer_move coordinates must be in [-1,1]")
		}
		return msg, nil
	case TypeAudioSpectrum:
		var msg AudioSpectrum
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		bins, err := base64.StdEncoding.DecodeString(msg.BinsBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid spectrum encoding: %w", err)
		}
		msg.Bins = bins
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// MessageTypeOf reports the type tag of any protocol value, for metrics.
func MessageTypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case TextSubmit:
		return m.Type, true
	case VoicePress:
		return m.Type, true
	case VoiceRelease:
		return m.Type, true
	case PlaybackEnded:
		return m.Type, true
	case PointerMove:
		return m.Type, true
	case AudioSpectrum:
		return m.Type, true
	case StatusChanged:
		return m.Type, true
	case HistorySnapshot:
		return m.Type, true
	case MessageAppended:
		return m.Type, true
	case AssistantTextDelta:
		return m.Type, true
	case Speak:
		return m.Type, true
	case AnimationFrame:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

// Critical reports whether an outbound message must never be dropped by
// a saturated writer queue. Frame traffic is disposable; state, history
// and error events are not.
func Critical(v any) bool {
	switch v.(type) {
	case AnimationFrame:
		return false
	case AssistantTextDelta:
		// Deltas are cosmetic; the full reply arrives via history.
		return false
	default:
		return true
	}
}
