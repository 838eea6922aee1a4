// Package capture bounds microphone access into start/stop recordings and
// finalizes them into encoded WAV clips.
package capture

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when microphone permission is denied
// or no input device exists.
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// Stream delivers raw PCM16LE mono chunks from an open input device.
type Stream interface {
	// Read blocks until the next chunk is available. It returns an error
	// once the stream is closed or the context is done.
	Read(ctx context.Context) ([]byte, error)
	SampleRate() int
	Close() error
}

// Device opens microphone streams. Implementations wrap whatever audio
// backend the host provides; tests and dev runs use MockDevice.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}
