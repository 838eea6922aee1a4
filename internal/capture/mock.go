package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// MockDevice synthesizes a steady tone so the voice path can be exercised
// without microphone hardware.
type MockDevice struct {
	SampleRate int
	ChunkEvery time.Duration
	Amplitude  float64
}

func NewMockDevice(sampleRate int) *MockDevice {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MockDevice{
		SampleRate: sampleRate,
		ChunkEvery: 20 * time.Millisecond,
		Amplitude:  0.3,
	}
}

func (d *MockDevice) Open(_ context.Context) (Stream, error) {
	return &mockStream{
		rate:      d.SampleRate,
		interval:  d.ChunkEvery,
		amplitude: d.Amplitude,
		closed:    make(chan struct{}),
	}, nil
}

type mockStream struct {
	rate      int
	interval  time.Duration
	amplitude float64
	phase     float64

	mu     sync.Mutex
	closed chan struct{}
	done   bool
}

var errStreamClosed = errors.New("capture stream closed")

func (s *mockStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, errStreamClosed
	case <-time.After(s.interval):
	}

	samples := int(float64(s.rate) * s.interval.Seconds())
	if samples <= 0 {
		samples = 1
	}
	chunk := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// 220Hz tone, loud enough to clear any reasonable silence gate.
		v := s.amplitude * math.Sin(s.phase)
		s.phase += 2 * math.Pi * 220 / float64(s.rate)
		sample := int16(v * 32767)
		chunk[2*i] = byte(uint16(sample))
		chunk[2*i+1] = byte(uint16(sample) >> 8)
	}
	return chunk, nil
}

func (s *mockStream) SampleRate() int { return s.rate }

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.closed)
	}
	return nil
}

// UnavailableDevice always fails to open, standing in for a denied or
// absent microphone.
type UnavailableDevice struct{}

func (UnavailableDevice) Open(context.Context) (Stream, error) {
	return nil, ErrDeviceUnavailable
}
