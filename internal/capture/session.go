package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyRecording is returned by Start while a recording is open.
var ErrAlreadyRecording = errors.New("recording already in progress")

// Clip is one finalized recording.
type Clip struct {
	WAV        []byte
	SampleRate int
	RMS        float64
}

// Empty reports whether the clip carries no audio samples.
func (c Clip) Empty() bool {
	return len(c.WAV) <= wavHeaderSize
}

const wavHeaderSize = 44

// Session wraps a Device into a start/stop-bounded recording. The device
// is held exclusively between Start and Stop and released on every exit
// path, including reader errors and abandoned recordings.
type Session struct {
	device      Device
	maxDuration time.Duration

	mu        sync.Mutex
	stream    Stream
	closeOnce *sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	chunks    [][]byte
	rate      int
}

func NewSession(device Device, maxDuration time.Duration) *Session {
	if maxDuration <= 0 {
		maxDuration = 30 * time.Second
	}
	return &Session{device: device, maxDuration: maxDuration}
}

// Start acquires the input device and begins buffering chunks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrAlreadyRecording
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	readCtx, cancel := context.WithTimeout(context.Background(), s.maxDuration)
	once := &sync.Once{}
	done := make(chan struct{})

	s.stream = stream
	s.closeOnce = once
	s.cancel = cancel
	s.done = done
	s.chunks = nil
	s.rate = stream.SampleRate()

	go func() {
		defer close(done)
		// The stream is closed here too so an abandoned recording cannot
		// hold the device past maxDuration.
		defer once.Do(func() { _ = stream.Close() })
		for {
			chunk, err := stream.Read(readCtx)
			if err != nil {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			buf := make([]byte, len(chunk))
			copy(buf, chunk)

			s.mu.Lock()
			s.chunks = append(s.chunks, buf)
			s.mu.Unlock()
		}
	}()

	return nil
}

// Stop finalizes the buffered chunks into one WAV clip and releases the
// device. Without a prior successful Start it returns an empty clip and
// no error.
func (s *Session) Stop() (Clip, error) {
	s.mu.Lock()
	stream := s.stream
	once := s.closeOnce
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if stream == nil {
		return Clip{}, nil
	}

	cancel()
	once.Do(func() { _ = stream.Close() })
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()

	var pcm []byte
	for _, chunk := range s.chunks {
		pcm = append(pcm, chunk...)
	}
	rate := s.rate

	s.stream = nil
	s.closeOnce = nil
	s.cancel = nil
	s.done = nil
	s.chunks = nil
	s.rate = 0

	return Clip{
		WAV:        encodeWAV(pcm, rate),
		SampleRate: rate,
		RMS:        rmsLevel(pcm),
	}, nil
}

// Recording reports whether a recording is currently open.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}
