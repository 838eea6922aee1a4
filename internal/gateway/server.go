// Package gateway exposes the conversation core to the rendering layer:
// an HTTP surface for health and performance probes plus the websocket
// the renderer drives the avatar through.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/profe/internal/animator"
	"github.com/antoniostano/profe/internal/config"
	"github.com/antoniostano/profe/internal/observability"
	"github.com/antoniostano/profe/internal/protocol"
	"github.com/antoniostano/profe/internal/tutor"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type Server struct {
	cfg      config.Config
	orch     *tutor.Orchestrator
	animator *animator.Animator
	spectrum *animator.SpectrumNode
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	upgrader websocket.Upgrader

	mu       sync.Mutex
	pointer  animator.Pointer
	renderer bool
}

func New(
	cfg config.Config,
	orch *tutor.Orchestrator,
	anim *animator.Animator,
	spectrum *animator.SpectrumNode,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
) *Server {
	return &Server{
		cfg:      cfg,
		orch:     orch,
		animator: anim,
		spectrum: spectrum,
		metrics:  metrics,
		stages:   stages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers (or non-browser clients,
				// which omit Origin) may drive the avatar session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/avatar/ws", s.handleAvatarWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"conversation":       string(s.orch.Status()),
		"renderer_connected": renderer,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": s.orch.Session().ID,
		"messages":   s.orch.History().All(),
	})
}

// handleAvatarWS runs the single renderer connection: a writer goroutine
// multiplexes orchestrator events with per-frame animation updates, a
// dispatcher applies control triggers in arrival order, and the read
// loop feeds both plus the data-plane pointer/spectrum updates.
func (s *Server) handleAvatarWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.renderer {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "renderer_connected", "another renderer holds the avatar session")
		return
	}
	s.renderer = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.renderer = false
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Events raised by the gateway itself, merged into the same writer
	// so websocket writes stay single-threaded.
	local := make(chan any, 16)
	local <- protocol.HistorySnapshot{
		Type:     protocol.TypeHistorySnapshot,
		Messages: s.orch.History().All(),
	}
	local <- protocol.StatusChanged{
		Type:    protocol.TypeStatusChanged,
		From:    string(s.orch.Status()),
		To:      string(s.orch.Status()),
		Trigger: "sync",
	}

	controls := make(chan any, 16)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.dispatchControls(ctx, controls)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, local)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case local <- protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}:
			default:
			}
			continue
		}
		if t, ok := protocol.MessageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.PointerMove:
			s.mu.Lock()
			s.pointer = animator.Pointer{X: msg.X, Y: msg.Y}
			s.mu.Unlock()
		case protocol.AudioSpectrum:
			s.spectrum.Update(msg.Bins)
		default:
			select {
			case <-ctx.Done():
				break readLoop
			case controls <- parsed:
			default:
				// A saturated control queue means the renderer is
				// spamming triggers while a turn runs. Drop them.
				log.Printf("gateway: dropping control message %T", parsed)
			}
		}
	}

	cancel()
	close(controls)
	<-dispatchDone
	<-writerDone
}

// dispatchControls applies control triggers strictly in arrival order.
// Turn-running calls block, which is what keeps a push-to-talk release
// from overtaking its press.
func (s *Server) dispatchControls(ctx context.Context, controls <-chan any) {
	for parsed := range controls {
		switch msg := parsed.(type) {
		case protocol.TextSubmit:
			if err := s.orch.SubmitText(ctx, msg.Text); err != nil {
				log.Printf("gateway: text_submit rejected: %v", err)
			}
		case protocol.VoicePress:
			if err := s.orch.PressVoice(ctx); err != nil {
				log.Printf("gateway: voice_press rejected: %v", err)
			}
		case protocol.VoiceRelease:
			if err := s.orch.ReleaseVoice(ctx); err != nil {
				log.Printf("gateway: voice_release rejected: %v", err)
			}
		case protocol.PlaybackEnded:
			s.spectrum.Clear()
			s.orch.PlaybackEnded()
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel func(), conn *websocket.Conn, local <-chan any) {
	interval := time.Second / time.Duration(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			cancel()
			return false
		}
		if t, ok := protocol.MessageTypeOf(v); ok {
			s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-local:
			if !write(msg) {
				return
			}
		case msg := <-s.orch.Events():
			if !write(msg) {
				return
			}
		case <-ticker.C:
			s.mu.Lock()
			pointer := s.pointer
			s.mu.Unlock()
			frame := s.animator.Step(time.Since(start), pointer)
			s.metrics.AnimatorSteps.Inc()
			if !write(protocol.AnimationFrame{
				Type:   protocol.TypeAnimationFrame,
				Speech: frame.Speech,
				Blink:  frame.Blink,
				Smile:  frame.Smile,
				Gaze:   frame.Gaze,
			}) {
				return
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
