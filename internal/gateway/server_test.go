package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/profe/internal/animator"
	"github.com/antoniostano/profe/internal/backend"
	"github.com/antoniostano/profe/internal/capture"
	"github.com/antoniostano/profe/internal/config"
	"github.com/antoniostano/profe/internal/conversation"
	"github.com/antoniostano/profe/internal/history"
	"github.com/antoniostano/profe/internal/observability"
	"github.com/antoniostano/profe/internal/tutor"
)

type stubBackend struct {
	reply    string
	audioURL string
}

func (s *stubBackend) StreamChat(_ context.Context, _ string, _ conversation.Session, onDelta backend.DeltaHandler) (string, error) {
	onDelta(s.reply)
	return s.reply, nil
}

func (s *stubBackend) Transcribe(context.Context, []byte) (string, error) {
	return "", nil
}

func (s *stubBackend) Speak(context.Context, string) (string, error) {
	return s.audioURL, nil
}

type stubRecorder struct{}

func (stubRecorder) Start(context.Context) error { return nil }
func (stubRecorder) Stop() (capture.Clip, error) { return capture.Clip{}, nil }

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	cfg := config.Config{
		AllowAnyOrigin: true,
		FrameRate:      60,
	}
	namespace := fmt.Sprintf("gateway_test_%d", time.Now().UnixNano())
	metrics := observability.NewMetrics(namespace)
	stages := observability.NewStageWindow(64)

	orch := tutor.NewOrchestrator(
		conversation.NewSession("beginner"),
		history.NewStore(),
		&stubBackend{reply: "Hola", audioURL: "/audio/r.mp3"},
		stubRecorder{},
		0.004,
		metrics,
		stages,
	)

	anim := animator.New(animator.TargetSet{}, animator.Config{LipSyncGain: 2.8, SmileInfluence: 0.2})
	spectrum := animator.NewSpectrumNode()
	anim.AttachAnalysis(spectrum)

	srv := New(cfg, orch, anim, spectrum, metrics, stages)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/avatar/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForType reads frames until one of the wanted type arrives, skipping
// the continuous animation traffic in between.
func waitForType(t *testing.T, conn *websocket.Conn, wanted string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wanted, err)
		}
		if msg["type"] == wanted {
			return msg
		}
	}
	t.Fatalf("no %q message before deadline", wanted)
	return nil
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHealthReadyAndHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	var ready map[string]any
	if err := json.NewDecoder(res.Body).Decode(&ready); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	res.Body.Close()
	if ready["conversation"] != "IDLE" {
		t.Fatalf("expected IDLE conversation, got %v", ready["conversation"])
	}

	res, err = http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatalf("GET /v1/history: %v", err)
	}
	var hist struct {
		SessionID string            `json:"session_id"`
		Messages  []history.Message `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	res.Body.Close()
	if hist.SessionID == "" {
		t.Fatal("missing session id")
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Content != history.Greeting {
		t.Fatalf("expected greeting-only history, got %+v", hist.Messages)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
}

func TestAvatarSocketTypedTurn(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	snapshot := waitForType(t, conn, "history_snapshot")
	messages, ok := snapshot["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected greeting in snapshot, got %v", snapshot["messages"])
	}
	waitForType(t, conn, "status_changed")

	sendJSON(t, conn, map[string]any{"type": "text_submit", "text": "hola profe"})

	speak := waitForType(t, conn, "speak")
	if speak["audio_url"] != "/audio/r.mp3" {
		t.Fatalf("unexpected audio url %v", speak["audio_url"])
	}

	sendJSON(t, conn, map[string]any{"type": "playback_ended"})
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never returned to IDLE")
		}
		msg := waitForType(t, conn, "status_changed")
		if msg["to"] == "IDLE" {
			break
		}
	}
}

func TestAnimationFramesFollowPointer(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	waitForType(t, conn, "history_snapshot")
	sendJSON(t, conn, map[string]any{"type": "pointer_move", "x": 1.0, "y": 1.0})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := waitForType(t, conn, "animation_frame")
		gaze, ok := frame["gaze"].(map[string]any)
		if !ok {
			t.Fatalf("frame without gaze: %v", frame)
		}
		x, _ := gaze["x"].(float64)
		if math.Abs(x-0.4) < 1e-9 {
			y, _ := gaze["y"].(float64)
			if math.Abs(y-1.4) > 1e-9 {
				t.Fatalf("expected gaze y 1.4, got %v", y)
			}
			return
		}
	}
	t.Fatal("pointer never reached the animation stream")
}

func TestInvalidMessageYieldsErrorEvent(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	waitForType(t, conn, "history_snapshot")
	sendJSON(t, conn, map[string]any{"type": "dance"})

	ev := waitForType(t, conn, "error_event")
	if ev["code"] != "invalid_client_message" {
		t.Fatalf("unexpected error code %v", ev["code"])
	}
}

func TestSecondRendererRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	_ = dial(t, ts)

	_, res, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected second dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %+v", res)
	}
}
