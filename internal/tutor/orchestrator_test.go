package tutor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/antoniostano/profe/internal/backend"
	"github.com/antoniostano/profe/internal/capture"
	"github.com/antoniostano/profe/internal/conversation"
	"github.com/antoniostano/profe/internal/history"
	"github.com/antoniostano/profe/internal/observability"
	"github.com/antoniostano/profe/internal/protocol"
)

type fakeBackend struct {
	deltas        []string
	chatErr       error
	transcript    string
	transcribeErr error
	audioURL      string
	speakErr      error

	spoken string
}

func (f *fakeBackend) StreamChat(_ context.Context, _ string, _ conversation.Session, onDelta backend.DeltaHandler) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	var full string
	for _, d := range f.deltas {
		onDelta(d)
		full += d
	}
	if full == "" {
		return "", backend.ErrEmptyReply
	}
	return full, nil
}

func (f *fakeBackend) Transcribe(context.Context, []byte) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeBackend) Speak(_ context.Context, text string) (string, error) {
	if f.speakErr != nil {
		return "", f.speakErr
	}
	f.spoken = text
	return f.audioURL, nil
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	clip     capture.Clip

	started bool
	stopped bool
}

func (f *fakeRecorder) Start(context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeRecorder) Stop() (capture.Clip, error) {
	f.stopped = true
	return f.clip, f.stopErr
}

func newTestOrchestrator(t *testing.T, be Backend, rec Recorder) *Orchestrator {
	t.Helper()
	namespace := fmt.Sprintf("tutor_test_%d", time.Now().UnixNano())
	metrics := observability.NewMetrics(namespace)
	stages := observability.NewStageWindow(64)
	return NewOrchestrator(
		conversation.NewSession("beginner"),
		history.NewStore(),
		be,
		rec,
		0.004,
		metrics,
		stages,
	)
}

// drain empties the outbound queue. Turns run synchronously, so every
// event produced by a call is already enqueued when it returns.
func drain(o *Orchestrator) []any {
	var events []any
	for {
		select {
		case v := <-o.Events():
			events = append(events, v)
		default:
			return events
		}
	}
}

func eventsOfType(events []any, tag protocol.MessageType) []any {
	var out []any
	for _, v := range events {
		if got, ok := protocol.MessageTypeOf(v); ok && got == tag {
			out = append(out, v)
		}
	}
	return out
}

func audibleClip() capture.Clip {
	return capture.Clip{WAV: make([]byte, 2048), SampleRate: 16000, RMS: 0.2}
}

func TestTypedTurnHappyPath(t *testing.T) {
	be := &fakeBackend{deltas: []string{"Ho", "la, ", "que tal"}, audioURL: "/audio/reply.mp3"}
	o := newTestOrchestrator(t, be, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "  hello "); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.Status() != conversation.StatusSpeaking {
		t.Fatalf("expected SPEAKING after a spoken turn, got %s", o.Status())
	}

	messages := o.History().All()
	if len(messages) != 3 {
		t.Fatalf("expected greeting + user + assistant, got %d messages", len(messages))
	}
	if messages[1].Role != history.RoleUser || messages[1].Content != "hello" {
		t.Fatalf("unexpected user message %+v", messages[1])
	}
	if messages[2].Role != history.RoleAssistant || messages[2].Content != "Hola, que tal" {
		t.Fatalf("unexpected assistant message %+v", messages[2])
	}

	events := drain(o)
	deltas := eventsOfType(events, protocol.TypeAssistantTextDelta)
	if len(deltas) != 3 {
		t.Fatalf("expected 3 delta events, got %d", len(deltas))
	}
	speaks := eventsOfType(events, protocol.TypeSpeak)
	if len(speaks) != 1 {
		t.Fatalf("expected 1 speak event, got %d", len(speaks))
	}
	speak := speaks[0].(protocol.Speak)
	if speak.AudioURL != "/audio/reply.mp3" {
		t.Fatalf("unexpected audio url %q", speak.AudioURL)
	}
	if speak.TurnID == "" {
		t.Fatal("speak event missing turn id")
	}

	o.PlaybackEnded()
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE after playback, got %s", o.Status())
	}
}

func TestVoiceTurnHappyPath(t *testing.T) {
	be := &fakeBackend{deltas: []string{"Bien, gracias"}, transcript: "como estas", audioURL: "/audio/r.mp3"}
	rec := &fakeRecorder{clip: audibleClip()}
	o := newTestOrchestrator(t, be, rec)

	if err := o.PressVoice(context.Background()); err != nil {
		t.Fatalf("PressVoice: %v", err)
	}
	if o.Status() != conversation.StatusRecording {
		t.Fatalf("expected RECORDING, got %s", o.Status())
	}
	if !rec.started {
		t.Fatal("recorder was never started")
	}

	if err := o.ReleaseVoice(context.Background()); err != nil {
		t.Fatalf("ReleaseVoice: %v", err)
	}
	if !rec.stopped {
		t.Fatal("recorder was never stopped")
	}
	if o.Status() != conversation.StatusSpeaking {
		t.Fatalf("expected SPEAKING, got %s", o.Status())
	}

	messages := o.History().All()
	if messages[1].Content != "como estas" {
		t.Fatalf("expected transcribed text as user message, got %q", messages[1].Content)
	}
}

func TestSilentRecordingDiscarded(t *testing.T) {
	rec := &fakeRecorder{clip: capture.Clip{WAV: make([]byte, 2048), SampleRate: 16000, RMS: 0.001}}
	o := newTestOrchestrator(t, &fakeBackend{}, rec)

	if err := o.PressVoice(context.Background()); err != nil {
		t.Fatalf("PressVoice: %v", err)
	}
	if err := o.ReleaseVoice(context.Background()); err != nil {
		t.Fatalf("ReleaseVoice: %v", err)
	}

	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE after silent recording, got %s", o.Status())
	}
	if got := o.History().Len(); got != 1 {
		t.Fatalf("expected only the greeting in history, got %d messages", got)
	}
}

func TestEmptyTranscriptEndsTurnQuietly(t *testing.T) {
	be := &fakeBackend{transcript: "   "}
	o := newTestOrchestrator(t, be, &fakeRecorder{clip: audibleClip()})

	if err := o.PressVoice(context.Background()); err != nil {
		t.Fatalf("PressVoice: %v", err)
	}
	if err := o.ReleaseVoice(context.Background()); err != nil {
		t.Fatalf("ReleaseVoice: %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE, got %s", o.Status())
	}
	if got := o.History().Len(); got != 1 {
		t.Fatalf("expected no turn messages, got %d", got)
	}
}

func TestChatNetworkFailureRecovers(t *testing.T) {
	be := &fakeBackend{chatErr: errors.New("dial tcp: connection refused")}
	o := newTestOrchestrator(t, be, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "hola"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE after chat failure, got %s", o.Status())
	}

	// The user message stays even though the turn failed.
	messages := o.History().All()
	if len(messages) != 2 || messages[1].Role != history.RoleUser {
		t.Fatalf("expected greeting + user message, got %+v", messages)
	}

	failures := eventsOfType(drain(o), protocol.TypeErrorEvent)
	if len(failures) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(failures))
	}
	ev := failures[0].(protocol.ErrorEvent)
	if ev.Code != "network_failure" || ev.Source != "chat" || !ev.Retryable {
		t.Fatalf("unexpected error event %+v", ev)
	}
}

func TestEmptyReplyReportedAsError(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{}, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "hola"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE, got %s", o.Status())
	}

	failures := eventsOfType(drain(o), protocol.TypeErrorEvent)
	if len(failures) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(failures))
	}
	if ev := failures[0].(protocol.ErrorEvent); ev.Code != "empty_reply" {
		t.Fatalf("unexpected error code %q", ev.Code)
	}
}

func TestSynthesisFailureKeepsReply(t *testing.T) {
	be := &fakeBackend{
		deltas:   []string{"Muy bien"},
		speakErr: fmt.Errorf("%w: 503", backend.ErrSynthesisUnavailable),
	}
	o := newTestOrchestrator(t, be, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "hola"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE when synthesis is down, got %s", o.Status())
	}

	messages := o.History().All()
	if len(messages) != 3 || messages[2].Content != "Muy bien" {
		t.Fatalf("assistant reply must survive synthesis loss, got %+v", messages)
	}

	events := drain(o)
	if got := eventsOfType(events, protocol.TypeSpeak); len(got) != 0 {
		t.Fatalf("expected no speak event, got %d", len(got))
	}
	failures := eventsOfType(events, protocol.TypeErrorEvent)
	if len(failures) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(failures))
	}
	if ev := failures[0].(protocol.ErrorEvent); ev.Code != "synthesis_unavailable" {
		t.Fatalf("unexpected error code %q", ev.Code)
	}
}

func TestDeviceUnavailableOnPress(t *testing.T) {
	rec := &fakeRecorder{startErr: capture.ErrDeviceUnavailable}
	o := newTestOrchestrator(t, &fakeBackend{}, rec)

	err := o.PressVoice(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected device error, got %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE after capture failure, got %s", o.Status())
	}

	failures := eventsOfType(drain(o), protocol.TypeErrorEvent)
	if len(failures) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(failures))
	}
	if ev := failures[0].(protocol.ErrorEvent); ev.Code != "device_unavailable" {
		t.Fatalf("unexpected error code %q", ev.Code)
	}
}

func TestBusyRejections(t *testing.T) {
	rec := &fakeRecorder{clip: audibleClip()}
	o := newTestOrchestrator(t, &fakeBackend{}, rec)

	if err := o.PressVoice(context.Background()); err != nil {
		t.Fatalf("PressVoice: %v", err)
	}
	if err := o.SubmitText(context.Background(), "hola"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while recording, got %v", err)
	}
	if err := o.PressVoice(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on double press, got %v", err)
	}
	if o.Status() != conversation.StatusRecording {
		t.Fatalf("rejections must not disturb the status, got %s", o.Status())
	}
}

func TestBlankTextIsIgnored(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{}, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "   "); err != nil {
		t.Fatalf("blank input must be a no-op, got %v", err)
	}
	if o.Status() != conversation.StatusIdle {
		t.Fatalf("expected IDLE, got %s", o.Status())
	}
	if got := o.History().Len(); got != 1 {
		t.Fatalf("expected untouched history, got %d messages", got)
	}
}

func TestStatusEventsCoverFullTurn(t *testing.T) {
	be := &fakeBackend{deltas: []string{"ok"}, audioURL: "/a.mp3"}
	o := newTestOrchestrator(t, be, &fakeRecorder{})

	if err := o.SubmitText(context.Background(), "hola"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	o.PlaybackEnded()

	var hops []string
	for _, v := range eventsOfType(drain(o), protocol.TypeStatusChanged) {
		ev := v.(protocol.StatusChanged)
		hops = append(hops, ev.From+">"+ev.To)
	}
	want := []string{"IDLE>PROCESSING", "PROCESSING>SPEAKING", "SPEAKING>IDLE"}
	if len(hops) != len(want) {
		t.Fatalf("expected %v, got %v", want, hops)
	}
	for i := range want {
		if hops[i] != want[i] {
			t.Fatalf("hop %d: expected %s, got %s", i, want[i], hops[i])
		}
	}
}
