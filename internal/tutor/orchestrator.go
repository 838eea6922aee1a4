// Package tutor drives conversational turns: it owns the dialogue state
// machine and runs the capture -> transcribe -> chat -> synthesize
// pipeline, emitting protocol events for the presentation layer.
package tutor

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/profe/internal/backend"
	"github.com/antoniostano/profe/internal/capture"
	"github.com/antoniostano/profe/internal/conversation"
	"github.com/antoniostano/profe/internal/history"
	"github.com/antoniostano/profe/internal/observability"
	"github.com/antoniostano/profe/internal/protocol"
)

// ErrBusy is returned when an input trigger arrives while another turn
// owns the conversation.
var ErrBusy = errors.New("conversation is busy")

// Backend bundles the remote tutor endpoints a turn needs.
type Backend interface {
	StreamChat(ctx context.Context, message string, sess conversation.Session, onDelta backend.DeltaHandler) (string, error)
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Speak(ctx context.Context, text string) (string, error)
}

// Recorder is the push-to-talk capture surface.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (capture.Clip, error)
}

const (
	outboundBuffer = 256

	outcomeSpoken     = "spoken"
	outcomeTextOnly   = "text_only"
	outcomeSilent     = "silent"
	outcomeEmptyReply = "empty_reply"
	outcomeFailed     = "failed"
)

type Orchestrator struct {
	machine  *conversation.Machine
	session  conversation.Session
	history  *history.Store
	backend  Backend
	recorder Recorder

	silenceFloor float64

	metrics *observability.Metrics
	stages  *observability.StageWindow

	outbound chan any
}

func NewOrchestrator(
	sess conversation.Session,
	hist *history.Store,
	be Backend,
	recorder Recorder,
	silenceFloor float64,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
) *Orchestrator {
	o := &Orchestrator{
		session:      sess,
		history:      hist,
		backend:      be,
		recorder:     recorder,
		silenceFloor: silenceFloor,
		metrics:      metrics,
		stages:       stages,
		outbound:     make(chan any, outboundBuffer),
	}

	o.machine = conversation.NewMachine()
	o.machine.SetChangeHandler(func(from, to conversation.Status, trigger conversation.Trigger) {
		metrics.StatusTransitions.WithLabelValues(string(from), string(to), string(trigger)).Inc()
		o.send(protocol.StatusChanged{
			Type:    protocol.TypeStatusChanged,
			From:    string(from),
			To:      string(to),
			Trigger: string(trigger),
		})
	})
	o.machine.SetRejectHandler(func(state conversation.Status, trigger conversation.Trigger) {
		metrics.RejectedTriggers.WithLabelValues(string(state), string(trigger)).Inc()
		log.Printf("tutor: trigger %s rejected in %s", trigger, state)
	})

	hist.SetAppendHook(func(msg history.Message) {
		metrics.HistoryLength.Set(float64(hist.Len()))
		o.send(protocol.MessageAppended{Type: protocol.TypeMessageAppended, Message: msg})
	})

	return o
}

// Events exposes the outbound stream consumed by the websocket gateway.
func (o *Orchestrator) Events() <-chan any {
	return o.outbound
}

// Status reports the current conversation status.
func (o *Orchestrator) Status() conversation.Status {
	return o.machine.Status()
}

// Session returns the active tutoring session descriptor.
func (o *Orchestrator) Session() conversation.Session {
	return o.session
}

// History returns the dialogue transcript store.
func (o *Orchestrator) History() *history.Store {
	return o.history
}

// SubmitText runs one typed turn to completion. It blocks for the whole
// pipeline; callers that need a responsive loop run it on a goroutine.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !o.machine.SubmitText() {
		return ErrBusy
	}
	o.runTurn(ctx, text)
	return nil
}

// PressVoice starts a push-to-talk recording.
func (o *Orchestrator) PressVoice(ctx context.Context) error {
	if !o.machine.PressVoice() {
		return ErrBusy
	}
	if err := o.recorder.Start(ctx); err != nil {
		o.machine.Fail()
		code := "capture_failure"
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			code = "device_unavailable"
		}
		o.metrics.Turns.WithLabelValues(outcomeFailed).Inc()
		o.sendError(code, "capture", err.Error(), true)
		return err
	}
	return nil
}

// ReleaseVoice finalizes the recording and, when it carries speech,
// runs the transcribed text through a full turn.
func (o *Orchestrator) ReleaseVoice(ctx context.Context) error {
	if !o.machine.ReleaseVoice() {
		return ErrBusy
	}

	clip, err := o.recorder.Stop()
	if err != nil {
		o.machine.Fail()
		o.metrics.Turns.WithLabelValues(outcomeFailed).Inc()
		o.sendError("capture_failure", "capture", err.Error(), true)
		return err
	}

	if clip.Empty() || clip.RMS < o.silenceFloor {
		log.Printf("tutor: discarding silent recording (rms=%.4f)", clip.RMS)
		o.metrics.Turns.WithLabelValues(outcomeSilent).Inc()
		o.machine.FinishTurn()
		return nil
	}

	sttStart := time.Now()
	text, err := o.backend.Transcribe(ctx, clip.WAV)
	if err != nil {
		o.machine.Fail()
		o.metrics.BackendErrors.WithLabelValues("transcribe", "network_failure").Inc()
		o.metrics.Turns.WithLabelValues(outcomeFailed).Inc()
		o.sendError("network_failure", "transcribe", err.Error(), true)
		return err
	}
	o.observeStage(observability.StageTranscribe, time.Since(sttStart))

	text = strings.TrimSpace(text)
	if text == "" {
		o.metrics.Turns.WithLabelValues(outcomeSilent).Inc()
		o.machine.FinishTurn()
		return nil
	}

	o.runTurn(ctx, text)
	return nil
}

// PlaybackEnded returns the conversation to idle once the renderer has
// finished playing the spoken reply.
func (o *Orchestrator) PlaybackEnded() {
	o.machine.EndPlayback()
}

// runTurn executes chat streaming and synthesis for one user message.
// The machine is already in PROCESSING when it is called.
func (o *Orchestrator) runTurn(ctx context.Context, userText string) {
	turnID := uuid.NewString()
	turnStart := time.Now()

	o.history.Append(history.RoleUser, userText)

	var firstDelta time.Time
	reply, err := o.backend.StreamChat(ctx, userText, o.session, func(delta string) {
		if firstDelta.IsZero() {
			firstDelta = time.Now()
			latency := firstDelta.Sub(turnStart)
			o.metrics.ObserveFirstDeltaLatency(latency)
			o.observeStage(observability.StageFirstDelta, latency)
		}
		o.send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			TurnID:    turnID,
			TextDelta: delta,
		})
	})
	if err != nil {
		o.machine.Fail()
		if errors.Is(err, backend.ErrEmptyReply) {
			o.metrics.Turns.WithLabelValues(outcomeEmptyReply).Inc()
			o.metrics.BackendErrors.WithLabelValues("chat", "empty_reply").Inc()
			o.sendError("empty_reply", "chat", "the tutor returned no text", true)
		} else {
			o.metrics.BackendErrors.WithLabelValues("chat", "network_failure").Inc()
			o.metrics.Turns.WithLabelValues(outcomeFailed).Inc()
			o.sendError("network_failure", "chat", err.Error(), true)
		}
		return
	}
	o.observeStage(observability.StageChatTotal, time.Since(turnStart))

	o.history.Append(history.RoleAssistant, reply)

	ttsStart := time.Now()
	audioURL, err := o.backend.Speak(ctx, reply)
	if err != nil {
		// Synthesis loss is non-fatal: the textual reply already
		// landed in the transcript, the turn just ends unspoken.
		log.Printf("tutor: synthesis unavailable, finishing turn silently: %v", err)
		o.metrics.BackendErrors.WithLabelValues("speak", "synthesis_unavailable").Inc()
		o.metrics.Turns.WithLabelValues(outcomeTextOnly).Inc()
		o.sendError("synthesis_unavailable", "speak", err.Error(), true)
		o.machine.FinishTurn()
		return
	}
	o.observeStage(observability.StageSynthesis, time.Since(ttsStart))
	o.observeStage(observability.StageTurnTotal, time.Since(turnStart))

	if o.machine.BeginSpeaking() {
		o.metrics.Turns.WithLabelValues(outcomeSpoken).Inc()
		o.send(protocol.Speak{
			Type:     protocol.TypeSpeak,
			TurnID:   turnID,
			AudioURL: audioURL,
		})
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	o.metrics.ObserveStage(stage, d)
	if o.stages != nil {
		o.stages.Observe(stage, d)
	}
}

func (o *Orchestrator) sendError(code, source, detail string, retryable bool) {
	o.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

// send enqueues an outbound event without ever blocking a turn. When
// the queue is saturated, droppable traffic is discarded and critical
// events evict the oldest entry instead.
func (o *Orchestrator) send(v any) {
	select {
	case o.outbound <- v:
		return
	default:
	}
	if !protocol.Critical(v) {
		return
	}
	select {
	case <-o.outbound:
	default:
	}
	select {
	case o.outbound <- v:
	default:
		log.Printf("tutor: dropping critical outbound event %T", v)
	}
}
