// Package conversation owns the process-wide conversation status and the
// session identity attached to every backend request.
package conversation

import "sync"

// Status is the single conversation phase register. Exactly one value
// exists per process and only Machine writes it.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusRecording  Status = "RECORDING"
	StatusProcessing Status = "PROCESSING"
	StatusSpeaking   Status = "SPEAKING"
)

// Trigger names the events that may move the status.
type Trigger string

const (
	TriggerVoicePress   Trigger = "voice_press"
	TriggerTextSubmit   Trigger = "text_submit"
	TriggerVoiceRelease Trigger = "voice_release"
	TriggerSpeechReady  Trigger = "speech_ready"
	TriggerTurnComplete Trigger = "turn_complete"
	TriggerPlaybackEnd  Trigger = "playback_end"
	TriggerFailure      Trigger = "failure"
)

// transitions is the full legal-transition table. Anything absent is a
// rejected no-op.
var transitions = map[Status]map[Trigger]Status{
	StatusIdle: {
		TriggerVoicePress: StatusRecording,
		TriggerTextSubmit: StatusProcessing,
	},
	StatusRecording: {
		TriggerVoiceRelease: StatusProcessing,
		TriggerFailure:      StatusIdle,
	},
	StatusProcessing: {
		TriggerSpeechReady:  StatusSpeaking,
		TriggerTurnComplete: StatusIdle,
		TriggerFailure:      StatusIdle,
	},
	StatusSpeaking: {
		TriggerPlaybackEnd: StatusIdle,
	},
}

// Machine serializes conversational turns: every user-facing entry point
// asks it for a transition before doing work, so at most one
// transcription+reply+speech cycle is in flight at a time.
type Machine struct {
	mu       sync.Mutex
	status   Status
	onChange func(from, to Status, trigger Trigger)
	onReject func(state Status, trigger Trigger)
}

func NewMachine() *Machine {
	return &Machine{status: StatusIdle}
}

// SetChangeHandler registers a callback fired after every accepted
// transition. It runs outside the machine lock.
func (m *Machine) SetChangeHandler(handler func(from, to Status, trigger Trigger)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = handler
}

// SetRejectHandler registers a callback fired when a trigger is refused.
func (m *Machine) SetRejectHandler(handler func(state Status, trigger Trigger)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReject = handler
}

// Status returns the current phase.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Fire attempts one transition. It returns the resulting status and
// whether the trigger was accepted; an illegal trigger changes nothing.
func (m *Machine) Fire(trigger Trigger) (Status, bool) {
	m.mu.Lock()
	from := m.status
	next, ok := transitions[from][trigger]
	if !ok {
		reject := m.onReject
		m.mu.Unlock()
		if reject != nil {
			reject(from, trigger)
		}
		return from, false
	}
	m.status = next
	change := m.onChange
	m.mu.Unlock()

	if change != nil {
		change(from, next, trigger)
	}
	return next, true
}

// PressVoice gates IDLE -> RECORDING.
func (m *Machine) PressVoice() bool { return m.fire(TriggerVoicePress) }

// SubmitText gates IDLE -> PROCESSING.
func (m *Machine) SubmitText() bool { return m.fire(TriggerTextSubmit) }

// ReleaseVoice gates RECORDING -> PROCESSING.
func (m *Machine) ReleaseVoice() bool { return m.fire(TriggerVoiceRelease) }

// BeginSpeaking gates PROCESSING -> SPEAKING once synthesis succeeded.
func (m *Machine) BeginSpeaking() bool { return m.fire(TriggerSpeechReady) }

// FinishTurn gates PROCESSING -> IDLE for turns that end without speech.
func (m *Machine) FinishTurn() bool { return m.fire(TriggerTurnComplete) }

// EndPlayback gates SPEAKING -> IDLE when the renderer reports the audio
// element finished.
func (m *Machine) EndPlayback() bool { return m.fire(TriggerPlaybackEnd) }

// Fail forces RECORDING/PROCESSING back to IDLE after an unrecoverable
// error. In any other state it is a no-op.
func (m *Machine) Fail() bool { return m.fire(TriggerFailure) }

func (m *Machine) fire(trigger Trigger) bool {
	_, ok := m.Fire(trigger)
	return ok
}
