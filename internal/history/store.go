// Package history holds the ordered, append-only conversation log.
package history

import (
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable conversation entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Greeting is the assistant message every conversation starts with.
const Greeting = "Hello! I am Profe. How can I help you today?"

// Store is the single owner of the message log. One logical writer (the
// turn orchestrator) appends; any number of readers take snapshots.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	onAppend func(Message)
}

// NewStore returns a store seeded with the assistant greeting.
func NewStore() *Store {
	s := &Store{}
	s.messages = append(s.messages, Message{
		Role:      RoleAssistant,
		Content:   Greeting,
		Timestamp: time.Now().UTC(),
	})
	return s
}

// SetAppendHook registers a callback invoked after every append. Set it
// before the orchestrator starts writing; it is not guarded afterwards.
func (s *Store) SetAppendHook(hook func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = hook
}

// Append adds one entry at the end and returns it.
func (s *Store) Append(role Role, content string) Message {
	return s.append(Message{Role: role, Content: content})
}

// AppendWithAudio adds an entry that carries the URL of its spoken audio.
func (s *Store) AppendWithAudio(role Role, content, audioURL string) Message {
	return s.append(Message{Role: role, Content: content, AudioURL: audioURL})
}

func (s *Store) append(msg Message) Message {
	msg.Timestamp = time.Now().UTC()

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	hook := s.onAppend
	s.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return msg
}

// All returns the ordered message sequence as a copied snapshot.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of messages in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the most recent message. The second return is false only
// for an empty store, which cannot happen after NewStore.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}
