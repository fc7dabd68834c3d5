package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmptyText is returned when a message has no text after trimming.
var ErrEmptyText = errors.New("transcript: empty message text")

// Message is a single transcript entry. Values are never mutated after Append.
type Message struct {
	Text     string    `json:"text"`
	IsBot    bool      `json:"is_bot"`
	Sequence uint64    `json:"sequence"`
	At       time.Time `json:"at"`
}

// Observer is notified after every successful append, in sequence order.
type Observer func(Message)

// Option configures a Store.
type Option func(*Store)

// WithObserver registers an observer, typically the view that renders the
// transcript and keeps it scrolled to the newest entry.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the append-only log of a single chat session.
type Store struct {
	mu        sync.RWMutex
	messages  []Message
	next      uint64
	observers []Observer
	now       func() time.Time
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{next: 1, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append stores text as the next message and returns it. Trimming is the
// caller's job; the text is stored as given.
func (s *Store) Append(text string, isBot bool) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}
	s.mu.Lock()
	m := Message{Text: text, IsBot: isBot, Sequence: s.next, At: s.now()}
	s.next++
	s.messages = append(s.messages, m)
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o(m)
	}
	return m, nil
}

// Messages returns a copy of the transcript, oldest first.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the newest message, if any.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}
