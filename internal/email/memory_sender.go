package email

import (
	"context"
	"sync"
)

// MemorySender is a Sender that keeps sent emails in memory. It's meant
// for tests. FailFunc can be set to simulate transport failures for
// specific messages.
type MemorySender struct {
	mu       sync.Mutex
	emails   []Message
	FailFunc func(msg Message) error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailFunc != nil {
		if err := s.FailFunc(msg); err != nil {
			return err
		}
	}

	s.emails = append(s.emails, msg)
	return nil
}

// Emails returns a copy of the messages sent so far.
func (s *MemorySender) Emails() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.emails))
	copy(out, s.emails)
	return out
}
