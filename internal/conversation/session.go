// Package conversation keeps the per-session dialogue that is fed back into
// SQL generation and answer synthesis.
package conversation

import (
	"iter"
	"strings"
	"sync"
	"time"
)

type Turn struct {
	Question string
	Answer   string
	At       time.Time
}

// Session is an ordered log of completed turns. All mutation goes through
// Append and Clear, which are serialized.
type Session struct {
	mu    sync.RWMutex
	id    string
	turns []Turn
	now   func() time.Time
}

func NewSession(id string) *Session {
	return &Session{id: id, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Append(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Question: question, Answer: answer, At: s.now()})
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Recent yields the last n turns, oldest first. The sequence snapshots the
// session each time it is ranged over, so it can be iterated repeatedly.
func (s *Session) Recent(n int) iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		if n <= 0 {
			return
		}
		s.mu.RLock()
		start := max(len(s.turns)-n, 0)
		window := make([]Turn, len(s.turns)-start)
		copy(window, s.turns[start:])
		s.mu.RUnlock()

		for _, turn := range window {
			if !yield(turn) {
				return
			}
		}
	}
}

// FormatRecent renders the last n turns as "User: q\nAI: a" blocks joined by
// newlines. It returns "" for an empty session.
func (s *Session) FormatRecent(n int) string {
	var lines []string
	for turn := range s.Recent(n) {
		lines = append(lines, "User: "+turn.Question+"\nAI: "+turn.Answer)
	}
	return strings.Join(lines, "\n")
}
