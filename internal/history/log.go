// Package history records every pipeline call. Recent calls stay in a bounded
// in-memory ring; an optional Archiver ships them to object storage.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql,omitempty"`
	Outcome    string    `json:"outcome"`
	Retried    bool      `json:"retried"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sink receives every recorded entry. Enqueue must not block.
type Sink interface {
	Enqueue(entry Entry)
}

type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	sink    Sink
	now     func() time.Time
}

func NewLog(capacity int, sink Sink) *Log {
	if capacity <= 0 {
		capacity = 500
	}
	return &Log{
		entries: make([]Entry, capacity),
		sink:    sink,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record stores entry, assigning an id and timestamp when missing, and
// forwards it to the sink.
func (l *Log) Record(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Enqueue(entry)
	}
	return entry
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
