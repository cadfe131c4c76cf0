// Package progress keeps short-lived, in-process progress snapshots of
// running provisioning workflows, keyed by the caller's idempotency token.
//
// Snapshots are best-effort and never authoritative: they are lost on
// restart and evicted some time after the workflow finishes. The durable
// workflow record is the source of truth.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/gsclone/internal/workflow"
)

// DefaultTTL is how long a terminal snapshot stays readable.
const DefaultTTL = 30 * time.Minute

// Entry is one progress snapshot.
type Entry struct {
	GuestID         int             `json:"guestId,omitempty"`
	Status          workflow.Status `json:"status"`
	CurrentStep     workflow.Step   `json:"currentStep"`
	ProgressPercent int             `json:"progressPercent"`
	Message         string          `json:"message,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Broadcaster publishes progress snapshots. Implementations are
// best-effort: a missing entry says nothing about the workflow itself.
type Broadcaster interface {
	// Publish stores e under token, replacing any previous entry.
	Publish(token string, e Entry)
	// Get returns the latest entry for token.
	Get(token string) (Entry, bool)
	// ScheduleExpiry removes token after delay, regardless of later
	// publishes. A publish after the removal creates a new entry.
	ScheduleExpiry(token string, delay time.Duration)
}

// NewToken returns a fresh random token.
func NewToken() string {
	return uuid.NewString()
}

// ValidToken reports whether token is usable as a key.
func ValidToken(token string) bool {
	_, err := uuid.Parse(token)
	return err == nil
}

type slot struct {
	entry Entry
	// gen changes on every recreation so a stale timer cannot evict a
	// newer entry.
	gen uint64
}

// Memory is an in-process Broadcaster.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*slot
	timers  map[string]*time.Timer
	nextGen uint64
}

// MemoryOption configures a Memory broadcaster.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-process broadcaster.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		entries: make(map[string]*slot),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Publish(token string, e Entry) {
	if token == "" {
		return
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[token]
	if !ok {
		m.nextGen++
		s = &slot{gen: m.nextGen}
		m.entries[token] = s
	}
	if e.GuestID == 0 {
		e.GuestID = s.entry.GuestID
	}
	s.entry = e
}

func (m *Memory) Get(token string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[token]
	if !ok {
		return Entry{}, false
	}
	return s.entry, true
}

func (m *Memory) ScheduleExpiry(token string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[token]
	if !ok {
		return
	}
	if t, ok := m.timers[token]; ok {
		t.Stop()
	}
	gen := s.gen
	m.timers[token] = time.AfterFunc(delay, func() { m.expire(token, gen) })
}

func (m *Memory) expire(token string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.entries[token]; ok && s.gen == gen {
		delete(m.entries, token)
		delete(m.timers, token)
	}
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops pending expiry timers. Entries stay readable.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, t := range m.timers {
		t.Stop()
		delete(m.timers, token)
	}
}

var _ Broadcaster = (*Memory)(nil)

// Discard drops every update. Used when no live progress is wanted.
type Discard struct{}

func (Discard) Publish(string, Entry)               {}
func (Discard) Get(string) (Entry, bool)            { return Entry{}, false }
func (Discard) ScheduleExpiry(string, time.Duration) {}

var _ Broadcaster = Discard{}
