// Package transcript holds the ordered, append-only record of one voxlink
// session: what the user said (interim and final) and what the system
// answered.
//
// At most one interim entry is live at a time. A new interim replaces it in
// place, keeping its sequence number and position; committing a final removes
// it. Every other entry is immutable once appended. The log lives in memory
// only and is discarded with the process.
package transcript

import (
	"sync"
	"time"
)

// Kind classifies a log entry.
type Kind int

const (
	// KindInterim is a provisional transcript of speech still in progress.
	KindInterim Kind = iota
	// KindFinal is a committed user utterance.
	KindFinal
	// KindResponse is a reply from the command processor.
	KindResponse
	// KindError describes a failed turn.
	KindError
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one line of the transcript.
type Entry struct {
	// Seq is unique within a Log and increases with insertion order. A
	// replaced interim keeps its Seq.
	Seq  uint64
	Kind Kind
	Text string
	At   time.Time
}

// Change describes how an observed entry affected the log.
type Change int

const (
	// Appended means the entry was added at the end.
	Appended Change = iota
	// Replaced means the live interim with the same Seq got new text.
	Replaced
	// Removed means the entry is no longer in the log.
	Removed
)

// Observer is notified of every change in the order changes happen. It runs
// while the log is locked and must not call back into the Log.
type Observer func(c Change, e Entry)

// Option configures a [Log].
type Option func(*Log)

// WithObserver registers fn to receive every change.
func WithObserver(fn Observer) Option {
	return func(l *Log) {
		l.observer = fn
	}
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Log is the transcript of a session. It is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	live     int // index of the live interim, -1 when none
	nextSeq  uint64
	observer Observer
	now      func() time.Time
}

// New returns an empty Log.
func New(opts ...Option) *Log {
	l := &Log{live: -1, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AppendInterim records provisional text. If an interim is live its text is
// replaced in place; otherwise a new interim entry is appended.
func (l *Log) AppendInterim(text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.live >= 0 {
		e := &l.entries[l.live]
		e.Text = text
		e.At = l.now()
		l.notify(Replaced, *e)
		return *e
	}
	e := l.appendLocked(KindInterim, text)
	l.live = len(l.entries) - 1
	return e
}

// CommitFinal removes the live interim, if any, and appends text as a final
// entry.
func (l *Log) CommitFinal(text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropLiveLocked()
	return l.appendLocked(KindFinal, text)
}

// AppendSystem appends a response, or an error entry when isError is set.
func (l *Log) AppendSystem(text string, isError bool) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	kind := KindResponse
	if isError {
		kind = KindError
	}
	return l.appendLocked(kind, text)
}

// DiscardInterim removes the live interim without committing it. It reports
// whether one was live.
func (l *Log) DiscardInterim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropLiveLocked()
}

// Live returns the live interim entry, if any.
func (l *Log) Live() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live < 0 {
		return Entry{}, false
	}
	return l.entries[l.live], true
}

// Entries returns a snapshot of the log in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries, including a live interim.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) appendLocked(kind Kind, text string) Entry {
	l.nextSeq++
	e := Entry{Seq: l.nextSeq, Kind: kind, Text: text, At: l.now()}
	l.entries = append(l.entries, e)
	l.notify(Appended, e)
	return e
}

func (l *Log) dropLiveLocked() bool {
	if l.live < 0 {
		return false
	}
	e := l.entries[l.live]
	l.entries = append(l.entries[:l.live], l.entries[l.live+1:]...)
	l.live = -1
	l.notify(Removed, e)
	return true
}

func (l *Log) notify(c Change, e Entry) {
	if l.observer != nil {
		l.observer(c, e)
	}
}
