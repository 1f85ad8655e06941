package transcript

import (
	"strings"
	"sync"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/jonboulle/clockwork"
)

// State is a snapshot of the buffer.
type State struct {
	Committed string `json:"committed"`
	Interim   string `json:"interim"`
	Capturing bool   `json:"capturing"`
}

// Buffer holds dictated text as a committed prefix that grows only with
// finalized segments plus a transient interim suffix replaced on every
// partial result. Interim notifications are throttled on the trailing
// edge, so the latest value of a burst is always delivered.
type Buffer struct {
	opts Options

	mu        sync.Mutex
	committed string
	interim   string
	capturing bool
	timer     clockwork.Timer
	gen       uint64
}

// NewBuffer creates an idle buffer.
func NewBuffer(opts Options) *Buffer {
	return &Buffer{opts: opts.withDefaults()}
}

// Start begins a capture session.
func (b *Buffer) Start() {
	b.mu.Lock()
	b.capturing = true
	b.interim = ""
	b.mu.Unlock()
}

// Stop ends the capture session, dropping any interim text.
func (b *Buffer) Stop() {
	b.mu.Lock()
	if !b.capturing {
		b.mu.Unlock()
		return
	}
	b.capturing = false
	hadInterim := b.interim != ""
	b.interim = ""
	b.cancelLocked()
	value := b.valueLocked()
	b.mu.Unlock()

	if hadInterim {
		b.opts.Notify(value)
	}
}

// Interim replaces the interim text and schedules a notification unless
// one is already pending.
func (b *Buffer) Interim(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		b.opts.Logger.Debug("interim text outside capture ignored")
		return
	}
	b.interim = strings.TrimSpace(text)
	if b.timer != nil {
		return
	}
	b.gen++
	gen := b.gen
	b.timer = b.opts.Clock.AfterFunc(b.opts.Cadence, func() { b.flush(gen) })
}

// Final appends a finalized segment to the committed text, clears the
// interim text and notifies at once.
func (b *Buffer) Final(text string) {
	b.mu.Lock()
	b.committed = join(b.committed, entity.NormalizeText(text))
	b.interim = ""
	b.cancelLocked()
	value := b.valueLocked()
	b.mu.Unlock()

	b.opts.Notify(value)
}

// Value returns committed plus interim while capturing, otherwise the
// committed text.
func (b *Buffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valueLocked()
}

// Snapshot returns the buffer state.
func (b *Buffer) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{Committed: b.committed, Interim: b.interim, Capturing: b.capturing}
}

// Edit resynchronizes the committed text after the user typed over the
// field. A trailing interim suffix is stripped; otherwise the whole value
// becomes the committed text and the interim text is dropped.
func (b *Buffer) Edit(value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capturing && b.interim != "" && strings.HasSuffix(value, b.interim) {
		b.committed = strings.TrimRight(strings.TrimSuffix(value, b.interim), " ")
		return
	}
	b.committed = value
	b.interim = ""
}

// Reset clears all text and cancels a pending notification.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.committed = ""
	b.interim = ""
	b.cancelLocked()
	b.mu.Unlock()
}

func (b *Buffer) flush(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.timer == nil {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	value := b.valueLocked()
	b.mu.Unlock()

	b.opts.Notify(value)
}

func (b *Buffer) cancelLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

func (b *Buffer) valueLocked() string {
	if b.capturing {
		return join(b.committed, b.interim)
	}
	return b.committed
}

func join(prefix, suffix string) string {
	switch {
	case suffix == "":
		return prefix
	case prefix == "":
		return suffix
	case strings.HasSuffix(prefix, " "):
		return prefix + suffix
	default:
		return prefix + " " + suffix
	}
}
