// Package client implements the client process's interaction core: the
// hotkey/VAD/manual mode state machine, the feedback gate, and the
// replay buffer that bind capture, playback, and the TCP connection to
// the server together.
package client

import (
	"bufio"
	"os"
	"sync"
	"sync/atomic"
)

// HotkeyListener is the client's capability boundary onto the evdev
// hotkey listener. A real implementation watches a Linux input device
// on its own goroutine and updates these two booleans; this package
// only needs the boundary.
type HotkeyListener interface {
	// IsListening reports whether the listen hotkey is currently toggled
	// on (push-to-talk held, or toggle engaged, depending on the real
	// listener's policy, which is opaque to this package).
	IsListening() bool
	// CancelPressed reports whether the cancel hotkey was pressed since
	// the last call, compare-exchange style: a true result also clears
	// the flag, so each press is observed exactly once.
	CancelPressed() bool
}

// AtomicHotkeyListener is a minimal HotkeyListener backed by two
// atomics. A real evdev-backed listener updates these fields from its
// own goroutine; this type is what that goroutine would be built on top
// of, and is also what tests drive directly.
type AtomicHotkeyListener struct {
	listening atomic.Bool
	cancel    atomic.Bool
}

func NewAtomicHotkeyListener() *AtomicHotkeyListener {
	return &AtomicHotkeyListener{}
}

func (h *AtomicHotkeyListener) IsListening() bool { return h.listening.Load() }
func (h *AtomicHotkeyListener) SetListening(v bool) { h.listening.Store(v) }

func (h *AtomicHotkeyListener) CancelPressed() bool {
	return h.cancel.CompareAndSwap(true, false)
}
func (h *AtomicHotkeyListener) PressCancel() { h.cancel.Store(true) }

// KeyboardPoller is the client's capability boundary onto the TUI's
// non-listening-mode key polling ('q' quit, '3' replay, '4' cancel).
// Real terminal raw-mode handling belongs to the TUI layer; this
// interface is what it would drive.
type KeyboardPoller interface {
	// PollKey returns the next pressed key, or 0 if none is pending.
	// Must not block.
	PollKey() byte
}

// StdinKeyboardPoller is a minimal KeyboardPoller backed by a
// background line reader over os.Stdin: each line typed delivers its
// first byte as a "key press" once buffered, which is enough to drive
// the interactive choice prompts without a real single-keystroke
// terminal.
type StdinKeyboardPoller struct {
	mu      sync.Mutex
	pending []byte
}

// NewStdinKeyboardPoller starts a background goroutine reading lines from
// r (typically os.Stdin) and returns a poller fed by it.
func NewStdinKeyboardPoller(r *os.File) *StdinKeyboardPoller {
	p := &StdinKeyboardPoller{}
	go p.readLoop(r)
	return p
}

func (p *StdinKeyboardPoller) readLoop(r *os.File) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.pending = append(p.pending, line[0])
		p.mu.Unlock()
	}
}

func (p *StdinKeyboardPoller) PollKey() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0
	}
	k := p.pending[0]
	p.pending = p.pending[1:]
	return k
}

// FakeKeyboardPoller is a test double that returns queued keys in order.
type FakeKeyboardPoller struct {
	mu    sync.Mutex
	queue []byte
}

func (f *FakeKeyboardPoller) Push(key byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, key)
}

func (f *FakeKeyboardPoller) PollKey() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return 0
	}
	k := f.queue[0]
	f.queue = f.queue[1:]
	return k
}
