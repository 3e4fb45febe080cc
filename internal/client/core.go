package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacecodeur/space-language-trainer/internal/audio"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// Mode selects how captured audio is segmented into AudioSegment
// messages.
type Mode int

const (
	// ModeManual accumulates audio into a single segment sent when
	// listening toggles off (push-to-talk).
	ModeManual Mode = iota
	// ModeAuto feeds captured audio through VAD, emitting a segment each
	// time silence ends a speech run, plus a final flush on listening-off.
	ModeAuto
)

// pollInterval is the bounded wait on the audio capture channel each
// loop iteration; control events are serviced between waits.
const pollInterval = 100 * time.Millisecond

// replayChunkSize is the chunk size used when pushing replayed audio
// back through the playback channel.
const replayChunkSize = 4000

// safeWriter serializes writes to the server connection across the
// main loop goroutine and the feedback-gate/TCP-reader goroutine; the
// mutex is held only for one frame's write+flush.
type safeWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (s *safeWriter) writeClient(m wire.ClientMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteClientMsg(s.w, m)
}

// Core drives the client's single cooperative main loop: it
// reads captured audio, resamples and segments it per Mode, watches the
// hotkey listener and keyboard poller for control events, and feeds
// server messages arriving on a separate TCP-reader goroutine into
// playback, the feedback gate, and the replay buffer.
type Core struct {
	conn net.Conn
	w    *safeWriter
	r    *bufio.Reader

	deviceRate int
	captured   <-chan []int16
	playback   *audio.PlaybackEngine

	mode   Mode
	vad    *audio.VAD
	hotkey HotkeyListener

	keyboard KeyboardPoller
	choices  ChoiceReader

	replay    *ReplayBuffer
	isPlaying atomic.Bool

	captureResampler  *audio.Resampler
	playbackResampler *audio.Resampler
	manualAccum       []int16
	wasListening      bool

	quitRequested atomic.Bool
	summaryChan   chan pendingSummaryMsg

	out    io.Writer
	logger *slog.Logger
}

// Config bundles the collaborators Core needs. Captured and Playback
// are the client's audio device bindings; Hotkey and Keyboard are the
// evdev/TUI boundaries.
type Config struct {
	Conn net.Conn
	// Reader is the buffered reader already wrapped around Conn by the
	// connect handshake. Reusing it matters: wrapping Conn in a fresh
	// bufio.Reader here would lose any bytes the handshake read ahead.
	Reader       *bufio.Reader
	DeviceRate   int
	Captured     <-chan []int16
	Playback     *audio.PlaybackEngine
	Mode         Mode
	VAD          *audio.VAD
	Hotkey       HotkeyListener
	Keyboard     KeyboardPoller
	Choices      ChoiceReader
	Out          io.Writer
	Logger       *slog.Logger
}

// NewCore builds a Core ready to Run.
func NewCore(cfg Config) *Core {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := cfg.Reader
	if r == nil {
		r = bufio.NewReader(cfg.Conn)
	}
	return &Core{
		conn:        cfg.Conn,
		w:           &safeWriter{w: bufio.NewWriter(cfg.Conn)},
		r:           r,
		deviceRate:  cfg.DeviceRate,
		captured:    cfg.Captured,
		playback:    cfg.Playback,
		mode:        cfg.Mode,
		vad:         cfg.VAD,
		hotkey:      cfg.Hotkey,
		keyboard:    cfg.Keyboard,
		choices:     cfg.Choices,
		replay:      NewReplayBuffer(),
		summaryChan: make(chan pendingSummaryMsg, 1),
		out:         cfg.Out,
		logger:      logger,
	}
}

// Run drives the client main loop until ctx is canceled, the server
// disconnects, or the user quits. It starts the TCP-reader goroutine
// internally and blocks until the session ends.
func (c *Core) Run(ctx context.Context) error {
	readerErrCh := make(chan error, 1)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	go func() { readerErrCh <- c.readLoop(readerCtx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readerErrCh:
			return err
		case samples, ok := <-c.captured:
			if ok && c.hotkey.IsListening() {
				if err := c.onCapturedSample(samples); err != nil {
					return err
				}
			}
		case <-time.After(pollInterval):
		}

		if err := c.serviceCancel(); err != nil {
			return err
		}
		if err := c.servicePolling(); err != nil {
			return err
		}
		if err := c.serviceListeningEdge(); err != nil {
			return err
		}
		if c.quitRequested.Load() {
			quit, err := c.runQuitFlow(ctx)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// serviceCancel handles the evdev cancel key with the highest
// priority. During TTS: interrupt the audio, cancel the exchange, and
// clear the replay buffer. While idle: cancel the exchange and clear
// the replay buffer. While listening the key does nothing.
func (c *Core) serviceCancel() error {
	if !c.hotkey.CancelPressed() {
		return nil
	}
	if c.isPlaying.Load() {
		if err := c.w.writeClient(wire.InterruptTts()); err != nil {
			return err
		}
		if err := c.w.writeClient(wire.ClientCancelExchange()); err != nil {
			return err
		}
		c.replay.Clear()
	} else if !c.hotkey.IsListening() {
		if err := c.w.writeClient(wire.ClientCancelExchange()); err != nil {
			return err
		}
		c.replay.Clear()
	}
	return nil
}

// servicePolling handles the '3' (replay), '4' (cancel), and 'q'
// (quit) keys, which only apply while not listening.
func (c *Core) servicePolling() error {
	if c.hotkey.IsListening() {
		return nil
	}
	switch c.keyboard.PollKey() {
	case 0:
		return nil
	case 'q':
		c.quitRequested.Store(true)
	case '3':
		if !c.isPlaying.Load() {
			c.replayNow()
		}
	case '4':
		if !c.isPlaying.Load() && !c.replay.Empty() {
			if err := c.w.writeClient(wire.ClientCancelExchange()); err != nil {
				return err
			}
			c.replay.Clear()
		}
	}
	return nil
}

// serviceListeningEdge detects ON<->OFF transitions of the listen
// hotkey and performs the associated send/flush/log actions.
func (c *Core) serviceListeningEdge() error {
	now := c.hotkey.IsListening()
	if now == c.wasListening {
		return nil
	}
	defer func() { c.wasListening = now }()

	if now {
		return c.onListeningStart()
	}
	return c.onListeningStop()
}

func (c *Core) onListeningStart() error {
	if c.isPlaying.Load() {
		if err := c.w.writeClient(wire.InterruptTts()); err != nil {
			return err
		}
		c.replay.Clear()
		c.playback.Clear()
	}
	if c.mode == ModeAuto {
		if err := c.w.writeClient(wire.ResumeRequest()); err != nil {
			return err
		}
	}
	c.logger.Info("[LISTENING]")
	c.captureResampler = audio.NewResampler(c.deviceRate, 16000, 1)
	c.manualAccum = nil
	c.vad.Reset()
	return nil
}

func (c *Core) onListeningStop() error {
	switch c.mode {
	case ModeManual:
		if len(c.manualAccum) > 0 {
			if err := c.w.writeClient(wire.AudioSegment(c.manualAccum)); err != nil {
				return err
			}
		}
		c.manualAccum = nil
	case ModeAuto:
		if flushed := c.vad.Flush(); len(flushed) > 0 {
			if err := c.w.writeClient(wire.AudioSegment(flushed)); err != nil {
				return err
			}
		}
		c.vad.Reset()
		if err := c.w.writeClient(wire.PauseRequest()); err != nil {
			return err
		}
	}
	if c.captureResampler != nil {
		c.captureResampler.Process(nil) // flush and discard; listening is off
		c.captureResampler = nil
	}
	c.logger.Info("[PAUSED]")
	return nil
}

// onCapturedSample resamples one captured chunk to 16kHz and feeds it
// into the active Mode's segmentation.
func (c *Core) onCapturedSample(samples []int16) error {
	if c.captureResampler == nil {
		return nil
	}
	resampled := c.captureResampler.Process(samples)
	if len(resampled) == 0 {
		return nil
	}
	if c.mode == ModeManual {
		c.manualAccum = append(c.manualAccum, resampled...)
		return nil
	}
	result := c.vad.Process(resampled)
	if result.SpeechEnded {
		return c.w.writeClient(wire.AudioSegment(result.Audio))
	}
	return nil
}

// replayNow pushes the replay buffer's contents back through the
// playback channel in chunks of replayChunkSize samples.
func (c *Core) replayNow() {
	samples := c.replay.Snapshot()
	for offset := 0; offset < len(samples); offset += replayChunkSize {
		end := offset + replayChunkSize
		if end > len(samples) {
			end = len(samples)
		}
		c.playback.Push(samples[offset:end])
	}
}

func (c *Core) printLine(line string) {
	if c.out != nil {
		fmt.Fprintln(c.out, line)
	}
}
