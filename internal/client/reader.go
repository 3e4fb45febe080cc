package client

import (
	"context"
	"strings"

	"github.com/spacecodeur/space-language-trainer/internal/audio"
	"github.com/spacecodeur/space-language-trainer/internal/feedback"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// EscKey is the byte ReadChoice returns for an Esc keypress at the
// feedback gate; Esc cancels, like '4' or the evdev cancel key.
const EscKey byte = 0x1b

// ChoiceReader is the client's capability boundary onto the feedback
// gate's interactive prompt. A real TUI blocks on a single keystroke;
// the minimal default here blocks on a line of stdin input instead.
type ChoiceReader interface {
	// ReadChoice blocks until the user selects '1', '2', '3', '4', or Esc.
	ReadChoice() byte
}

// pendingSummaryMsg carries the last-received SessionSummary text across
// from the reader goroutine to the quit flow waiting on it.
type pendingSummaryMsg struct {
	text string
}

// readLoop owns the client's TCP connection to the server and
// dispatches every ServerMsg: playback, replay accumulation, the
// feedback gate, and summary delivery. It returns nil on a clean server
// disconnect.
func (c *Core) readLoop(ctx context.Context) error {
	for {
		msg, err := wire.ReadServerMsg(c.r)
		if err != nil {
			if wire.IsDisconnect(err) {
				c.logger.Info("[Server disconnected]")
				return nil
			}
			return err
		}

		switch msg.Tag {
		case wire.TagReady:
			// Stray Ready after the initial handshake; nothing to do.
		case wire.TagText:
			if strings.HasPrefix(msg.Text, "AI:") {
				c.replay.Clear()
			}
			c.printLine(msg.Text)
		case wire.TagError:
			c.printLine("[Error] " + msg.Text)
		case wire.TagTtsAudioChunk:
			c.onTtsAudioChunk(msg.Samples)
		case wire.TagTtsEnd:
			c.onTtsEnd()
		case wire.TagFeedback:
			if err := c.runFeedbackGate(ctx, msg.Text); err != nil {
				return err
			}
		case wire.TagSessionSummary:
			select {
			case c.summaryChan <- pendingSummaryMsg{text: msg.Text}:
			default:
			}
		case wire.TagStatusNotification:
			c.printLine("[" + msg.Text + "]")
		}
	}
}

// onTtsAudioChunk resamples one chunk of incoming 16kHz TTS audio to
// the device's output rate, pushes it to playback, and appends it to
// the replay buffer. A fresh resampler is created per response since
// the flush convention forbids reusing one across the TtsEnd boundary.
func (c *Core) onTtsAudioChunk(samples []int16) {
	c.isPlaying.Store(true)
	if c.playbackResampler == nil {
		c.playbackResampler = audio.NewResampler(16000, c.deviceRate, 1)
	}
	out := c.playbackResampler.Process(samples)
	if len(out) == 0 {
		return
	}
	c.replay.Append(out)
	c.playback.Push(out)
}

// onTtsEnd flushes the playback resampler's carry for this response
// and clears isPlaying.
func (c *Core) onTtsEnd() {
	if c.playbackResampler != nil {
		if tail := c.playbackResampler.Process(nil); len(tail) > 0 {
			c.replay.Append(tail)
			c.playback.Push(tail)
		}
		c.playbackResampler = nil
	}
	c.isPlaying.Store(false)
}

// runFeedbackGate renders a Feedback message's text with the
// severity/corrected classification, then prompts the user for
// Continue/Retry/Replay/Cancel until a terminal choice is made.
func (c *Core) runFeedbackGate(ctx context.Context, text string) error {
	body, rest, hasCorrected := feedback.ExtractCorrected(text)
	c.renderFeedbackLines(feedback.ParseLines(rest))
	if hasCorrected {
		c.renderCorrected(feedback.SegmentCorrected(body))
	}

	for {
		if c.hotkey.CancelPressed() {
			return c.w.writeClient(wire.ClientCancelExchange())
		}

		c.printLine("[1] Continue  [2] Retry  [3] Replay  [4] Cancel")
		choice := c.choices.ReadChoice()

		switch choice {
		case '1':
			return c.w.writeClient(wire.ClientFeedbackChoice(true))
		case '2':
			return c.w.writeClient(wire.ClientFeedbackChoice(false))
		case '3':
			c.replayNow()
		case '4', EscKey:
			return c.w.writeClient(wire.ClientCancelExchange())
		}
	}
}

func (c *Core) renderFeedbackLines(lines []feedback.Line) {
	for _, line := range lines {
		switch line.Severity {
		case feedback.Severe:
			c.printLine("✗ " + line.Text)
		case feedback.Soft:
			c.printLine("➜ " + line.Text)
		default:
			c.printLine(line.Text)
		}
	}
}

func (c *Core) renderCorrected(spans []feedback.Span) {
	var b strings.Builder
	for _, span := range spans {
		if span.Kind == feedback.Corrected {
			b.WriteString("[green]" + span.Text + "[/green]")
		} else {
			b.WriteString(span.Text)
		}
	}
	c.printLine(b.String())
}

