// Package voiceloop implements the orchestrator's voice loop: the
// three-state machine (WaitingForTranscription, QueryingLlm,
// WaitingForTts) that turns a transcription into a spoken response,
// gating on an optional [FEEDBACK]...[/FEEDBACK] block from the LLM.
package voiceloop

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spacecodeur/space-language-trainer/internal/feedback"
	"github.com/spacecodeur/space-language-trainer/internal/llmsubprocess"
	"github.com/spacecodeur/space-language-trainer/internal/summary"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// logTextLimit caps transcription/response text in log lines.
const logTextLimit = 80

// truncateUTF8 truncates s to at most maxBytes without splitting a
// UTF-8 character.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// State names the voice loop's current phase, kept mainly for logging;
// the loop itself is driven by the switch below rather than by dispatch
// on this value.
type State int

const (
	WaitingForTranscription State = iota
	QueryingLlm
	WaitingForTts
)

func (s State) String() string {
	switch s {
	case WaitingForTranscription:
		return "WaitingForTranscription"
	case QueryingLlm:
		return "QueryingLlm"
	case WaitingForTts:
		return "WaitingForTts"
	default:
		return "Unknown"
	}
}

// FormatReminder is the persistent directive prepended to every prompt:
// spoken plain sentences only, 1-3 sentences, with an optional leading
// [FEEDBACK]...[/FEEDBACK] block the model may emit ahead of its answer.
const FormatReminder = "Respond with spoken, plain sentences only (1-3 sentences, no markdown, no lists). " +
	"If you want to flag something about the user's phrasing before answering, you may prepend exactly one " +
	"[FEEDBACK]...[/FEEDBACK] block ahead of your answer.\n\n"

// RetryContext is injected into the next prompt after the user chooses
// "Retry" at the feedback gate.
const RetryContext = "[The user chose to rephrase their last message. Please wait for it.]\n\n"

const fallbackApology = "I'm sorry, something went wrong. Please try again."

// Loop drives one orchestrator session: reading transcriptions off the
// shared server tag space, querying the LLM backend, and writing
// responses back.
type Loop struct {
	Backend   llmsubprocess.Backend
	AgentPath string
	Logger    *slog.Logger

	state        State
	turnCount    int
	retryContext string
	turns        []summary.Turn
	pendingTurn  string
}

func (l *Loop) setState(s State) {
	if s == l.state {
		return
	}
	l.Logger.Debug("voice loop state", "from", l.state.String(), "to", s.String())
	l.state = s
}

// NewLoop builds a Loop ready to run.
func NewLoop(backend llmsubprocess.Backend, agentPath string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Backend: backend, AgentPath: agentPath, Logger: logger}
}

// Run drives the voice loop until the peer disconnects, returning nil on
// clean disconnect and a non-nil error only for unexpected I/O failures.
func (l *Loop) Run(ctx context.Context, r *bufio.Reader, w *bufio.Writer) error {
	for {
		msg, err := wire.ReadServerOrcMsg(r)
		if err != nil {
			if wire.IsDisconnect(err) {
				return nil
			}
			return fmt.Errorf("voice loop read: %w", err)
		}

		switch msg.Tag {
		case wire.TagError:
			l.Logger.Warn("server reported an error", "text", msg.Text)
			continue
		case wire.TagReady:
			l.Logger.Debug("stray Ready message, ignoring")
			continue
		case wire.TagSessionEnd:
			return nil
		case wire.TagSummaryRequestO:
			md := summary.BuildMarkdown(l.turns, time.Now())
			if err := wire.WriteOrchestratorMsg(w, wire.SummaryResponse(md)); err != nil {
				return err
			}
			continue
		case wire.TagTranscribedText:
			// falls through to the turn below
		default:
			l.Logger.Debug("voice loop: unexpected message, ignoring", "tag", fmt.Sprintf("0x%02x", msg.Tag))
			continue
		}

		if err := l.runTurn(ctx, msg.Text, r, w); err != nil {
			return err
		}
		l.setState(WaitingForTranscription)
	}
}

// runTurn performs one QueryingLlm -> (feedback gate) -> WaitingForTts
// transition for a single transcribed utterance. A "Retry" or "Cancel"
// choice at the feedback gate returns without emitting a response; the
// caller's read loop then applies any retryContext to the *next*
// transcription.
func (l *Loop) runTurn(ctx context.Context, transcript string, r *bufio.Reader, w *bufio.Writer) error {
	l.turnCount++
	l.pendingTurn = transcript
	turnID := uuid.NewString()
	l.Logger.Info("transcription received", "turn_id", turnID, "text", truncateUTF8(transcript, logTextLimit))
	l.setState(QueryingLlm)
	prompt := FormatReminder + l.retryContext + transcript
	l.retryContext = ""

	response, err := l.Backend.Query(ctx, prompt, l.AgentPath, l.turnCount > 1)
	if err != nil {
		l.Logger.Warn("llm query failed", "turn_id", turnID, "err", err)
		l.recordTurn(fallbackApology)
		return wire.WriteOrchestratorMsg(w, wire.ResponseText(fallbackApology))
	}
	l.Logger.Info("llm response", "turn_id", turnID, "text", truncateUTF8(response, logTextLimit))
	l.setState(WaitingForTts)

	block, ok := feedback.ExtractFeedbackBlock(response)
	if !ok {
		l.recordTurn(block.Rest)
		return wire.WriteOrchestratorMsg(w, wire.ResponseText(block.Rest))
	}

	return l.runFeedbackGate(block.Body, block.Rest, r, w)
}

// recordTurn appends the pending transcript and its spoken response to
// the session history used to build the markdown summary.
func (l *Loop) recordTurn(response string) {
	l.turns = append(l.turns, summary.Turn{Transcript: l.pendingTurn, Response: response})
}

// runFeedbackGate sends the feedback text to the client and waits for
// FeedbackChoice or CancelExchange.
func (l *Loop) runFeedbackGate(feedbackBody, spoken string, r *bufio.Reader, w *bufio.Writer) error {
	if err := wire.WriteOrchestratorMsg(w, wire.FeedbackText(feedbackBody)); err != nil {
		return err
	}

	for {
		msg, err := wire.ReadServerOrcMsg(r)
		if err != nil {
			if wire.IsDisconnect(err) {
				return nil
			}
			return fmt.Errorf("voice loop feedback-gate read: %w", err)
		}

		switch msg.Tag {
		case wire.TagFeedbackChoiceO:
			if msg.Choice {
				l.recordTurn(spoken)
				return wire.WriteOrchestratorMsg(w, wire.ResponseText(spoken))
			}
			l.retryContext = RetryContext
			return nil
		case wire.TagCancelExchangeO:
			// Cancel maps to the retry path without the retry-context
			// prefix.
			l.retryContext = ""
			return nil
		default:
			l.Logger.Debug("feedback gate: ignoring unexpected message", "tag", fmt.Sprintf("0x%02x", msg.Tag))
		}
	}
}
