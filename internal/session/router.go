package session

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spacecodeur/space-language-trainer/internal/metrics"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// Transcriber is the opaque STT capability: transcribe a segment of
// 16kHz mono PCM16 into text.
type Transcriber interface {
	Transcribe(samples []int16) (string, error)
}

// TtsEngine is the opaque TTS capability: synthesize text into 16kHz
// mono PCM16 and optionally adjust playback speed.
type TtsEngine interface {
	Synthesize(text string) ([]int16, error)
	SetSpeed(speed float64)
}

// writer is a single exclusively-owned frame writer shared between the
// STT and TTS router goroutines. write holds the mutex for one
// write+flush; withLock holds it for all of fn, so while a sentence's
// chunked audio is being sent the other goroutine waits for the whole
// sentence, not just one frame.
type writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (cw *writer) write(m wire.ServerMsg) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return wire.WriteServerMsg(cw.w, m)
}

// withLock holds the writer's mutex for the duration of fn, so a
// multi-frame send (chunked TTS audio) is never interleaved with a frame
// written by the other router goroutine.
func (cw *writer) withLock(fn func(*bufio.Writer) error) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return fn(cw.w)
}

// Session holds the per-connection state shared by the STT and TTS
// router goroutines: pause/interrupt flags and the shared client writer.
// Created on TCP+Unix accept, destroyed on either peer disconnect or
// SessionEnd.
type Session struct {
	paused         atomic.Bool
	ttsInterrupted atomic.Bool
	client         *writer
	logger         *slog.Logger
	transcriber    Transcriber
	tts            TtsEngine
}

// RunSession drives the two session-router goroutines (STT thread, TTS
// thread) over tcpConn (client) and unixConn (orchestrator) until either
// peer disconnects or SessionEnd arrives. It blocks until
// the session ends and returns the first worker error, if any (excluding
// clean disconnects).
func RunSession(transcriber Transcriber, tts TtsEngine, tcpConn, unixConn net.Conn, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.NewString()
	logger = logger.With("session_id", sessionID)

	sess := &Session{
		client:      &writer{w: bufio.NewWriter(tcpConn)},
		logger:      logger,
		transcriber: transcriber,
		tts:         tts,
	}

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	clientReader := bufio.NewReader(tcpConn)
	orchReader := bufio.NewReader(unixConn)
	orchWriter := bufio.NewWriter(unixConn)

	sttDone := make(chan error, 1)
	ttsDone := make(chan error, 1)

	go func() { sttDone <- sess.sttRouter(clientReader, orchWriter) }()
	go func() { ttsDone <- sess.ttsRouter(orchReader) }()

	// Supervisor: when either router finishes, close both connections to
	// unblock the other router's blocking read, then wait for both to exit.
	var firstErr error
	sttFinished := false
	select {
	case err := <-sttDone:
		firstErr = err
		sttFinished = true
		logger.Debug("stt router finished first", "err", err)
	case err := <-ttsDone:
		firstErr = err
		logger.Debug("tts router finished first", "err", err)
	}

	tcpConn.Close()
	unixConn.Close()

	if sttFinished {
		<-ttsDone
	} else {
		<-sttDone
	}

	if firstErr != nil && !wire.IsDisconnect(firstErr) {
		return firstErr
	}
	return nil
}

// sttRouter reads ClientMsg frames from the client and dispatches them:
// audio is transcribed and forwarded, control flags toggle shared state,
// and feedback/summary/cancel messages relay to the orchestrator.
func (s *Session) sttRouter(r *bufio.Reader, orchWriter *bufio.Writer) error {
	for {
		msg, err := wire.ReadClientMsg(r)
		if err != nil {
			if wire.IsDisconnect(err) {
				return nil
			}
			return fmt.Errorf("stt router read: %w", err)
		}

		switch msg.Tag {
		case wire.TagAudioSegment:
			metrics.AudioSegmentsReceived.Inc()
			if s.paused.Load() {
				metrics.AudioSegmentsDroppedPaused.Inc()
				continue
			}
			// transcription happens via the Transcriber owned exclusively
			// by this goroutine; with no transcriber (tests, mock wiring)
			// transcribe returns empty text and the segment is skipped.
			start := time.Now()
			text, terr := s.transcribe(msg.Samples)
			metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
			if terr != nil {
				s.logger.Warn("transcription failed", "err", terr)
				continue
			}
			if text == "" {
				continue
			}
			if err := s.client.write(wire.Text("You: " + text)); err != nil {
				return err
			}
			if err := wire.WriteOrchestratorMsg(orchWriter, wire.TranscribedText(text)); err != nil {
				return err
			}
		case wire.TagPauseRequest:
			s.paused.Store(true)
		case wire.TagResumeRequest:
			s.paused.Store(false)
		case wire.TagInterruptTts:
			s.ttsInterrupted.Store(true)
		case wire.TagFeedbackChoiceC:
			if err := wire.WriteOrchestratorMsg(orchWriter, wire.OrcFeedbackChoice(msg.Choice)); err != nil {
				return err
			}
		case wire.TagSummaryRequestC:
			if err := wire.WriteOrchestratorMsg(orchWriter, wire.OrcSummaryRequest()); err != nil {
				return err
			}
		case wire.TagCancelExchangeC:
			if err := wire.WriteOrchestratorMsg(orchWriter, wire.OrcCancelExchange()); err != nil {
				return err
			}
		}
	}
}

func (s *Session) transcribe(samples []int16) (string, error) {
	if s.transcriber == nil {
		return "", nil
	}
	return s.transcriber.Transcribe(samples)
}

// ttsRouter reads OrchestratorMsg frames off the Unix socket and
// dispatches them, running the sentence pipeline for ResponseText and
// relaying feedback/status/summary frames to the client.
func (s *Session) ttsRouter(r *bufio.Reader) error {
	for {
		msg, err := wire.ReadOrchestratorMsg(r)
		if err != nil {
			if wire.IsDisconnect(err) {
				return nil
			}
			return fmt.Errorf("tts router read: %w", err)
		}

		switch msg.Tag {
		case wire.TagResponseText:
			s.ttsInterrupted.Store(false)
			if s.paused.Load() {
				if err := s.client.write(wire.TtsEnd()); err != nil {
					return err
				}
				continue
			}
			if err := s.handleResponseText(msg.Text); err != nil {
				return err
			}
		case wire.TagFeedbackText:
			if err := s.client.write(wire.Feedback(msg.Text)); err != nil {
				return err
			}
		case wire.TagStatusNotificationO:
			if err := s.client.write(wire.StatusNotification(msg.Text)); err != nil {
				return err
			}
		case wire.TagSummaryResponse:
			if err := s.client.write(wire.SessionSummary(msg.Text)); err != nil {
				return err
			}
		case wire.TagSessionEnd:
			return nil
		default:
			s.logger.Debug("tts router: unexpected message, ignoring", "tag", fmt.Sprintf("0x%02x", msg.Tag))
		}
	}
}

func (s *Session) handleResponseText(text string) error {
	if speed, ok, rest := ParseSpeedMarker(text); ok {
		if s.tts != nil {
			s.tts.SetSpeed(speed)
		}
		text = rest
	}

	if err := s.client.write(wire.Text("AI: " + text)); err != nil {
		return err
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return s.client.write(wire.TtsEnd())
	}

	if len(sentences) == 1 {
		samples, err := s.synthesize(sentences[0])
		if err != nil {
			s.logger.Warn("tts synthesis failed", "err", err)
			return s.client.write(wire.TtsEnd())
		}
		metrics.TtsSentencesSynthesized.Inc()
		return s.client.withLock(func(w *bufio.Writer) error {
			wasInterrupted, err := sendTtsAudio(w, samples, &s.ttsInterrupted)
			if wasInterrupted {
				metrics.TtsInterruptions.Inc()
			}
			return err
		})
	}

	return s.runMultiSentencePipeline(sentences)
}

// ttsSentence pairs a synthesized sentence's samples with any error
// encountered producing them, passed from the producer to the consumer.
type ttsSentence struct {
	samples []int16
	err     error
}

// runMultiSentencePipeline synthesizes sentences via a producer goroutine
// and streams them to the client via a bounded channel (capacity 2),
// applying crossfade at sentence boundaries.
func (s *Session) runMultiSentencePipeline(sentences []string) error {
	const channelCap = 2
	ch := make(chan ttsSentence, channelCap)

	go func() {
		defer close(ch)
		for _, sentence := range sentences {
			if s.ttsInterrupted.Load() {
				return
			}
			samples, err := s.synthesize(sentence)
			ch <- ttsSentence{samples: samples, err: err}
			if err != nil {
				return
			}
		}
	}()

	var prevTail []int16
	interrupted := false

	for item := range ch {
		if interrupted {
			// Keep draining so the producer never blocks on a full channel.
			continue
		}
		if item.err != nil {
			s.logger.Warn("tts synthesis failed mid-stream", "err", item.err)
			continue
		}
		samples := item.samples
		if prevTail != nil && len(samples) >= CrossfadeLen {
			ApplyCrossfade(prevTail, samples)
		}
		prevTail = TailOf(samples)
		metrics.TtsSentencesSynthesized.Inc()

		var wasInterrupted bool
		err := s.client.withLock(func(w *bufio.Writer) error {
			var werr error
			wasInterrupted, werr = sendTtsChunks(w, samples, &s.ttsInterrupted)
			return werr
		})
		if err != nil {
			return err
		}
		if wasInterrupted {
			interrupted = true
			metrics.TtsInterruptions.Inc()
		}
	}

	return s.client.write(wire.TtsEnd())
}

func (s *Session) synthesize(text string) ([]int16, error) {
	if s.tts == nil {
		return nil, nil
	}
	return s.tts.Synthesize(text)
}
