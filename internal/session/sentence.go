// Package session implements the server-side session router: the two
// worker goroutines that multiplex a TCP client and a Unix-socket
// orchestrator behind shared pause/interrupt state, and the
// sentence-level TTS pipeline that streams synthesized audio to the
// client as each sentence completes.
package session

import (
	"bufio"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spacecodeur/space-language-trainer/internal/metrics"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// TtsChunkSize is the maximum number of samples (250ms at 16kHz) sent per
// TtsAudioChunk frame.
const TtsChunkSize = 4000

// CrossfadeLen is the number of samples (10ms at 16kHz) blended at
// sentence boundaries in the multi-sentence pipeline.
const CrossfadeLen = 160

// SplitSentences splits trimmed text into sentences for streaming TTS
// synthesis. A boundary occurs at '.', '!', or '?' followed by whitespace
// or end-of-string; punctuation stays attached to the preceding sentence.
// Empty segments are skipped. "Version 3.5 is out" is one sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	bytes := []byte(text)

	for i := 0; i < len(bytes); i++ {
		b := bytes[i]
		if (b == '.' || b == '!' || b == '?') && (i+1 == len(bytes) || isASCIIWhitespace(bytes[i+1])) {
			sentence := strings.TrimSpace(text[start : i+1])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = i + 1
		}
	}

	tail := strings.TrimSpace(text[start:])
	if tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}

func isASCIIWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// ApplyCrossfade blends prevTail into the beginning of samples in place.
// prevTail should hold up to CrossfadeLen samples (the tail of the
// previous sentence); only min(len(prevTail), len(samples), CrossfadeLen)
// samples are blended. Uses float64 arithmetic to avoid int16 overflow.
func ApplyCrossfade(prevTail []int16, samples []int16) {
	length := len(prevTail)
	if len(samples) < length {
		length = len(samples)
	}
	if length > CrossfadeLen {
		length = CrossfadeLen
	}
	for i := 0; i < length; i++ {
		t := float64(i) / float64(CrossfadeLen)
		blended := float64(prevTail[i])*(1-t) + float64(samples[i])*t
		samples[i] = clampI16(blended)
	}
}

func clampI16(v float64) int16 {
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	if v >= 0 {
		return int16(v + 0.5)
	}
	return int16(v - 0.5)
}

// TailOf returns the last CrossfadeLen samples of samples for use as the
// next sentence's crossfade source, or nil if samples is shorter than
// CrossfadeLen (no reliable crossfade source).
func TailOf(samples []int16) []int16 {
	if len(samples) < CrossfadeLen {
		return nil
	}
	tail := make([]int16, CrossfadeLen)
	copy(tail, samples[len(samples)-CrossfadeLen:])
	return tail
}

// sendTtsChunks writes samples as a sequence of TtsAudioChunk frames
// (without a terminating TtsEnd), checking interrupted before each chunk.
// Returns true if interrupted mid-stream.
func sendTtsChunks(w *bufio.Writer, samples []int16, interrupted *atomic.Bool) (bool, error) {
	for offset := 0; offset < len(samples); offset += TtsChunkSize {
		if interrupted.Load() {
			return true, nil
		}
		end := offset + TtsChunkSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := wire.WriteServerMsg(w, wire.TtsAudioChunk(samples[offset:end])); err != nil {
			return false, err
		}
		metrics.TtsChunksSent.Inc()
	}
	return false, nil
}

// sendTtsAudio writes samples as TtsAudioChunk frames followed by exactly
// one TtsEnd, regardless of whether playback was interrupted mid-stream.
// Returns true if interrupted.
func sendTtsAudio(w *bufio.Writer, samples []int16, interrupted *atomic.Bool) (bool, error) {
	wasInterrupted, err := sendTtsChunks(w, samples, interrupted)
	if err != nil {
		return wasInterrupted, err
	}
	if err := wire.WriteServerMsg(w, wire.TtsEnd()); err != nil {
		return wasInterrupted, err
	}
	return wasInterrupted, nil
}

// ParseSpeedMarker strips an optional leading "[SPEED:X.X]" marker from
// text, returning the parsed speed (if any) and the remaining text with
// leading whitespace trimmed. An invalid or absent marker leaves text
// unchanged.
func ParseSpeedMarker(text string) (speed float64, hasSpeed bool, rest string) {
	const prefix = "[SPEED:"
	if !strings.HasPrefix(text, prefix) {
		return 0, false, text
	}
	after := text[len(prefix):]
	closeIdx := strings.IndexByte(after, ']')
	if closeIdx < 0 {
		return 0, false, text
	}
	valueStr := after[:closeIdx]
	v, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, false, text
	}
	remainder := strings.TrimLeft(after[closeIdx+1:], " \t\n\r")
	return v, true, remainder
}
