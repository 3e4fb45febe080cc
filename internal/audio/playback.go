package audio

import "sync"

// PlaybackEngine feeds an audio output device from a bounded channel of
// TTS sample chunks. The callback policy: drain any leftover from a
// previous callback first, then pull non-blocking chunks from the
// channel, then self-heal an underrun with silence. It never blocks and
// never grows leftover past one second of audio at the device's output
// rate.
type PlaybackEngine struct {
	mu          sync.Mutex
	leftover    []int16
	maxLeftover int
	chunks      chan []int16
}

// NewPlaybackEngine creates a playback engine for the given output sample
// rate. chunkBuffer is the capacity of the channel callers push
// synthesized audio chunks onto.
func NewPlaybackEngine(outputRate, chunkBuffer int) *PlaybackEngine {
	return &PlaybackEngine{
		maxLeftover: outputRate, // 1 second of audio at the device rate
		chunks:      make(chan []int16, chunkBuffer),
	}
}

// Push enqueues a chunk of synthesized audio for playback. Safe to call
// from any goroutine; never blocks the caller beyond the channel's
// buffering (a full channel means the producer is outrunning playback and
// should itself decide whether to drop or wait).
func (p *PlaybackEngine) Push(chunk []int16) {
	p.chunks <- chunk
}

// Clear drops all queued chunks and any leftover; the client core calls
// it on barge-in so the interrupted reply stops playing at once.
func (p *PlaybackEngine) Clear() {
	p.mu.Lock()
	p.leftover = nil
	p.mu.Unlock()
	for {
		select {
		case <-p.chunks:
		default:
			return
		}
	}
}

// Fill implements the real-time output callback: it writes exactly
// len(out) samples into out, in order:
//  1. drain remaining leftover samples (capped at maxLeftover),
//  2. pull non-blocking chunks from the channel until out is full,
//     stashing any overflow into leftover (capped),
//  3. fill any remainder with silence if the channel goes empty mid-buffer.
//
// Fill never blocks and never allocates beyond the bounded leftover.
func (p *PlaybackEngine) Fill(out []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	offset := 0
	if len(p.leftover) > 0 {
		n := copy(out, p.leftover)
		offset = n
		p.leftover = p.leftover[n:]
	}

	for offset < len(out) {
		select {
		case chunk := <-p.chunks:
			n := copy(out[offset:], chunk)
			offset += n
			if n < len(chunk) {
				room := p.maxLeftover - len(p.leftover)
				rest := chunk[n:]
				if room > 0 {
					if room > len(rest) {
						room = len(rest)
					}
					p.leftover = append(p.leftover, rest[:room]...)
				}
			}
		default:
			for i := offset; i < len(out); i++ {
				out[i] = 0
			}
			return
		}
	}
}
