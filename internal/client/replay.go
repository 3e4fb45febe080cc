package client

import "sync"

// ReplayCap is the maximum number of samples held by the replay buffer:
// 5 minutes at 16kHz mono.
const ReplayCap = 16_000 * 60 * 5

// ReplayBuffer is the client-side ordered sequence of i16 samples
// accumulated from TtsAudioChunk frames during the current response, so
// the user can replay it later at the feedback gate or via the '3'
// key. Its lock is never held across I/O.
type ReplayBuffer struct {
	mu      sync.Mutex
	samples []int16
}

// NewReplayBuffer returns an empty replay buffer.
func NewReplayBuffer() *ReplayBuffer { return &ReplayBuffer{} }

// Append adds chunk to the buffer, capping total length at ReplayCap by
// dropping the oldest samples first.
func (r *ReplayBuffer) Append(chunk []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, chunk...)
	if overflow := len(r.samples) - ReplayCap; overflow > 0 {
		r.samples = r.samples[overflow:]
	}
}

// Clear empties the buffer, used on CancelExchange, a new "AI:" Text
// line, or an evdev cancel.
func (r *ReplayBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = nil
}

// Snapshot returns a copy of the buffered samples for replaying.
func (r *ReplayBuffer) Snapshot() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

// Empty reports whether the buffer currently holds no samples.
func (r *ReplayBuffer) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples) == 0
}
