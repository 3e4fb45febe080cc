package audio

import (
	"math"
	"testing"
)

func TestResamplerNoopMono(t *testing.T) {
	r := NewResampler(16000, 16000, 1)
	input := make([]int16, 1600)
	for i := range input {
		input[i] = int16(i)
	}
	out := r.Process(input)
	if len(out) != len(input) {
		t.Fatalf("want %d samples, got %d", len(input), len(out))
	}
	for i := range input {
		if out[i] != input[i] {
			t.Fatalf("sample %d: want %d got %d", i, input[i], out[i])
		}
	}
	if flush := r.Process(nil); len(flush) != 0 {
		t.Fatalf("no-op flush should be empty, got %d samples", len(flush))
	}
}

func TestResampler48kTo16k(t *testing.T) {
	r := NewResampler(48000, 16000, 1)
	input := make([]int16, 4800) // 100ms @ 48kHz
	out := r.Process(input)
	flush := r.Process(nil)
	total := len(out) + len(flush)
	const expected, margin = 1600, 200
	if diff := absInt(total - expected); diff >= margin {
		t.Fatalf("expected ~%d samples, got %d", expected, total)
	}
}

func sineWave(sampleRate int, durationSecs float64) []int16 {
	n := int(float64(sampleRate) * durationSecs)
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		tt := float64(i) / float64(sampleRate)
		out[i] = int16(math.Sin(2*math.Pi*440*tt) * 20000)
	}
	return out
}

func TestResamplerCarryOverNoDiscontinuity(t *testing.T) {
	r := NewResampler(16000, 48000, 1)
	signal := sineWave(16000, 2.0)
	const chunkSize = 4000

	var chunked []int16
	for offset := 0; offset < len(signal); offset += chunkSize {
		end := offset + chunkSize
		if end > len(signal) {
			end = len(signal)
		}
		chunked = append(chunked, r.Process(signal[offset:end])...)
	}
	chunked = append(chunked, r.Process(nil)...)

	maxDelta := 0
	for i := 1; i < len(chunked); i++ {
		d := absInt(int(chunked[i]) - int(chunked[i-1]))
		if d > maxDelta {
			maxDelta = d
		}
	}
	if maxDelta >= 3000 {
		t.Fatalf("discontinuity detected: max sample delta = %d (threshold 3000)", maxDelta)
	}
}

func TestResamplerFlushProducesRemainingSamples(t *testing.T) {
	r := NewResampler(16000, 48000, 1)
	input := sineWave(16000, 0.03125) // 500 samples, below chunk_size
	out := r.Process(input)
	flush := r.Process(nil)
	total := len(out) + len(flush)
	if total == 0 {
		t.Fatalf("flush should produce output for carried-over samples")
	}
	const expected, margin = 1500, 100
	if diff := absInt(total - expected); diff >= margin {
		t.Fatalf("expected ~%d samples, got %d", expected, total)
	}
}

func TestResamplerChunkedMatchesSinglePass(t *testing.T) {
	chunked := NewResampler(16000, 48000, 1)
	signal := sineWave(16000, 0.5) // 8000 samples
	var chunkedOut []int16
	chunkedOut = append(chunkedOut, chunked.Process(signal[:4000])...)
	chunkedOut = append(chunkedOut, chunked.Process(signal[4000:])...)
	chunkedOut = append(chunkedOut, chunked.Process(nil)...)

	single := NewResampler(16000, 48000, 1)
	var singleOut []int16
	singleOut = append(singleOut, single.Process(signal)...)
	singleOut = append(singleOut, single.Process(nil)...)

	const margin = 1024
	if diff := absInt(len(chunkedOut) - len(singleOut)); diff >= margin {
		t.Fatalf("chunked (%d) vs single-pass (%d) differ by %d (max %d)",
			len(chunkedOut), len(singleOut), diff, margin)
	}
}

func TestResamplerEmptyInputNoCarryReturnsEmpty(t *testing.T) {
	r := NewResampler(16000, 48000, 1)
	if out := r.Process(nil); len(out) != 0 {
		t.Fatalf("empty input without prior carry must return empty output, got %d", len(out))
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
