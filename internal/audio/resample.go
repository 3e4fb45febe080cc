// Package audio provides the streaming resampler, voice-activity
// detector, playback engine, and device capture/playback bindings shared
// by the client and the server.
package audio

import (
	"math"
	"time"

	"github.com/spacecodeur/space-language-trainer/internal/metrics"
)

// Resampler performs stateful sample-rate conversion, carrying enough
// input history across calls that chunk boundaries introduce no
// discontinuity: output sample n is the windowed-sinc interpolation of
// the continuous input stream at position n/ratio, regardless of how the
// input was chunked.
//
// Flush convention: calling Process with an empty slice flushes the
// carried tail, zero-padding past end-of-stream so the final output
// samples can be computed, and truncating total output to
// ceil(total_input * ratio). Calling Process with an empty slice
// mid-stream (i.e. before the caller is done feeding real audio)
// corrupts the resampler's state for subsequent chunks; the flush call
// must only ever be the last call made to a given Resampler.
type Resampler struct {
	srcRate, tgtRate int
	channels         int
	noop             bool
	ratio            float64
	kernel           *sincKernel

	carry      []float64 // input window still needed by upcoming outputs
	carryStart int       // absolute input index of carry[0]
	totalIn    int       // absolute count of input samples received
	nextOut    int       // next output index to emit
}

// NewResampler builds a resampler converting from srcRate to tgtRate for
// the given channel count. If srcRate == tgtRate and channels == 1 the
// returned Resampler is a no-op fast path that returns its input
// unchanged and never accumulates carry.
func NewResampler(srcRate, tgtRate, channels int) *Resampler {
	r := &Resampler{
		srcRate:  srcRate,
		tgtRate:  tgtRate,
		channels: channels,
		ratio:    float64(tgtRate) / float64(srcRate),
	}
	if srcRate == tgtRate && channels == 1 {
		r.noop = true
		return r
	}
	r.kernel = newSincKernel(sincLen, cutoff, oversampling)
	return r
}

// Process resamples samples and returns the converted output. Pass an
// empty slice to flush the carried tail at end of stream (see Flush
// convention above).
func (r *Resampler) Process(samples []int16) []int16 {
	if r.noop {
		return append([]int16(nil), samples...)
	}

	direction := "downsample"
	if r.ratio > 1 {
		direction = "upsample"
	}
	start := time.Now()
	defer func() { metrics.ResampleDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds()) }()

	isFlush := len(samples) == 0

	mono := downmixToMonoF64(samples, r.channels)
	r.carry = append(r.carry, mono...)
	r.totalIn += len(mono)

	halfLen := r.kernel.halfLen

	var limit int
	if isFlush {
		if r.totalIn == 0 {
			return nil
		}
		limit = int(math.Ceil(float64(r.totalIn) * r.ratio))
		// Zero-pad so the convolution window fits for every remaining
		// output position.
		r.carry = append(r.carry, make([]float64, halfLen+1)...)
	} else {
		// Output n reads input indices up to floor(n/ratio)+halfLen; emit
		// only the outputs whose full window has arrived.
		ready := r.totalIn - 1 - halfLen
		if ready < 0 {
			return nil
		}
		limit = int(math.Ceil(float64(ready+1) * r.ratio))
	}

	if limit <= r.nextOut {
		return nil
	}

	out := make([]int16, 0, limit-r.nextOut)
	for n := r.nextOut; n < limit; n++ {
		x := float64(n) / r.ratio
		idx0 := int(math.Floor(x))
		frac := x - float64(idx0)
		fracIdx := int(math.Round(frac * float64(oversampling)))
		if fracIdx > oversampling {
			fracIdx = oversampling
		}
		base := idx0 - halfLen + 1 - r.carryStart
		out = append(out, clampToI16(r.kernel.interpolate(r.carry, base, fracIdx)))
	}
	r.nextOut = limit

	// Drop input the next output can no longer reach.
	needFrom := int(math.Floor(float64(r.nextOut)/r.ratio)) - halfLen
	if drop := needFrom - r.carryStart; drop > 0 {
		if drop > len(r.carry) {
			drop = len(r.carry)
		}
		r.carry = r.carry[drop:]
		r.carryStart += drop
	}

	return out
}

func downmixToMonoF64(samples []int16, channels int) []float64 {
	if channels <= 1 {
		mono := make([]float64, len(samples))
		for i, s := range samples {
			mono[i] = float64(s) / 32768.0
		}
		return mono
	}
	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(samples[i*channels+c])
		}
		mono[i] = (sum / float64(channels)) / 32768.0
	}
	return mono
}

func clampToI16(v float64) int16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return int16(v * 32767.0)
}
