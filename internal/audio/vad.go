package audio

import (
	"math"
	"time"
)

// VADConfig controls the energy-based voice-activity detector used by
// the client's Auto mode: RMS-energy thresholding with an optional
// noise-floor calibration window and a pre-speech lookback buffer so
// segment starts are not clipped.
type VADConfig struct {
	SpeechThresholdDB   float64
	SilenceTimeout      time.Duration
	MinSpeechDuration   time.Duration
	PreSpeechBuffer     time.Duration
	SampleRate          int
	CalibrationDuration time.Duration
	AdaptiveMarginDB    float64
}

// DefaultVADConfig returns sensible defaults for 16kHz mono speech.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB:   -30,
		SilenceTimeout:      1000 * time.Millisecond,
		MinSpeechDuration:   500 * time.Millisecond,
		PreSpeechBuffer:     300 * time.Millisecond,
		SampleRate:          16000,
		CalibrationDuration: 500 * time.Millisecond,
		AdaptiveMarginDB:    10,
	}
}

// VAD implements energy-based voice-activity detection with optional
// adaptive threshold calibration during the first CalibrationDuration.
type VAD struct {
	cfg            VADConfig
	isSpeech       bool
	speechStart    time.Time
	lastSpeechTime time.Time
	buffer         []int16
	preSpeech      []int16
	preSpeechLen   int

	calibrating         bool
	calibrationStart    time.Time
	calibrationReadings []float64
	threshold           float64
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	preSpeechSamples := int(cfg.PreSpeechBuffer.Seconds() * float64(cfg.SampleRate))
	return &VAD{
		cfg:          cfg,
		preSpeechLen: preSpeechSamples,
		preSpeech:    make([]int16, 0, preSpeechSamples),
		calibrating:  cfg.CalibrationDuration > 0,
		threshold:    cfg.SpeechThresholdDB,
	}
}

// VADResult holds the output of feeding one chunk into the VAD.
type VADResult struct {
	SpeechEnded bool
	Audio       []int16
}

// Process feeds an audio chunk into the VAD and returns a completed
// segment, if silence just ended a speech run.
func (v *VAD) Process(samples []int16) VADResult {
	energyDB := computeEnergyDB(samples)
	now := time.Now()

	if v.calibrating {
		v.calibrate(energyDB, now)
	}

	if energyDB >= v.threshold {
		return v.handleSpeech(samples, now)
	}
	return v.handleSilence(samples, now)
}

func (v *VAD) calibrate(energyDB float64, now time.Time) {
	if v.calibrationStart.IsZero() {
		v.calibrationStart = now
	}
	v.calibrationReadings = append(v.calibrationReadings, energyDB)

	if now.Sub(v.calibrationStart) < v.cfg.CalibrationDuration {
		return
	}

	var sum float64
	for _, e := range v.calibrationReadings {
		sum += e
	}
	noiseFloor := sum / float64(len(v.calibrationReadings))

	adaptive := noiseFloor + v.cfg.AdaptiveMarginDB
	if adaptive > v.cfg.SpeechThresholdDB {
		v.threshold = adaptive
	}

	v.calibrating = false
	v.calibrationReadings = nil
}

func (v *VAD) handleSpeech(samples []int16, now time.Time) VADResult {
	if !v.isSpeech {
		v.isSpeech = true
		v.speechStart = now
		v.buffer = append(v.buffer, v.preSpeech...)
	}
	v.lastSpeechTime = now
	v.buffer = append(v.buffer, samples...)
	v.preSpeech = v.preSpeech[:0]
	return VADResult{}
}

func (v *VAD) handleSilence(samples []int16, now time.Time) VADResult {
	v.updatePreSpeech(samples)

	if !v.isSpeech {
		return VADResult{}
	}

	v.buffer = append(v.buffer, samples...)

	silenceDur := now.Sub(v.lastSpeechTime)
	speechDur := now.Sub(v.speechStart)

	if silenceDur < v.cfg.SilenceTimeout {
		return VADResult{}
	}

	v.isSpeech = false

	if speechDur < v.cfg.MinSpeechDuration {
		v.buffer = v.buffer[:0]
		return VADResult{}
	}

	audio := v.buffer
	v.buffer = nil
	return VADResult{SpeechEnded: true, Audio: audio}
}

func (v *VAD) updatePreSpeech(samples []int16) {
	v.preSpeech = append(v.preSpeech, samples...)
	if len(v.preSpeech) > v.preSpeechLen {
		excess := len(v.preSpeech) - v.preSpeechLen
		v.preSpeech = v.preSpeech[excess:]
	}
}

// Flush returns any buffered speech audio and resets the in-progress run,
// used when the client's listening toggle goes OFF mid-utterance.
func (v *VAD) Flush() []int16 {
	if len(v.buffer) == 0 {
		return nil
	}
	audio := v.buffer
	v.buffer = nil
	v.isSpeech = false
	return audio
}

// Reset clears all VAD state, including calibration, as if newly created.
func (v *VAD) Reset() {
	v.isSpeech = false
	v.buffer = nil
	v.preSpeech = v.preSpeech[:0]
	v.calibrating = v.cfg.CalibrationDuration > 0
	v.calibrationReadings = nil
	v.threshold = v.cfg.SpeechThresholdDB
}

func computeEnergyDB(samples []int16) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
