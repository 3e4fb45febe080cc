package audio

import (
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
)

// Device binds a duplex (capture+playback) audio device using malgo: a
// single data callback handles both capture (mic -> channel) and
// playback (PlaybackEngine -> speaker). No echo heuristic is applied:
// every captured frame is forwarded, and the lastPlayedAt/echoThreshold
// fields and DeviceConfig.EchoGuardWindow are not read by the callback.
type Device struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	playback *PlaybackEngine

	capture       chan []int16
	lastPlayedAt  time.Time
	echoThreshold int16 // RMS-like magnitude threshold used while bot is "speaking"
}

// DeviceConfig configures the duplex device.
type DeviceConfig struct {
	SampleRate      int
	CaptureChannels uint32
	EchoGuardWindow time.Duration
}

// DefaultDeviceConfig returns sensible defaults for 16kHz mono capture.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{SampleRate: 16000, CaptureChannels: 1, EchoGuardWindow: 200 * time.Millisecond}
}

// OpenDevice initializes the malgo context and duplex device. The
// returned Device must be closed with Close when the process exits.
func OpenDevice(cfg DeviceConfig, playback *PlaybackEngine) (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	d := &Device{
		ctx:      ctx,
		playback: playback,
		capture:  make(chan []int16, 64),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = cfg.CaptureChannels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			select {
			case d.capture <- bytesToI16(pInput):
			default:
				// Consumer is behind; drop this frame rather than block
				// the real-time callback.
			}
		}
		if pOutput != nil && d.playback != nil {
			out := bytesAsI16(pOutput)
			d.playback.Fill(out)
			i16ToBytes(out, pOutput)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		ctx.Uninit()
		return nil, fmt.Errorf("initializing audio device: %w", err)
	}
	d.device = device
	return d, nil
}

// Start begins streaming capture/playback callbacks.
func (d *Device) Start() error { return d.device.Start() }

// Captured returns the channel of captured audio frames (device-rate
// mono PCM16). The caller is responsible for resampling to 16kHz.
func (d *Device) Captured() <-chan []int16 { return d.capture }

// Close stops and releases the device and context.
func (d *Device) Close() {
	if d.device != nil {
		d.device.Uninit()
	}
	if d.ctx != nil {
		d.ctx.Uninit()
	}
}

func bytesToI16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

func bytesAsI16(b []byte) []int16 {
	return make([]int16, len(b)/2)
}

func i16ToBytes(samples []int16, b []byte) {
	for i, s := range samples {
		b[i*2] = byte(uint16(s))
		b[i*2+1] = byte(uint16(s) >> 8)
	}
}
