// Package portaudio adapts the PortAudio library to the capture backend
// interface. It serves the microphone role only: PortAudio has no portable
// render-loopback, so the system-mix role reports no device.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"math"

	pa "github.com/gordonklaus/portaudio"

	"github.com/petems/audiotap/internal/backend"
)

const framesPerBuffer = 1024

// Backend is a PortAudio-based backend.Backend. New initializes the
// library; Close terminates it and must be called exactly once.
type Backend struct{}

// New initializes PortAudio.
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Backend{}, nil
}

// Close terminates PortAudio.
func (b *Backend) Close() error {
	return pa.Terminate()
}

func (b *Backend) DefaultDevice(role backend.Role) (backend.Device, error) {
	if role == backend.RoleSystemMix {
		return backend.Device{}, fmt.Errorf("no loopback capture endpoint")
	}
	info, err := pa.DefaultInputDevice()
	if err != nil {
		return backend.Device{}, fmt.Errorf("failed to get default input device: %w", err)
	}
	return backend.Device{
		ID:      info.Name,
		Name:    info.Name,
		Default: true,
	}, nil
}

func (b *Backend) Activate(dev backend.Device) (backend.Handle, error) {
	info, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to activate input device: %w", err)
	}
	return &handle{info: info}, nil
}

type handle struct {
	info   *pa.DeviceInfo
	stream *pa.Stream
	buffer []float32
}

func (h *handle) Format() (backend.Format, error) {
	channels := h.info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		return backend.Format{}, fmt.Errorf("device has no input channels")
	}
	// PortAudio delivers float32 regardless of the device's wire format.
	return backend.Format{
		SampleRate:    int(h.info.DefaultSampleRate),
		Channels:      channels,
		BitsPerSample: 32,
		Encoding:      backend.EncodingFloatPCM,
	}, nil
}

func (h *handle) Initialize(f backend.Format) error {
	h.buffer = make([]float32, framesPerBuffer*f.Channels)
	stream, err := pa.OpenStream(pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   h.info,
			Channels: f.Channels,
			Latency:  h.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, h.buffer)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	h.stream = stream
	return nil
}

func (h *handle) BufferFrames() (int, error) {
	return framesPerBuffer, nil
}

func (h *handle) Reader() (backend.Reader, error) {
	if h.stream == nil {
		return nil, fmt.Errorf("stream not initialized")
	}
	return &reader{
		stream:  h.stream,
		samples: h.buffer,
		raw:     make([]byte, len(h.buffer)*4),
	}, nil
}

func (h *handle) Start() error {
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

func (h *handle) Stop() error {
	if h.stream == nil {
		return nil
	}
	return h.stream.Stop()
}

func (h *handle) Close() error {
	if h.stream == nil {
		return nil
	}
	err := h.stream.Close()
	h.stream = nil
	return err
}

type reader struct {
	stream  *pa.Stream
	samples []float32
	raw     []byte
}

// ReadPacket blocks until PortAudio fills one buffer, so the capture loop's
// idle-sleep path never triggers on this backend.
func (r *reader) ReadPacket() (backend.Packet, bool, error) {
	if err := r.stream.Read(); err != nil {
		return backend.Packet{}, false, err
	}
	for i, s := range r.samples {
		binary.LittleEndian.PutUint32(r.raw[i*4:], math.Float32bits(s))
	}
	return backend.Packet{Data: r.raw, Frames: framesPerBuffer}, true, nil
}

func (r *reader) Release() error { return nil }
