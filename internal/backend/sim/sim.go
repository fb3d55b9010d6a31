// Package sim provides a deterministic in-memory audio backend. Tests
// script its failures and feed it packets; the daemon uses it as a stand-in
// system-mix source on platforms without loopback capture.
package sim

import (
	"errors"
	"sync"

	"github.com/petems/audiotap/internal/backend"
)

// Options configures the simulated device.
type Options struct {
	DeviceName string
	Transport  backend.Transport
	Format     backend.Format
	// NoDevice makes enumeration fail as if no endpoint exists.
	NoDevice bool
	// FailStage fails the named acquisition stage FailCount times before
	// letting it succeed.
	FailStage backend.Stage
	FailCount int
	// PacketQueue bounds how many fed packets wait for the reader.
	PacketQueue int
}

// Backend is a scripted backend.Backend implementation.
type Backend struct {
	mu    sync.Mutex
	opts  Options
	fails map[backend.Stage]int

	packets chan backend.Packet
	readErr error

	// Acquisition accounting, asserted by session tests.
	activations  int
	handleCloses int
	readers      int
	releases     int
	startCalls   int
}

var errScripted = errors.New("scripted failure")

// New creates a simulated backend. Zero-value options give a wired mono
// 16-bit device at 16 kHz.
func New(opts Options) *Backend {
	if opts.DeviceName == "" {
		opts.DeviceName = "Simulated Capture Device"
	}
	if opts.Format.SampleRate == 0 {
		opts.Format = backend.Format{
			SampleRate:    16000,
			Channels:      1,
			BitsPerSample: 16,
			Encoding:      backend.EncodingIntPCM,
		}
	}
	if opts.PacketQueue == 0 {
		opts.PacketQueue = 64
	}
	fails := map[backend.Stage]int{}
	if opts.FailStage != "" {
		fails[opts.FailStage] = opts.FailCount
	}
	return &Backend{
		opts:    opts,
		fails:   fails,
		packets: make(chan backend.Packet, opts.PacketQueue),
	}
}

// Feed queues one raw frame block for the reader.
func (b *Backend) Feed(data []byte, frames int, silent bool) {
	b.packets <- backend.Packet{Data: data, Frames: frames, Silent: silent}
}

// FeedSilence queues frames of zero samples.
func (b *Backend) FeedSilence(frames int) {
	b.Feed(make([]byte, frames*b.opts.Format.FrameSize()), frames, false)
}

// SetReadError makes subsequent ReadPacket calls fail, simulating a device
// disappearing mid-stream.
func (b *Backend) SetReadError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

func (b *Backend) failStage(stage backend.Stage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails[stage] > 0 {
		b.fails[stage]--
		return true
	}
	return false
}

// StartCalls reports how many times stream start was attempted.
func (b *Backend) StartCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startCalls
}

// Balanced reports whether every activation and reader acquisition has been
// released. Sessions must leave the backend balanced on all paths.
func (b *Backend) Balanced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activations == b.handleCloses && b.readers == b.releases
}

func (b *Backend) DefaultDevice(role backend.Role) (backend.Device, error) {
	if b.failStage(backend.StageEnumerate) || b.opts.NoDevice {
		return backend.Device{}, errScripted
	}
	return backend.Device{
		ID:        "sim-" + role.String(),
		Name:      b.opts.DeviceName,
		Transport: b.opts.Transport,
		Default:   true,
	}, nil
}

func (b *Backend) Activate(dev backend.Device) (backend.Handle, error) {
	if b.failStage(backend.StageActivate) {
		return nil, errScripted
	}
	b.mu.Lock()
	b.activations++
	b.mu.Unlock()
	return &handle{backend: b}, nil
}

type handle struct {
	backend *Backend
	mu      sync.Mutex
	closed  bool
}

func (h *handle) Format() (backend.Format, error) {
	if h.backend.failStage(backend.StageFormatQuery) {
		return backend.Format{}, errScripted
	}
	return h.backend.opts.Format, nil
}

func (h *handle) Initialize(f backend.Format) error {
	if h.backend.failStage(backend.StageInitialize) {
		return errScripted
	}
	return nil
}

func (h *handle) BufferFrames() (int, error) {
	if h.backend.failStage(backend.StageBufferQuery) {
		return 0, errScripted
	}
	return 4096, nil
}

func (h *handle) Reader() (backend.Reader, error) {
	if h.backend.failStage(backend.StageReaderAcquire) {
		return nil, errScripted
	}
	h.backend.mu.Lock()
	h.backend.readers++
	h.backend.mu.Unlock()
	return &reader{backend: h.backend}, nil
}

func (h *handle) Start() error {
	h.backend.mu.Lock()
	h.backend.startCalls++
	h.backend.mu.Unlock()
	if h.backend.failStage(backend.StageStreamStart) {
		return errScripted
	}
	return nil
}

func (h *handle) Stop() error { return nil }

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.backend.mu.Lock()
	h.backend.handleCloses++
	h.backend.mu.Unlock()
	return nil
}

type reader struct {
	backend  *Backend
	mu       sync.Mutex
	released bool
}

func (r *reader) ReadPacket() (backend.Packet, bool, error) {
	r.backend.mu.Lock()
	readErr := r.backend.readErr
	r.backend.mu.Unlock()
	if readErr != nil {
		return backend.Packet{}, false, readErr
	}

	select {
	case pkt := <-r.backend.packets:
		return pkt, true, nil
	default:
		return backend.Packet{}, false, nil
	}
}

func (r *reader) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	r.backend.mu.Lock()
	r.backend.releases++
	r.backend.mu.Unlock()
	return nil
}
