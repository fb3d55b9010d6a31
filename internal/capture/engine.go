// Package capture implements the audio capture engine: device sessions
// with retry, the capture loop, consumer event dispatch, and the lifecycle
// state machine tying them together. Platform specifics live behind the
// backend interface; one Engine instance serves one logical stream
// (microphone or system mix).
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/config"
	"github.com/petems/audiotap/internal/metrics"
)

// State is the lifecycle state of the engine. The only transition path is
// Idle → Opening → Capturing → Stopping → Idle.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateCapturing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	}
	return "idle"
}

// Options configures a capture engine.
type Options struct {
	Backend backend.Backend
	Role    backend.Role
	Logger  zerolog.Logger
	// Metrics may be nil to disable instrumentation.
	Metrics *metrics.Metrics
}

// Engine is the public start/stop surface over one capture stream. Public
// methods serialize against each other and against the capture loop; slow
// work (opening a device, converting chunks) happens outside the lock.
type Engine struct {
	backend backend.Backend
	role    backend.Role
	log     zerolog.Logger
	met     *metrics.Metrics
	disp    *Dispatcher

	// sleep is swapped out by tests to observe the retry schedule.
	sleep func(time.Duration)

	mu         sync.Mutex
	state      State
	session    *session
	stopFlag   *atomic.Bool
	loopDone   chan struct{}
	deviceName string
}

// New creates an engine for the given role. Call Close when done with it.
func New(opts Options) *Engine {
	return &Engine{
		backend: opts.Backend,
		role:    opts.Role,
		log:     opts.Logger.With().Str("role", opts.Role.String()).Logger(),
		met:     opts.Metrics,
		disp:    NewDispatcher(opts.Metrics),
		sleep:   time.Sleep,
	}
}

// Start opens a device session and begins capturing. A session already
// running (or stale state from a crashed loop) is fully stopped first. The
// config is clamped before use; on any failure the engine rolls back to
// Idle and returns the structured cause.
func (e *Engine) Start(cfg config.Capture) error {
	e.mu.Lock()
	if e.state != StateIdle {
		// Self-heal: force a full stop of whatever came before rather
		// than propagating a stale state to the caller.
		e.mu.Unlock()
		e.Stop()
		e.mu.Lock()
		if e.state != StateIdle {
			e.mu.Unlock()
			return backend.NewError(backend.KindAlreadyActive, "", nil)
		}
	}
	e.state = StateOpening
	e.mu.Unlock()

	cfg.Clamp()

	log := e.log.With().Str("session_id", uuid.NewString()).Logger()

	dev, err := e.backend.DefaultDevice(e.role)
	if err != nil {
		e.rollbackToIdle()
		return backend.NewError(backend.KindDeviceUnavailable, backend.StageEnumerate, err)
	}

	s, err := openSession(e.backend, e.role, dev.IsFlaky(), log, e.met, e.sleep)
	if err != nil {
		e.rollbackToIdle()
		return err
	}

	stop := &atomic.Bool{}
	done := make(chan struct{})
	frames := chunkFrames(e.role, s.format.SampleRate, cfg.ChunkDurationMs)
	loop := newCaptureLoop(s, e.disp, stop, cfg.GainBoost, cfg.InputVolume,
		frames, log, e.met, func(abnormal bool) {
			close(done)
			if abnormal {
				e.degrade()
			}
		})

	e.mu.Lock()
	e.state = StateCapturing
	e.session = s
	e.stopFlag = stop
	e.loopDone = done
	e.deviceName = s.device.Name
	e.mu.Unlock()

	e.met.SessionStarted()
	go loop.run()

	e.disp.EmitStatus(StatusEvent{
		IsActive:         true,
		TimestampSeconds: nowSeconds(),
		DeviceName:       s.device.Name,
	})
	log.Info().Int("chunk_frames", frames).Msg("Capture started")
	return nil
}

// Stop signals the capture loop, joins it, closes the device session, and
// returns to Idle. Returns false when nothing was capturing; stopping twice
// is a no-op, not an error.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if e.state != StateCapturing {
		e.mu.Unlock()
		return false
	}
	e.state = StateStopping
	e.stopFlag.Store(true)
	done := e.loopDone
	s := e.session
	e.mu.Unlock()

	// The loop observes the flag within one read/sleep cycle, so this join
	// is bounded.
	<-done
	s.Close()

	e.mu.Lock()
	e.state = StateIdle
	e.session = nil
	e.stopFlag = nil
	e.loopDone = nil
	e.deviceName = ""
	e.mu.Unlock()

	e.met.SessionEnded()
	// Inactive goes out strictly after the session is fully closed, so a
	// consumer that reacts by restarting never races this teardown.
	e.disp.EmitStatus(StatusEvent{IsActive: false, TimestampSeconds: nowSeconds()})
	e.log.Info().Msg("Capture stopped")
	return true
}

// degrade runs on the loop goroutine when the backend fails mid-stream:
// tear the session down and report inactive instead of crashing.
func (e *Engine) degrade() {
	e.mu.Lock()
	if e.state != StateCapturing {
		// A concurrent Stop owns the teardown.
		e.mu.Unlock()
		return
	}
	s := e.session
	e.state = StateIdle
	e.session = nil
	e.stopFlag = nil
	e.loopDone = nil
	e.deviceName = ""
	e.mu.Unlock()

	s.Close()
	e.met.SessionEnded()
	e.disp.EmitStatus(StatusEvent{IsActive: false, TimestampSeconds: nowSeconds()})
	e.log.Warn().Msg("Capture degraded to idle after backend failure")
}

func (e *Engine) rollbackToIdle() {
	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()
}

// IsActive reports whether a capture session is running.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateCapturing
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// DeviceName returns the friendly name of the active device, or "" when
// idle.
func (e *Engine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceName
}

// HasInputDevice reports whether a default endpoint exists for this role.
func (e *Engine) HasInputDevice() bool {
	_, err := e.backend.DefaultDevice(e.role)
	return err == nil
}

// Devices lists the default endpoint for this role, best effort.
func (e *Engine) Devices() []backend.Device {
	dev, err := e.backend.DefaultDevice(e.role)
	if err != nil {
		return nil
	}
	return []backend.Device{dev}
}

// SubscribeAudio attaches the audio consumer; only subsequent chunks are
// delivered.
func (e *Engine) SubscribeAudio(h AudioHandler) { e.disp.SubscribeAudio(h) }

// UnsubscribeAudio detaches the audio consumer.
func (e *Engine) UnsubscribeAudio() { e.disp.UnsubscribeAudio() }

// SubscribeDecibel attaches the loudness consumer.
func (e *Engine) SubscribeDecibel(h DecibelHandler) { e.disp.SubscribeDecibel(h) }

// UnsubscribeDecibel detaches the loudness consumer.
func (e *Engine) UnsubscribeDecibel() { e.disp.UnsubscribeDecibel() }

// SubscribeStatus attaches the status consumer and immediately delivers the
// current state.
func (e *Engine) SubscribeStatus(h StatusHandler) { e.disp.SubscribeStatus(h) }

// UnsubscribeStatus detaches the status consumer.
func (e *Engine) UnsubscribeStatus() { e.disp.UnsubscribeStatus() }

// Close stops any running session and shuts the dispatcher down. Safe to
// call on every exit path.
func (e *Engine) Close() {
	e.Stop()
	e.disp.Close()
}
