package capture

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/metrics"
)

// retryPolicy governs how persistently a session re-runs the acquisition
// sequence. Wireless devices need far more patience than wired ones.
type retryPolicy struct {
	attempts    int
	initialWait time.Duration
	delays      []time.Duration
}

var (
	flakyPolicy = retryPolicy{
		attempts:    5,
		initialWait: 1500 * time.Millisecond,
		delays: []time.Duration{
			500 * time.Millisecond,
			1000 * time.Millisecond,
			1500 * time.Millisecond,
			2000 * time.Millisecond,
			2500 * time.Millisecond,
		},
	}
	normalPolicy = retryPolicy{
		attempts:    3,
		initialWait: 300 * time.Millisecond,
		delays: []time.Duration{
			300 * time.Millisecond,
			600 * time.Millisecond,
			1000 * time.Millisecond,
		},
	}
)

func policyFor(flaky bool) retryPolicy {
	if flaky {
		return flakyPolicy
	}
	return normalPolicy
}

// session owns the open handle to one hardware capture stream. It is
// created by openSession and torn down by Close; the capture loop is its
// only other user.
type session struct {
	device       backend.Device
	handle       backend.Handle
	reader       backend.Reader
	format       backend.Format
	bufferFrames int

	log    zerolog.Logger
	closed bool
}

// openSession runs the full acquisition sequence with retry and backoff.
// Every attempt releases all partially-acquired resources before the next
// one; on success the session owns a started stream. sleep is injectable so
// tests can observe the backoff schedule without waiting it out.
func openSession(b backend.Backend, role backend.Role, flaky bool,
	log zerolog.Logger, met *metrics.Metrics, sleep func(time.Duration)) (*session, error) {

	policy := policyFor(flaky)
	log.Debug().
		Bool("flaky", flaky).
		Int("attempts", policy.attempts).
		Dur("initial_wait", policy.initialWait).
		Msg("Opening capture session")

	// Give the device time to settle before the first attempt. Bluetooth
	// microphones routinely reject streams opened right after connecting.
	sleep(policy.initialWait)

	var lastErr error
	for attempt := 1; attempt <= policy.attempts; attempt++ {
		met.RecordOpenAttempt()
		s, err := acquire(b, role, log)
		if err == nil {
			log.Info().
				Int("attempt", attempt).
				Str("device", s.device.Name).
				Int("sample_rate", s.format.SampleRate).
				Int("channels", s.format.Channels).
				Int("bits", s.format.BitsPerSample).
				Msg("Capture session opened")
			return s, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("Acquisition attempt failed")

		if attempt < policy.attempts {
			if delay := policy.delays[attempt-1]; delay > 0 {
				sleep(delay)
			}
		}
	}

	met.RecordOpenFailure()
	return nil, lastErr
}

// acquire performs one pass of the acquisition sequence: enumerate the
// default endpoint, activate a handle, query the native format, initialize
// at that format, query the buffer size, obtain the frame reader, start the
// stream. A failure at any stage releases everything obtained so far.
func acquire(b backend.Backend, role backend.Role, log zerolog.Logger) (*session, error) {
	dev, err := b.DefaultDevice(role)
	if err != nil {
		return nil, backend.NewError(backend.KindDeviceUnavailable, backend.StageEnumerate, err)
	}

	handle, err := b.Activate(dev)
	if err != nil {
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageActivate, err)
	}

	format, err := handle.Format()
	if err != nil {
		handle.Close()
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageFormatQuery, err)
	}

	// The engine does not force a format onto the hardware; it initializes
	// at the native format and converts after the fact.
	if err := handle.Initialize(format); err != nil {
		handle.Close()
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageInitialize, err)
	}

	bufferFrames, err := handle.BufferFrames()
	if err != nil {
		handle.Close()
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageBufferQuery, err)
	}

	reader, err := handle.Reader()
	if err != nil {
		handle.Close()
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageReaderAcquire, err)
	}

	if err := handle.Start(); err != nil {
		reader.Release()
		handle.Close()
		return nil, backend.NewError(backend.KindAcquisitionFailed, backend.StageStreamStart, err)
	}

	return &session{
		device:       dev,
		handle:       handle,
		reader:       reader,
		format:       format,
		bufferFrames: bufferFrames,
		log:          log,
	}, nil
}

// Close stops the stream and releases everything the session acquired.
// Idempotent: repeated calls are no-ops.
func (s *session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true

	if err := s.handle.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop stream")
	}
	if err := s.reader.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release frame reader")
	}
	if err := s.handle.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close device handle")
	}
	s.log.Debug().Str("device", s.device.Name).Msg("Capture session closed")
}

// String describes the session for status queries.
func (s *session) String() string {
	return fmt.Sprintf("%s (%d Hz, %d ch)", s.device.Name, s.format.SampleRate, s.format.Channels)
}
