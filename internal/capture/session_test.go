package capture

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/backend/sim"
)

// recordSleep collects the backoff schedule instead of waiting it out.
func recordSleep(slept *[]time.Duration) func(time.Duration) {
	return func(d time.Duration) {
		*slept = append(*slept, d)
	}
}

func totalSlept(slept []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range slept {
		total += d
	}
	return total
}

func TestFlakyDeviceRetrySchedule(t *testing.T) {
	b := sim.New(sim.Options{
		DeviceName: "AirPods Pro",
		FailStage:  backend.StageStreamStart,
		FailCount:  100,
	})

	var slept []time.Duration
	s, err := openSession(b, backend.RoleMicrophone, true, zerolog.Nop(), nil, recordSleep(&slept))

	require.Error(t, err)
	require.Nil(t, s)
	require.Equal(t, backend.KindAcquisitionFailed, backend.KindOf(err))
	require.Equal(t, 5, b.StartCalls(), "flaky devices get five attempts")

	// 1.5s initial wait plus the 0.5/1.0/1.5/2.0s backoff between the five
	// attempts.
	require.GreaterOrEqual(t, totalSlept(slept), 6500*time.Millisecond)
	require.True(t, b.Balanced(), "failed attempts must release everything they acquired")
}

func TestNormalDeviceRetrySchedule(t *testing.T) {
	b := sim.New(sim.Options{
		FailStage: backend.StageStreamStart,
		FailCount: 100,
	})

	var slept []time.Duration
	_, err := openSession(b, backend.RoleMicrophone, false, zerolog.Nop(), nil, recordSleep(&slept))

	require.Error(t, err)
	require.Equal(t, 3, b.StartCalls(), "wired devices get three attempts")
	// 0.3s initial plus 0.3s + 0.6s backoff.
	require.Equal(t, 1200*time.Millisecond, totalSlept(slept))
	require.True(t, b.Balanced())
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	b := sim.New(sim.Options{
		FailStage: backend.StageInitialize,
		FailCount: 2,
	})

	var slept []time.Duration
	s, err := openSession(b, backend.RoleMicrophone, false, zerolog.Nop(), nil, recordSleep(&slept))

	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, 1, b.StartCalls(), "start is only reached on the successful attempt")

	s.Close()
	require.True(t, b.Balanced())
}

func TestFailureCarriesStage(t *testing.T) {
	stages := []backend.Stage{
		backend.StageActivate,
		backend.StageFormatQuery,
		backend.StageInitialize,
		backend.StageBufferQuery,
		backend.StageReaderAcquire,
		backend.StageStreamStart,
	}
	for _, stage := range stages {
		b := sim.New(sim.Options{FailStage: stage, FailCount: 100})

		var slept []time.Duration
		_, err := openSession(b, backend.RoleMicrophone, false, zerolog.Nop(), nil, recordSleep(&slept))

		require.Error(t, err, "stage %s", stage)
		var ce *backend.Error
		require.ErrorAs(t, err, &ce)
		require.Equal(t, stage, ce.Stage)
		require.True(t, b.Balanced(), "stage %s leaked a resource", stage)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	b := sim.New(sim.Options{})

	var slept []time.Duration
	s, err := openSession(b, backend.RoleMicrophone, false, zerolog.Nop(), nil, recordSleep(&slept))
	require.NoError(t, err)

	s.Close()
	s.Close()
	s.Close()
	require.True(t, b.Balanced(), "repeated close must not double-release")
}
