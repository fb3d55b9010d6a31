package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitStatus(t *testing.T, ch <-chan StatusEvent) StatusEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
		return StatusEvent{}
	}
}

func TestStatusReplayedOnSubscribe(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	d.EmitStatus(StatusEvent{IsActive: true, DeviceName: "Mic"})

	// Subscribing after the fact still yields the current state.
	ch := make(chan StatusEvent, 4)
	d.SubscribeStatus(func(ev StatusEvent) { ch <- ev })

	ev := waitStatus(t, ch)
	require.True(t, ev.IsActive)
	require.Equal(t, "Mic", ev.DeviceName)
}

func TestNoStatusReplayBeforeFirstEmit(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	ch := make(chan StatusEvent, 4)
	d.SubscribeStatus(func(ev StatusEvent) { ch <- ev })

	select {
	case ev := <-ch:
		t.Fatalf("unexpected status before any emit: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLateAudioSubscriberGetsNoBacklog(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	// Emitted with nobody attached: skipped, not queued.
	d.EmitAudio([]byte{1, 2, 3, 4})

	ch := make(chan []byte, 4)
	d.SubscribeAudio(func(chunk []byte) { ch <- chunk })

	select {
	case chunk := <-ch:
		t.Fatalf("late subscriber received a backlogged chunk: %v", chunk)
	case <-time.After(50 * time.Millisecond):
	}

	d.EmitAudio([]byte{5, 6})
	select {
	case chunk := <-ch:
		require.Equal(t, []byte{5, 6}, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the post-subscribe chunk")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	ch := make(chan DecibelEvent, 4)
	d.SubscribeDecibel(func(ev DecibelEvent) { ch <- ev })
	d.UnsubscribeDecibel()

	d.EmitDecibel(DecibelEvent{Decibel: -30})
	select {
	case ev := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitNeverBlocksTheCaptureSide(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	release := make(chan struct{})
	d.SubscribeDecibel(func(DecibelEvent) { <-release })
	defer close(release)

	done := make(chan struct{})
	go func() {
		// Far more events than the queue holds; the overflow must be
		// dropped, not block the emitter.
		for i := 0; i < dispatchQueueSize*4; i++ {
			d.EmitDecibel(DecibelEvent{Decibel: float64(-i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a stalled consumer")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	levels := make(chan DecibelEvent, 4)
	d.SubscribeDecibel(func(ev DecibelEvent) { levels <- ev })
	// No audio subscriber attached; the decibel channel still delivers.

	d.EmitAudio([]byte{1, 2})
	d.EmitDecibel(DecibelEvent{Decibel: -42})

	select {
	case ev := <-levels:
		require.Equal(t, -42.0, ev.Decibel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decibel event")
	}
}
