package capture

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/pcm"
)

func TestChunkFramesPolicy(t *testing.T) {
	// Microphone capture uses a fixed frame count regardless of the
	// requested duration.
	require.Equal(t, micChunkFrames, chunkFrames(backend.RoleMicrophone, 48000, 1000))
	require.Equal(t, micChunkFrames, chunkFrames(backend.RoleMicrophone, 8000, 10))

	// System capture chunks by duration, clamped to 20-50ms of the native
	// rate.
	require.Equal(t, 48000*50/1000, chunkFrames(backend.RoleSystemMix, 48000, 1000))
	require.Equal(t, 48000*20/1000, chunkFrames(backend.RoleSystemMix, 48000, 5))
	require.Equal(t, 48000*30/1000, chunkFrames(backend.RoleSystemMix, 48000, 30))
}

func testLoop(f backend.Format, chunkFramesCount int, d *Dispatcher) *captureLoop {
	return &captureLoop{
		disp:        d,
		log:         zerolog.Nop(),
		gainBoost:   1.0,
		inputVolume: 1.0,
		asm:         pcm.NewAssembler(chunkFramesCount * f.FrameSize()),
		format:      f,
		frameSize:   f.FrameSize(),
	}
}

func TestUnsupportedFormatChunkIsDroppedAndRecovered(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	audio := make(chan []byte, 4)
	levels := make(chan DecibelEvent, 4)
	d.SubscribeAudio(func(chunk []byte) { audio <- chunk })
	d.SubscribeDecibel(func(ev DecibelEvent) { levels <- ev })

	bad := backend.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8, Encoding: backend.EncodingIntPCM}
	l := testLoop(bad, 4, d)

	// Leave carried bytes in the assembler, then process an unsupported
	// chunk: the carry must be reset along with the dropped chunk.
	l.asm.Append([]byte{9, 9}, func([]byte) {})
	l.processChunk([]byte{1, 2, 3, 4})
	require.Zero(t, l.asm.Pending())

	select {
	case chunk := <-audio:
		t.Fatalf("unsupported chunk produced audio: %v", chunk)
	case <-time.After(50 * time.Millisecond):
	}

	// A recognized chunk afterwards converts normally.
	l.format = backend.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: backend.EncodingIntPCM}
	l.processChunk([]byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00, 0x40, 0x00})

	select {
	case chunk := <-audio:
		require.Equal(t, []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00, 0x40, 0x00}, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the recovered chunk")
	}
	select {
	case <-levels:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the recovered decibel reading")
	}
}

func TestSilentPacketsBecomeZeroSamples(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	audio := make(chan []byte, 4)
	levels := make(chan DecibelEvent, 4)
	d.SubscribeAudio(func(chunk []byte) { audio <- chunk })
	d.SubscribeDecibel(func(ev DecibelEvent) { levels <- ev })

	f := backend.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: backend.EncodingIntPCM}
	l := testLoop(f, 4, d)

	// A silent-flagged packet carries no valid bytes but still represents
	// four frames of stream time.
	l.handlePacket(backend.Packet{Data: []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}, Frames: 4, Silent: true})

	select {
	case chunk := <-audio:
		require.Equal(t, make([]byte, 8), chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the silent chunk")
	}
	select {
	case ev := <-levels:
		require.Equal(t, pcm.DecibelFloor, ev.Decibel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the silent decibel reading")
	}
}

func TestStereoChunkIsDownmixed(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	audio := make(chan []byte, 4)
	d.SubscribeAudio(func(chunk []byte) { audio <- chunk })

	f := backend.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Encoding: backend.EncodingIntPCM}
	l := testLoop(f, 2, d)

	// Two stereo frames: (10000, -10000) and (1000, 3000).
	l.processChunk([]byte{
		0x10, 0x27, 0xf0, 0xd8,
		0xe8, 0x03, 0xb8, 0x0b,
	})

	select {
	case chunk := <-audio:
		// Mono output: averaged samples 0 and 2000.
		require.Equal(t, []byte{0x00, 0x00, 0xd0, 0x07}, chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the downmixed chunk")
	}
}
