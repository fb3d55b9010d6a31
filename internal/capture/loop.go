package capture

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/metrics"
	"github.com/petems/audiotap/internal/pcm"
)

// idleSleep is how long the loop waits when the device has no frames
// ready, keeping the drain responsive without busy-spinning.
const idleSleep = 5 * time.Millisecond

// micChunkFrames is the fixed chunk size for microphone capture, favoring
// low and predictable latency.
const micChunkFrames = 4096

// System capture chunks by duration instead, clamped so irregular hardware
// buffer sizes still produce smooth chunking.
const (
	minSystemChunkMs = 20
	maxSystemChunkMs = 50
)

// chunkFrames returns the chunk size in frames for the given stream type at
// the device's native rate.
func chunkFrames(role backend.Role, nativeRate, requestedMs int) int {
	if role == backend.RoleMicrophone {
		return micChunkFrames
	}
	ms := requestedMs
	if ms < minSystemChunkMs {
		ms = minSystemChunkMs
	}
	if ms > maxSystemChunkMs {
		ms = maxSystemChunkMs
	}
	frames := nativeRate * ms / 1000
	if frames < 1 {
		frames = 1
	}
	return frames
}

// captureLoop drains one device session into fixed-size chunks, converts
// them to mono 16-bit PCM, meters them, and forwards the results. It is the
// only code that touches the frame reader.
type captureLoop struct {
	session *session
	disp    *Dispatcher
	stop    *atomic.Bool
	log     zerolog.Logger
	met     *metrics.Metrics

	gainBoost   float64
	inputVolume float64

	asm       *pcm.Assembler
	format    backend.Format
	frameSize int

	// loggedBadFormat keeps the unsupported-format warning to one line per
	// session instead of one per chunk.
	loggedBadFormat bool

	// onExit runs after the loop returns; abnormal is true when the loop
	// died on a backend error rather than a stop request.
	onExit func(abnormal bool)
}

func newCaptureLoop(s *session, disp *Dispatcher, stop *atomic.Bool,
	gainBoost, inputVolume float64, frames int,
	log zerolog.Logger, met *metrics.Metrics, onExit func(bool)) *captureLoop {

	return &captureLoop{
		session:     s,
		disp:        disp,
		stop:        stop,
		log:         log,
		met:         met,
		gainBoost:   gainBoost,
		inputVolume: inputVolume,
		asm:         pcm.NewAssembler(frames * s.format.FrameSize()),
		format:      s.format,
		frameSize:   s.format.FrameSize(),
		onExit:      onExit,
	}
}

// run executes on its own goroutine, pinned to an OS thread for the
// duration of the session since audio backends are thread-sensitive.
func (l *captureLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	abnormal := false
	defer func() { l.onExit(abnormal) }()

	for !l.stop.Load() {
		pkt, ok, err := l.session.reader.ReadPacket()
		if err != nil {
			l.log.Error().Err(err).Msg("Backend read error, ending capture")
			abnormal = true
			return
		}
		if !ok {
			time.Sleep(idleSleep)
			continue
		}

		// Drain every packet that is already ready before sleeping again,
		// re-checking the stop flag between packets so teardown latency
		// stays bounded by one read cycle regardless of backlog.
		for ok && !l.stop.Load() {
			l.handlePacket(pkt)
			pkt, ok, err = l.session.reader.ReadPacket()
			if err != nil {
				l.log.Error().Err(err).Msg("Backend read error, ending capture")
				abnormal = true
				return
			}
		}
	}
}

func (l *captureLoop) handlePacket(pkt backend.Packet) {
	data := pkt.Data
	if pkt.Silent {
		// Silent-flagged packets carry no valid bytes but still advance
		// the stream clock; substitute zero samples to keep chunk cadence
		// and the meter continuous.
		data = make([]byte, pkt.Frames*l.frameSize)
	}
	l.asm.Append(data, l.processChunk)
}

// processChunk converts one assembled raw chunk and emits the audio and
// loudness events in order. The decibel reading is computed from the exact
// mono buffer that is emitted as audio, so the two can never diverge.
func (l *captureLoop) processChunk(raw []byte) {
	samples, err := pcm.ConvertToInt16(raw, l.format)
	if err != nil {
		// Recoverable: drop this chunk and start the next one clean.
		l.met.RecordConversionError()
		l.asm.Reset()
		if !l.loggedBadFormat {
			l.loggedBadFormat = true
			l.log.Warn().Err(err).Msg("Dropping chunk with unsupported source format")
		}
		return
	}

	if l.inputVolume < 1.0 {
		pcm.ApplyVolume(samples, l.inputVolume)
	}
	mono := pcm.DownmixWithGain(samples, l.format.Channels, l.gainBoost)
	db := pcm.Decibel(mono)

	out := make([]byte, len(mono)*2)
	for i, s := range mono {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}

	l.met.RecordChunk(len(raw))
	l.disp.EmitAudio(out)
	l.disp.EmitDecibel(DecibelEvent{Decibel: db, TimestampSeconds: nowSeconds()})
}
