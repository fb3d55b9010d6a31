package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/backend/portaudio"
	"github.com/petems/audiotap/internal/backend/sim"
	"github.com/petems/audiotap/internal/capture"
	"github.com/petems/audiotap/internal/config"
	"github.com/petems/audiotap/internal/logging"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
)

func main() {
	roleFlag := flag.String("role", "mic", "capture role: mic or system")
	simFlag := flag.Bool("sim", false, "use the simulated backend with a test tone")
	outFlag := flag.String("out", "", "write captured audio to this WAV file")
	seconds := flag.Int("seconds", 0, "capture duration in seconds (0 = until interrupted)")
	gain := flag.Float64("gain", 0, "gain boost override")
	volume := flag.Float64("volume", -1, "input volume override")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logging.NewWithLevel(cfg.LogLevel)

	capCfg := cfg.Capture
	if *gain > 0 {
		capCfg.GainBoost = *gain
	}
	if *volume >= 0 {
		capCfg.InputVolume = *volume
	}

	role := backend.RoleMicrophone
	if *roleFlag == "system" {
		role = backend.RoleSystemMix
	}

	var b backend.Backend
	var toneStop chan struct{}
	if *simFlag || role == backend.RoleSystemMix {
		// PortAudio cannot tap the output mix; fall back to the simulated
		// source so the system role stays demonstrable.
		simBackend := sim.New(sim.Options{DeviceName: "Simulated Output Mix"})
		toneStop = feedTone(simBackend, 16000)
		b = simBackend
	} else {
		pb, err := portaudio.New()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize audio backend")
		}
		defer pb.Close()
		b = pb
	}

	engine := capture.New(capture.Options{
		Backend: b,
		Role:    role,
		Logger:  log,
	})
	defer engine.Close()

	var sink *wavSink
	if *outFlag != "" {
		sink, err = newWavSink(*outFlag, capCfg.SampleRate)
		if err != nil {
			log.Fatal().Err(err).Str("path", *outFlag).Msg("Failed to create WAV file")
		}
		engine.SubscribeAudio(sink.Write)
	}

	engine.SubscribeStatus(func(ev capture.StatusEvent) {
		if ev.IsActive {
			log.Info().Str("device", ev.DeviceName).Msg("Capturing")
		} else {
			log.Info().Msg("Capture inactive")
		}
	})
	engine.SubscribeDecibel(func(ev capture.DecibelEvent) {
		printMeter(ev.Decibel)
	})

	log.Info().Str("version", Version).Str("role", role.String()).Msg("audiotap starting...")

	if err := engine.Start(capCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to start capture")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *seconds > 0 {
		select {
		case <-sigChan:
		case <-time.After(time.Duration(*seconds) * time.Second):
		}
	} else {
		<-sigChan
	}
	fmt.Println()

	engine.Stop()
	engine.UnsubscribeAudio()
	if toneStop != nil {
		close(toneStop)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to finalize WAV file")
		} else {
			log.Info().Str("path", *outFlag).Msg("Recording written")
		}
	}
}

// printMeter draws a single-line console level meter.
func printMeter(db float64) {
	// Map [-60, 0] dB onto a 40-column bar.
	width := int((db + 60.0) / 60.0 * 40.0)
	if width < 0 {
		width = 0
	}
	if width > 40 {
		width = 40
	}
	fmt.Printf("\r%7.1f dB [%-40s]", db, strings.Repeat("=", width))
}

// feedTone pushes a continuous 440 Hz tone into the simulated backend until
// the returned channel is closed.
func feedTone(b *sim.Backend, sampleRate int) chan struct{} {
	stop := make(chan struct{})
	go func() {
		const frames = 1024
		phase := 0.0
		step := 2 * math.Pi * 440.0 / float64(sampleRate)
		ticker := time.NewTicker(time.Duration(frames) * time.Second / time.Duration(sampleRate))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				data := make([]byte, frames*2)
				for i := 0; i < frames; i++ {
					s := int16(math.Sin(phase) * 8000)
					data[i*2] = byte(s)
					data[i*2+1] = byte(s >> 8)
					phase += step
				}
				b.Feed(data, frames, false)
			}
		}
	}()
	return stop
}

// wavSink appends mono 16-bit chunks to a WAV file. Writes arrive on the
// dispatcher pump; Close may race a final delivery, hence the lock.
type wavSink struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	rate   int
	closed bool
}

func newWavSink(path string, sampleRate int) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &wavSink{
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, 1, 1),
		rate: sampleRate,
	}, nil
}

func (w *wavSink) Write(chunk []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	data := make([]int, len(chunk)/2)
	for i := range data {
		data[i] = int(int16(uint16(chunk[i*2]) | uint16(chunk[i*2+1])<<8))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		w.closed = true
	}
}

func (w *wavSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.file.Close()
		return nil
	}
	w.closed = true
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
