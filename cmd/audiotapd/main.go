// audiotapd exposes the capture engine over HTTP: websocket fan-out of the
// audio and loudness streams, a lifecycle API, and Prometheus metrics.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petems/audiotap/internal/backend"
	"github.com/petems/audiotap/internal/backend/portaudio"
	"github.com/petems/audiotap/internal/backend/sim"
	"github.com/petems/audiotap/internal/capture"
	"github.com/petems/audiotap/internal/config"
	"github.com/petems/audiotap/internal/logging"
	"github.com/petems/audiotap/internal/metrics"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	roleFlag := flag.String("role", "mic", "capture role: mic or system")
	simFlag := flag.Bool("sim", false, "use the simulated backend")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logging.NewWithLevel(cfg.LogLevel)

	addr := cfg.Daemon.ListenAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	role := backend.RoleMicrophone
	if *roleFlag == "system" {
		role = backend.RoleSystemMix
	}

	var b backend.Backend
	if *simFlag || role == backend.RoleSystemMix {
		b = sim.New(sim.Options{DeviceName: "Simulated Output Mix"})
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
		Metrics: metrics.New(),
	})
	defer engine.Close()

	srv := newServer(engine, cfg.Capture, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", srv.handleAudioStream)
	mux.HandleFunc("/levels", srv.handleLevelStream)
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/start", srv.handleStart)
	mux.HandleFunc("/stop", srv.handleStop)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		engine.Stop()
		httpServer.Close()
	}()

	log.Info().Str("addr", addr).Str("role", role.String()).Msg("audiotapd listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}
