package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/audiotap/internal/capture"
	"github.com/petems/audiotap/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type levelMessage struct {
	Decibel   float64 `json:"decibel"`
	Timestamp float64 `json:"timestamp"`
}

type statusMessage struct {
	IsActive   bool    `json:"isActive"`
	Timestamp  float64 `json:"timestamp"`
	DeviceName string  `json:"deviceName,omitempty"`
}

// server fans engine events out to websocket subscribers. Engine handlers
// run on the dispatcher pump, so broadcasts are single-writer per
// connection by construction.
type server struct {
	engine *capture.Engine
	cfg    config.Capture
	log    zerolog.Logger

	mu         sync.Mutex
	audioConns map[*websocket.Conn]bool
	levelConns map[*websocket.Conn]bool
}

func newServer(engine *capture.Engine, cfg config.Capture, log zerolog.Logger) *server {
	s := &server{
		engine:     engine,
		cfg:        cfg,
		log:        log,
		audioConns: make(map[*websocket.Conn]bool),
		levelConns: make(map[*websocket.Conn]bool),
	}

	engine.SubscribeAudio(s.broadcastAudio)
	engine.SubscribeDecibel(func(ev capture.DecibelEvent) {
		s.broadcastLevel(levelMessage{Decibel: ev.Decibel, Timestamp: ev.TimestampSeconds})
	})
	engine.SubscribeStatus(func(ev capture.StatusEvent) {
		s.log.Info().Bool("active", ev.IsActive).Str("device", ev.DeviceName).Msg("Status changed")
	})
	return s
}

func (s *server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.audioConns[conn] = true
	s.mu.Unlock()

	s.readUntilClosed(conn, s.audioConns)
}

func (s *server) handleLevelStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.levelConns[conn] = true
	s.mu.Unlock()

	s.readUntilClosed(conn, s.levelConns)
}

// readUntilClosed drains control frames until the peer goes away, then
// removes the connection from the given set.
func (s *server) readUntilClosed(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (s *server) broadcastAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.audioConns {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			delete(s.audioConns, conn)
			conn.Close()
		}
	}
}

func (s *server) broadcastLevel(msg levelMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.levelConns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(s.levelConns, conn)
			conn.Close()
		}
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	msg := statusMessage{
		IsActive:   s.engine.IsActive(),
		Timestamp:  float64(time.Now().UnixMilli()) / 1000.0,
		DeviceName: s.engine.DeviceName(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Optional JSON body overrides the configured capture settings; the
	// engine clamps whatever arrives.
	cfg := s.cfg
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&cfg)
	}

	if err := s.engine.Start(cfg); err != nil {
		s.log.Error().Err(err).Msg("Start failed")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stopped := s.engine.Stop()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"stopped": stopped})
}
