package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/zoobot/game"
)

// InfoResponse describes the bot to hosts that poll "/".
type InfoResponse struct {
	APIVersion string `json:"apiversion"`
	Author     string `json:"author"`
	Version    string `json:"version"`
}

// MoveResponse carries both the integer wire code and a readable name.
type MoveResponse struct {
	Action int    `json:"action"`
	Move   string `json:"move"`
}

// Server exposes the decider over plain HTTP for hosts that push each tick
// as a request instead of over a websocket.
type Server struct {
	decider Decider
	log     zerolog.Logger

	// Decide is not re-entrant.
	mu sync.Mutex
}

func NewServer(decider Decider, log zerolog.Logger) *Server {
	return &Server{
		decider: decider,
		log:     log.With().Str("component", "http").Logger(),
	}
}

// Handler routes "/", "/start", "/move" and "/end".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleReset)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/end", s.handleReset)
	return mux
}

// NewHTTPServer wraps Handler with sane timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, InfoResponse{APIVersion: "1", Author: "zoobot", Version: "1.0.0"})
}

// handleReset marks an episode boundary.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	s.decider.Reset()
	s.mu.Unlock()
	s.log.Info().Str("path", r.URL.Path).Msg("episode boundary")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap game.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	action := s.decider.Decide(&snap)
	s.mu.Unlock()

	writeJSON(w, MoveResponse{Action: int(action), Move: action.String()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
