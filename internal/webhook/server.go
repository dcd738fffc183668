// Package webhook lets integrations without MQTT fire platform events and report
// entity values over HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Target receives what the webhook accepts. platform.Hub implements it.
type Target interface {
	FireEvent(name string, data map[string]any)
	SetState(entityID, value string)
}

// Server is an HTTP server for event and state ingress.
type Server struct {
	addr       string
	target     Target
	httpServer *http.Server
}

// NewServer creates a new webhook server.
func NewServer(host string, port int, target Target) *Server {
	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		target: target,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/{name}", s.handleEvent)
	mux.HandleFunc("POST /states/{entity}", s.handleState)
	return mux
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleEvent fires the named event with the JSON object body as its data.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var data map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("event body must be a JSON object: %w", err))
			return
		}
	}

	log.Debug().Str("event", name).Int("body_len", len(body)).Msg("Webhook event")
	s.target.FireEvent(name, data)
	writeOK(w)
}

// handleState accepts {"state": "on"} or a plain-text value.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	if !strings.Contains(entity, ".") {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid entity id %q", entity))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	value := strings.TrimSpace(string(body))
	if strings.HasPrefix(value, "{") {
		var payload struct {
			State *string `json:"state"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || payload.State == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("state body must contain a string \"state\""))
			return
		}
		value = *payload.State
	}
	if value == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty state"))
		return
	}

	log.Debug().Str("entity", entity).Str("value", value).Msg("Webhook state")
	s.target.SetState(entity, value)
	writeOK(w)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.Warn().Err(err).Int("status", status).Msg("Rejected webhook request")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
