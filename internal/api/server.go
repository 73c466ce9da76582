// Package api implements the HTTP surface of the service: batch
// submission, the liveness probe, the WebSocket live feed and the history
// endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vibration-sentinel/internal/classifier"
	"vibration-sentinel/internal/history"
	"vibration-sentinel/internal/hub"
	"vibration-sentinel/internal/logbook"
	"vibration-sentinel/internal/metrics"
)

// Server wires the pipeline, the persistence sinks and the broadcast hub
// behind the HTTP handlers.
type Server struct {
	pipeline      *classifier.Pipeline
	book          *logbook.Book
	hub           *hub.Hub
	archive       *history.Store // optional, nil disables /history
	metrics       *metrics.Metrics
	defaultSensor string
	historyWindow time.Duration
	pingInterval  time.Duration
	upgrader      websocket.Upgrader
}

// Config collects the server dependencies.
type Config struct {
	Pipeline      *classifier.Pipeline
	Book          *logbook.Book
	Hub           *hub.Hub
	Archive       *history.Store
	Metrics       *metrics.Metrics
	DefaultSensor string
	HistoryWindow time.Duration
	PingInterval  time.Duration
}

// NewServer builds a Server from its dependencies.
func NewServer(c Config) *Server {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = time.Hour
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	return &Server{
		pipeline:      c.Pipeline,
		book:          c.Book,
		hub:           c.Hub,
		archive:       c.Archive,
		metrics:       c.Metrics,
		defaultSensor: c.DefaultSensor,
		historyWindow: c.HistoryWindow,
		pingInterval:  c.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local producers and dashboards connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the handler serving all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/ws", s.handleLiveFeed)
	mux.HandleFunc("/history", s.handleHistory)
	return mux
}

type submitRequest struct {
	X        []float64 `json:"x"`
	Y        []float64 `json:"y"`
	Z        []float64 `json:"z"`
	Current  []float64 `json:"current"`
	SensorID string    `json:"sensor_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	if r.URL.Path != "/" {
		// Fixed label: arbitrary probe paths must not grow metric cardinality.
		s.countRequest(r, "other", http.StatusNotFound)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.countRequest(r, "/", http.StatusOK)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("1"))
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodOptions:
		s.countRequest(r, "/", http.StatusNoContent)
		w.WriteHeader(http.StatusNoContent)
	default:
		s.countRequest(r, "/", http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.ValidationFailures.Inc()
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}

	batch := classifier.Batch{X: req.X, Y: req.Y, Z: req.Z, Current: req.Current}
	if err := batch.Validate(); err != nil {
		s.metrics.ValidationFailures.Inc()
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sensorID := req.SensorID
	if sensorID == "" {
		sensorID = s.defaultSensor
	}

	results, err := s.pipeline.Classify(batch, sensorID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("classification failed: %w", err))
		return
	}

	for _, result := range results {
		if err := s.book.AppendClassification(result); err != nil {
			s.metrics.LogAppendFailures.Inc()
			s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("persist classification: %w", err))
			return
		}
		s.hub.Publish(result)

		if s.archive != nil {
			if err := s.archive.StoreResult(result); err != nil {
				log.Warn().Err(err).Msg("failed to archive result")
			}
		}

		s.metrics.SamplesClassified.Inc()
		s.metrics.DecisionDistance.Observe(result.Distance)
		if result.IsAnomaly {
			s.metrics.AnomaliesDetected.Inc()
		}
	}

	if err := s.book.AppendRawWindow(sensorID, batch); err != nil {
		s.metrics.LogAppendFailures.Inc()
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("persist raw window: %w", err))
		return
	}

	s.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	s.countRequest(r, "/", http.StatusOK)

	log.Info().
		Str("sensor_id", sensorID).
		Int("samples", len(results)).
		Dur("duration", time.Since(start)).
		Msg("batch classified")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.countRequest(r, "/ws", http.StatusBadRequest)
		return
	}
	defer conn.Close()
	s.countRequest(r, "/ws", http.StatusSwitchingProtocols)

	sub, err := s.hub.Subscribe()
	if err != nil {
		log.Error().Err(err).Msg("subscribe failed")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "history unavailable"),
			time.Now().Add(time.Second))
		return
	}
	defer s.hub.Unsubscribe(sub)

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(4 * s.pingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(4 * s.pingInterval))
		return nil
	})

	// Reader goroutine: client messages are accepted and ignored; its only
	// job is to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Full historical replay before any live event.
	for _, rec := range sub.Backlog() {
		if err := writeJSONMessage(conn, rec); err != nil {
			log.Debug().Err(err).Msg("replay write failed")
			return
		}
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case result, ok := <-sub.Events():
			if !ok {
				// Dropped by the hub (stalled buffer); tell the peer.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event buffer overflow"),
					time.Now().Add(time.Second))
				return
			}
			if err := writeJSONMessage(conn, result); err != nil {
				log.Debug().Err(err).Msg("live write failed")
				return
			}
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		s.countRequest(r, "/history", http.StatusNoContent)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		s.countRequest(r, "/history", http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		s.countRequest(r, "/history", http.StatusServiceUnavailable)
		s.writeErrorStatus(w, http.StatusServiceUnavailable, fmt.Errorf("history archive disabled"))
		return
	}

	sensorID := r.URL.Query().Get("sensor")
	if sensorID == "" {
		sensorID = s.defaultSensor
	}
	window := s.historyWindow
	if since := r.URL.Query().Get("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			s.countRequest(r, "/history", http.StatusBadRequest)
			s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid since duration %q", since))
			return
		}
		window = d
	}

	now := time.Now()
	results, err := s.archive.Results(sensorID, now.Add(-window), now)
	if err != nil {
		s.countRequest(r, "/history", http.StatusInternalServerError)
		s.writeErrorStatus(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []classifier.Result{}
	}

	s.countRequest(r, "/history", http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.countRequest(r, r.URL.Path, status)
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	s.writeErrorStatus(w, status, err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (s *Server) countRequest(r *http.Request, path string, status int) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	}
}

func writeJSONMessage(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
