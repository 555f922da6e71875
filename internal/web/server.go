package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"frame-converter-go/internal/converter"
	"frame-converter-go/internal/progress"
	"frame-converter-go/internal/scanner"
	"frame-converter-go/internal/statistics"
)

// Server exposes the controller to a local shell over HTTP and streams
// progress to WebSocket clients.
type Server struct {
	ctrl       *converter.Controller
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	unsubscribe func()
	pumpDone    chan struct{}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

type ScanRequest struct {
	InputMode  scanner.InputMode `json:"inputMode"`
	InputPath  string            `json:"inputPath"`
	InputPaths []string          `json:"inputPaths,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	msgStatus   = "status"
	msgProgress = "convert-progress"
	msgFinished = "convert-finished"
)

func NewServer(ctrl *converter.Controller, log *logrus.Logger) *Server {
	s := &Server{
		ctrl:      ctrl,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the shell runs on the same machine
			},
		},
		pumpDone: make(chan struct{}),
	}

	events, unsubscribe := ctrl.Subscribe()
	s.unsubscribe = unsubscribe
	go s.pumpProgress(events)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/pause", s.handleControl(s.ctrl.Pause, "Conversion paused")).Methods("POST")
	api.HandleFunc("/resume", s.handleControl(s.ctrl.Resume, "Conversion resumed")).Methods("POST")
	api.HandleFunc("/cancel", s.handleControl(s.ctrl.Cancel, "Cancel requested")).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP server down and detaches from the progress stream.
func (s *Server) Stop(ctx context.Context) error {
	s.unsubscribe()
	<-s.pumpDone

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.ctrl.Status(),
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.ctrl.Stats()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":     stats.GetSummary(),
			"formats":     stats.GetFormatBreakdown(),
			"errors":      stats.GetErrorSummary(),
			"bytes_saved": statistics.FormatBytes(stats.BytesSaved()),
		},
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InputMode == "" {
		req.InputMode = scanner.ModeFolder
	}

	res, err := s.ctrl.Scan(r.Context(), req.InputMode, req.InputPath, req.InputPaths)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: res})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req converter.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The job outlives the request.
	job, err := s.ctrl.Start(context.Background(), req)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}

	go func() {
		job.Wait()
		s.broadcastWSMessage(msgFinished, job.Summary())
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Message: "Conversion started",
		Data:    map[string]string{"id": job.ID},
	})
}

func (s *Server) handleControl(op func() error, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.writeControllerError(w, err)
			return
		}
		s.writeJSON(w, APIResponse{Success: true, Message: message})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// New clients get the current job state before any progress.
	hello, err := json.Marshal(WSMessage{Type: msgStatus, Data: s.ctrl.Status()})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}
	s.wsMutex.Lock()
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		s.wsMutex.Unlock()
		return
	}
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) pumpProgress(events <-chan progress.Event) {
	defer close(s.pumpDone)
	for e := range events {
		s.broadcastWSMessage(msgProgress, e)
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// gorilla/websocket allows one concurrent writer per connection.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, converter.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, converter.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, converter.ErrAlreadyRunning), errors.Is(err, converter.ErrInvalidState):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   err.Error(),
		Kind:    string(converter.KindOf(err)),
	})
}
