package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"imgbatch/internal/batch"
	"imgbatch/internal/compressor"
	"imgbatch/internal/config"
	"imgbatch/internal/metadata"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transform"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg         *config.Config
	log         *logrus.Logger
	compressor  compressor.Compressor
	transformer *transform.Transformer
	router      *mux.Router
	httpServer  *http.Server
	wsUpgrader  websocket.Upgrader
	wsClients   map[*websocket.Conn]bool
	wsMutex     sync.RWMutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	operation      string
	cancel         context.CancelFunc
	currentStats   *statistics.Statistics
	runs           sync.WaitGroup
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	SourceDirectory string `json:"source_directory"`
	TargetDirectory string `json:"target_directory"`
	Quality         int    `json:"quality"`
	CompressAll     bool   `json:"compress_all"`
}

type ResizeRequest struct {
	SourceDirectory string `json:"source_directory"`
	TargetDirectory string `json:"target_directory"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type ConvertRequest struct {
	SourceDirectory string `json:"source_directory"`
	TargetDirectory string `json:"target_directory"`
	Format          string `json:"format"`
	Quality         int    `json:"quality"`
}

// FileEvent is the per-file payload pushed to WebSocket clients.
type FileEvent struct {
	Source       string `json:"source"`
	Target       string `json:"target,omitempty"`
	Action       string `json:"action"`
	OriginalSize int64  `json:"original_size,omitempty"`
	FinalSize    int64  `json:"final_size,omitempty"`
	FinalQuality int    `json:"final_quality,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, comp compressor.Compressor, tr *transform.Transformer) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log,
		compressor:  comp,
		transformer: tr,
		router:      mux.NewRouter(),
		wsClients:   make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, served on localhost
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/resize", s.handleResize).Methods("POST")
	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running batch, waits for it to finish and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.RLock()
	if s.cancel != nil {
		s.cancel()
	}
	s.operationMutex.RUnlock()
	s.Wait()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Wait blocks until the current batch, if any, has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	operation := s.operation
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"operation":  operation,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Quality == 0 {
		req.Quality = s.cfg.Compression.Quality
	}
	if req.Quality < 1 || req.Quality > 100 {
		s.writeError(w, "Quality must be between 1 and 100", http.StatusBadRequest)
		return
	}
	if !s.checkDirectories(w, &req.SourceDirectory, &req.TargetDirectory) {
		return
	}

	job := compressor.Job{
		SourceDir:   req.SourceDirectory,
		TargetDir:   req.TargetDirectory,
		Quality:     req.Quality,
		CompressAll: req.CompressAll || s.cfg.Compression.CompressAll,
		Settings:    s.cfg.CompressorSettings(),
	}

	s.startRun(w, "compress", req, func(ctx context.Context, stats *statistics.Statistics) error {
		job.Found = stats.SetFilesFound
		job.Observer = func(o compressor.Outcome) {
			compressor.Record(stats, o, job.Settings.SizeCeiling)
			s.broadcastWSMessage("file_processed", outcomeEvent(o))
		}
		_, err := s.compressor.Compress(ctx, job)
		return err
	})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Width == 0 && req.Height == 0 {
		req.Width, req.Height = s.cfg.Resize.Width, s.cfg.Resize.Height
	}
	if req.Width < 0 || req.Height < 0 || (req.Width == 0 && req.Height == 0) {
		s.writeError(w, "Width or height is required", http.StatusBadRequest)
		return
	}
	if !s.checkDirectories(w, &req.SourceDirectory, &req.TargetDirectory) {
		return
	}

	job := transform.ResizeJob{
		Selection: s.selection(req.SourceDirectory, req.TargetDirectory),
		Width:     req.Width,
		Height:    req.Height,
	}
	s.startRun(w, "resize", req, func(ctx context.Context, stats *statistics.Statistics) error {
		job.Selection = s.streamResults(job.Selection, stats)
		_, err := s.transformer.Resize(ctx, job)
		return err
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Format == "" {
		req.Format = s.cfg.Convert.Format
	}
	if req.Quality == 0 {
		req.Quality = s.cfg.Convert.Quality
	}
	if _, err := transform.NormalizeFormat(req.Format); err != nil {
		s.writeError(w, fmt.Sprintf("Unsupported format: %q", req.Format), http.StatusBadRequest)
		return
	}
	if req.Quality < 0 || req.Quality > 100 {
		s.writeError(w, "Quality must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if !s.checkDirectories(w, &req.SourceDirectory, &req.TargetDirectory) {
		return
	}

	job := transform.ConvertJob{
		Selection: s.selection(req.SourceDirectory, req.TargetDirectory),
		Format:    req.Format,
		Quality:   req.Quality,
	}
	s.startRun(w, "convert", req, func(ctx context.Context, stats *statistics.Statistics) error {
		job.Selection = s.streamResults(job.Selection, stats)
		_, err := s.transformer.Convert(ctx, job)
		return err
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	if s.cancel != nil {
		s.cancel()
	}
	s.operationMutex.RUnlock()

	if !running {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Stop requested",
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	info, err := metadata.Probe(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to inspect file: %v", err), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"info":     info,
			"eligible": info.Size > s.cfg.Compression.EligibilityThreshold,
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"files":    stats.Snapshot(),
			"duration": stats.GetDuration().String(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
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

type runFunc func(ctx context.Context, stats *statistics.Statistics) error

// startRun claims the single operation slot and runs fn in the background.
// Only one batch runs at a time; a second request gets 409.
func (s *Server) startRun(w http.ResponseWriter, operation string, params interface{}, fn runFunc) {
	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	stats := statistics.NewStatistics()
	s.isRunning = true
	s.operation = operation
	s.cancel = cancel
	s.currentStats = stats
	s.runs.Add(1)
	s.operationMutex.Unlock()

	go func() {
		defer s.runs.Done()
		defer cancel()

		s.broadcastWSMessage(operation+"_started", params)

		err := fn(ctx, stats)
		stats.Finalize()

		s.operationMutex.Lock()
		s.isRunning = false
		s.cancel = nil
		s.operationMutex.Unlock()

		if err != nil {
			s.log.WithField("operation", operation).WithError(err).Error("Batch failed")
			s.broadcastWSMessage(operation+"_error", map[string]interface{}{
				"error":      err.Error(),
				"statistics": stats.Snapshot(),
			})
			return
		}
		s.broadcastWSMessage(operation+"_completed", map[string]interface{}{
			"summary":    stats.GetSummary(),
			"statistics": stats.Snapshot(),
		})
	}()

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%s started", operation),
	})
}

// streamResults records and broadcasts every transform result as it happens.
func (s *Server) streamResults(sel transform.Selection, stats *statistics.Statistics) transform.Selection {
	sel.Found = stats.SetFilesFound
	sel.Observer = func(r transform.Result) {
		transform.Record(stats, r)
		s.broadcastWSMessage("file_processed", resultEvent(r))
	}
	return sel
}

func (s *Server) selection(source, target string) transform.Selection {
	return transform.Selection{
		SourceDir:  source,
		TargetDir:  target,
		Extensions: s.cfg.Processing.Extensions,
		IgnoreCase: s.cfg.Processing.IgnoreCase,
		OnError:    s.cfg.Policy(),
	}
}

// checkDirectories fills empty directories from the config and verifies the source exists.
func (s *Server) checkDirectories(w http.ResponseWriter, source, target *string) bool {
	if *source == "" {
		*source = s.cfg.SourceDirectory
	}
	if *target == "" {
		*target = s.cfg.TargetDirectory
	}
	if info, err := os.Stat(*source); err != nil || !info.IsDir() {
		s.writeError(w, "Source directory does not exist", http.StatusBadRequest)
		return false
	}
	if _, err := os.Stat(*target); err == nil {
		if err := batch.CheckDistinct(*source, *target); err != nil {
			s.writeError(w, "Target directory must differ from source directory", http.StatusBadRequest)
			return false
		}
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func outcomeEvent(o compressor.Outcome) FileEvent {
	ev := FileEvent{
		Source:       o.Source,
		Target:       o.Target,
		Action:       string(o.Action),
		OriginalSize: o.OriginalSize,
		FinalSize:    o.FinalSize,
		FinalQuality: o.FinalQuality,
		Attempts:     o.Attempts,
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
		ev.ErrorKind = o.Err.Kind.String()
	}
	return ev
}

func resultEvent(r transform.Result) FileEvent {
	ev := FileEvent{
		Source: r.Source,
		Target: r.Target,
		Action: "transformed",
		Width:  r.Width,
		Height: r.Height,
	}
	if r.Err != nil {
		ev.Action = "failed"
		ev.Error = r.Err.Error()
		ev.ErrorKind = r.Err.Kind.String()
	}
	return ev
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()
	return len(s.wsClients)
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
