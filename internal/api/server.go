// Package api serves window listing and visibility control over HTTP on the
// loopback interface.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/errors"
	"github.com/invisiwind/invisiwind/internal/logger"
	"github.com/invisiwind/invisiwind/internal/process"
	"github.com/invisiwind/invisiwind/internal/rules"
	"github.com/invisiwind/invisiwind/internal/visibility"
	"github.com/invisiwind/invisiwind/internal/window"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// requestTimeout bounds how long a handler waits for the visibility worker.
const requestTimeout = 10 * time.Second

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	svc       *visibility.Service
	watcher   *window.Watcher
	finder    *process.Finder
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server
func NewServer(svc *visibility.Service, watcher *window.Watcher, finder *process.Finder, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		svc:       svc,
		watcher:   watcher,
		finder:    finder,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Windows
	api.HandleFunc("/windows", s.handleGetWindows).Methods("GET")
	api.HandleFunc("/windows/stream", s.handleWindowStream)
	api.HandleFunc("/windows/{hwnd}/icon", s.handleGetIcon).Methods("GET")
	api.HandleFunc("/windows/{hwnd}/hide", s.handleSetVisibility(true)).Methods("POST")
	api.HandleFunc("/windows/{hwnd}/show", s.handleSetVisibility(false)).Methods("POST")

	// Processes
	api.HandleFunc("/processes", s.handleGetProcesses).Methods("GET")

	// Rules
	api.HandleFunc("/rules", s.handleGetRules).Methods("GET")
	api.HandleFunc("/rules", s.handleAddRule).Methods("POST")
	api.HandleFunc("/rules/apply", s.handleApplyRules).Methods("POST")
	api.HandleFunc("/rules/{id}", s.handleRemoveRule).Methods("DELETE")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Path("/").HandlerFunc(s.handleIndex)

	s.router.Use(localOnly)
}

// Handler returns the router wrapped in the server's middleware.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.router)
}

// Start listens on host:port and serves until Shutdown. Only loopback hosts
// are accepted.
func (s *Server) Start(host string, port int) error {
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("refusing to listen on non-loopback host %q", host)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://"+addr).
		Msg("Starting server")

	if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// localOnly rejects requests a web page on another site could trigger: a
// Host that is not loopback (DNS rebinding), a foreign Origin, and state
// changes without a JSON content type, which browsers only send after a CORS
// preflight.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) {
			http.Error(w, "forbidden host", http.StatusForbidden)
			return
		}
		if !sameOrigin(r) {
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// loopbackHost reports whether a Host header names this machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from the page the server itself served.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// HTTP Handlers

// windowView is a window record joined with its process name.
type windowView struct {
	window.Record
	Process string `json:"process,omitempty"`
}

func (s *Server) handleGetWindows(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.EnumerateTopLevelWindows()
	if err != nil {
		writeError(w, err)
		return
	}

	names, err := s.finder.Names()
	if err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to read process names")
	}

	views := make([]windowView, 0, len(records))
	for _, rec := range records {
		views = append(views, windowView{Record: rec, Process: names[rec.PID]})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetIcon(w http.ResponseWriter, r *http.Request) {
	h, err := window.ParseHandle(mux.Vars(r)["hwnd"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		size, err = strconv.Atoi(v)
		if err != nil || size < 0 || size > 256 {
			http.Error(w, "size must be between 0 and 256", http.StatusBadRequest)
			return
		}
	}

	img, err := s.svc.ExtractIcon(h)
	if err != nil {
		writeError(w, err)
		return
	}
	if img == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=60")
	if err := img.EncodePNG(w, size); err != nil {
		logger.WithComponent("api").Error().Err(err).Str("hwnd", h.String()).Msg("Failed to encode icon")
	}
}

type visibilityRequest struct {
	PID             uint32 `json:"pid"`
	HideFromTaskbar *bool  `json:"hide_from_taskbar,omitempty"`
}

func (s *Server) handleSetVisibility(hide bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := window.ParseHandle(mux.Vars(r)["hwnd"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req visibilityRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		if req.PID == 0 {
			rec, ok, err := s.findWindow(h)
			if err != nil {
				writeError(w, err)
				return
			}
			if !ok {
				http.Error(w, "window not found", http.StatusNotFound)
				return
			}
			req.PID = rec.PID
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		if hide {
			err = s.svc.Hide(ctx, req.PID, h, req.HideFromTaskbar)
		} else {
			err = s.svc.Show(ctx, req.PID, h, req.HideFromTaskbar)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		if s.watcher != nil {
			if _, err := s.watcher.Refresh(); err != nil {
				logger.WithComponent("api").Debug().Err(err).Msg("Failed to refresh windows")
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"hwnd":   h.String(),
			"pid":    req.PID,
			"hidden": hide,
		})
	}
}

func (s *Server) findWindow(h window.Handle) (window.Record, bool, error) {
	records, err := s.svc.EnumerateTopLevelWindows()
	if err != nil {
		return window.Record{}, false, err
	}
	for _, rec := range records {
		if rec.Handle == h {
			return rec, true, nil
		}
	}
	return window.Record{}, false, nil
}

func (s *Server) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	if s.watcher == nil {
		http.Error(w, "window stream is not enabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.watcher.Subscribe()
	defer s.watcher.Unsubscribe(updates)

	// Reading is only used to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.watcher.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-done:
			return
		case records, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(records); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetProcesses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.finder.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Rules())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule config.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	added, err := s.configMgr.AddRule(rule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := s.configMgr.RemoveRule(mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleApplyRules(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	set, err := rules.Compile(cfg.Rules)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	records, err := s.svc.EnumerateTopLevelWindows()
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := s.finder.Names()
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	results, err := rules.Apply(ctx, s.svc, set.Plan(records, names, cfg.HideFromTaskbar))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"pending": s.svc.Pending(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>invisiwind</title>
</head>
<body>
    <h1>invisiwind</h1>
    <p>Server is running.</p>
    <ul>
        <li><a href="/api/health">/api/health</a> - Server health check</li>
        <li><a href="/api/windows">/api/windows</a> - Top-level windows</li>
        <li><a href="/api/processes">/api/processes</a> - Running processes</li>
        <li><a href="/api/rules">/api/rules</a> - Hide rules</li>
    </ul>
</body>
</html>`

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	writeJSON(w, statusFor(err, kind), errorResponse{Error: err.Error(), Kind: kind.String()})
}

func statusFor(err error, kind errors.Kind) int {
	switch kind {
	case errors.KindProcessNotFound:
		return http.StatusNotFound
	case errors.KindAccessDenied:
		return http.StatusForbidden
	case errors.KindAttributeRejected:
		return http.StatusConflict
	case errors.KindInjectionFailed, errors.KindRemoteCallFailed:
		return http.StatusBadGateway
	case errors.KindUnsupported:
		return http.StatusNotImplemented
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
