// Package control is the loopback HTTP surface a host player drives the
// helper through, plus the device-facing media routes on the same port.
package control

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castbridge/cast-bridge/internal/device"
	"github.com/castbridge/cast-bridge/internal/discovery"
	"github.com/castbridge/cast-bridge/internal/mediaserv"
	"github.com/castbridge/cast-bridge/internal/metrics"
	"github.com/castbridge/cast-bridge/internal/session"
)

// Server serves the control plane and the media routes.
type Server struct {
	Addr         string
	Version      string
	FriendlyName string

	Directory   *device.Directory
	Coordinator *session.Coordinator
	Browser     *discovery.Browser
	Media       *mediaserv.Handler

	// Shutdown, when set, is called shortly after a /shutdown request
	// has been answered.
	Shutdown func()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":9876"
	}

	srv := &http.Server{Addr: addr, Handler: logRequests(s.router(ctx))}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("control: listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("control: shutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("control: shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

func (s *Server) router(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	// Answer preflight on every route before routing; chi would 405 an
	// OPTIONS on routes registered for other methods.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodOptions {
				setCORS(w.Header())
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Get("/devices", s.handleDevices)
	r.Get("/devices/{id}", s.handleDevice)
	r.Post("/devices/refresh", s.handleRefresh(ctx))
	r.Post("/cast", s.handleCast)
	r.Post("/control", s.handleControl)
	r.Get("/status", s.handleStatus)
	r.Post("/stop", s.handleStop)
	r.Post("/shutdown", s.handleShutdown)
	r.Handle("/metrics", promhttp.Handler())

	if s.Media != nil {
		r.Handle("/media/*", s.Media)
		r.Handle("/subtitles/*", s.Media)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.Version})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Directory.List())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing device id")
		return
	}
	d, ok := s.Directory.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRefresh(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Sweeps outlive the request; tie them to the server's
		// lifetime, not the request's.
		s.Browser.Refresh(ctx)
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshing"})
	}
}

type castRequest struct {
	DeviceID string  `json:"deviceId"`
	MediaURL string  `json:"mediaUrl"`
	Position float64 `json:"position"`
}

func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.DeviceID == "" || req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "deviceId and mediaUrl are required")
		return
	}
	if err := s.Coordinator.Start(r.Context(), req.DeviceID, req.MediaURL, req.Position); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "casting"})
}

type controlRequest struct {
	Action string   `json:"action"`
	Value  *float64 `json:"value"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if (req.Action == "seek" || req.Action == "volume") && req.Value == nil {
		writeError(w, http.StatusBadRequest, req.Action+" requires a numeric value")
		return
	}
	var value float64
	if req.Value != nil {
		value = *req.Value
	}
	if err := s.Coordinator.Control(r.Context(), req.Action, value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Coordinator.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Coordinator.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	if s.Shutdown != nil {
		time.AfterFunc(100*time.Millisecond, s.Shutdown)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func setCORS(hdr http.Header) {
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type")
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr,
		)
	})
}
