// Package stubserver is a local stand-in for the verification API. It
// serves POST /otp/send, /otp/resend and /otp/verify with the same JSON
// shapes as production so the client can be exercised offline.
package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/borrowease-verify/internal/phone"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Server wraps the HTTP listener and the OTP service.
type Server struct {
	settings Settings
	logger   *logrus.Logger
	clock    func() time.Time
	store    Store
	delivery Delivery
	codes    func() (string, error)
	service  *Service

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default discard logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control time.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStore overrides the in-memory store.
func WithStore(store Store) Option {
	return func(s *Server) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDelivery overrides the log delivery.
func WithDelivery(d Delivery) Option {
	return func(s *Server) {
		if d != nil {
			s.delivery = d
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Server) {
		if fn != nil {
			s.codes = fn
		}
	}
}

// NewServer prepares a stub server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	settings.normalize()
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Server{
		settings: settings,
		logger:   discard,
		clock:    func() time.Time { return time.Now().UTC() },
		codes:    randomCode,
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.delivery == nil {
		s.delivery = LogDelivery{Logger: s.logger}
	}
	s.service = newService(s.settings, s.store, s.delivery, s.now, s.codes, s.logger)
	return s
}

// Handler returns the routed HTTP handler; Start serves it.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, otpResponse{Error: "method not allowed"})
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, otpResponse{Error: "not found"})
	})
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	api := router
	if s.settings.PathPrefix != "" {
		api = router.PathPrefix(s.settings.PathPrefix).Subrouter()
	}
	otp := api.PathPrefix("/otp").Subrouter()
	otp.HandleFunc("/send", s.handleSend(false)).Methods(http.MethodPost)
	otp.HandleFunc("/resend", s.handleSend(true)).Methods(http.MethodPost)
	otp.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	return router
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stubserver: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("stubserver: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stubserver: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("stubserver: serve error")
		}
	}()
	s.logger.WithFields(logrus.Fields{
		"addr":  listener.Addr().String(),
		"store": s.settings.Store,
	}).Info("stubserver: listening")
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the API base URL (prefix included) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr + s.settings.PathPrefix
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type otpResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
	AttemptsLeft *int   `json:"attemptsLeft,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Store:         s.settings.Store,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleSend(resend bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req phoneRequest
		if !s.decode(w, r, &req) {
			return
		}
		number := strings.TrimSpace(req.Phone)
		ttl, err := s.service.Send(r.Context(), number, resend)
		if err != nil {
			s.fail(w, r, number, err)
			return
		}
		msg := "OTP sent successfully"
		if resend {
			msg = "OTP resent successfully"
		}
		writeJSON(w, http.StatusOK, otpResponse{
			Success:   true,
			Message:   msg,
			ExpiresIn: int(ttl / time.Second),
		})
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	number := strings.TrimSpace(req.Phone)
	if err := s.service.Verify(r.Context(), number, strings.TrimSpace(req.OTP)); err != nil {
		s.fail(w, r, number, err)
		return
	}
	writeJSON(w, http.StatusOK, otpResponse{Success: true, Message: "Phone number verified"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, otpResponse{Error: "empty body"})
		return false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	if err := json.NewDecoder(reader).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, otpResponse{Error: "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, otpResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, number string, err error) {
	entry := s.logger.WithFields(logrus.Fields{
		"path":  r.URL.Path,
		"phone": phone.Mask(number),
	})
	if f, ok := asFailure(err); ok {
		entry.WithField("status", f.Status).Info(f.Message)
		writeJSON(w, f.Status, otpResponse{Error: f.Message, AttemptsLeft: f.AttemptsLeft})
		return
	}
	entry.WithError(err).Error("stubserver: request failed")
	writeJSON(w, http.StatusInternalServerError, otpResponse{Error: "internal error"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"request_id": r.Header.Get("X-Request-ID"),
			"duration":   s.clock().Sub(start).String(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
