package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gtmills/ensuressl/internal/sslkey"
)

const requestIDHeader = "X-Request-ID"

// Server serves HTTPS with the key and certificate kept in a single PEM file
// and exposes the state of that file.
type Server struct {
	router  *mux.Router
	manager *sslkey.Manager
	log     *zap.SugaredLogger
	path    string
	addr    string

	mu   sync.RWMutex
	cert *tls.Certificate

	// regenMu serializes regeneration requests.
	regenMu sync.Mutex
	httpSrv *http.Server
}

// NewServer ensures the PEM file at path is valid and loads it.
func NewServer(manager *sslkey.Manager, path, addr string) (*Server, error) {
	s := &Server{
		router:  mux.NewRouter(),
		manager: manager,
		log:     manager.Library().Logger(),
		path:    path,
		addr:    addr,
	}

	if err := manager.EnsureKeyPresentAndValid(path); err != nil {
		return nil, fmt.Errorf("failed to ensure certificate: %w", err)
	}
	if err := s.reload(); err != nil {
		// Verification only checks the signature, so a file can pass while its
		// certificate carries a different public key than the private key.
		s.log.Warnw("Verified file cannot be served, regenerating", "path", path, "error", err)
		if err := manager.GenerateCertificate(path); err != nil {
			return nil, fmt.Errorf("failed to regenerate certificate: %w", err)
		}
		if err := s.reload(); err != nil {
			return nil, err
		}
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/certificate", s.handleGetCertificate).Methods("GET")
	api.HandleFunc("/certificate/regenerate", s.handleRegenerate).Methods("POST")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// TLSConfig returns a config that always presents the most recently loaded
// certificate.
func (s *Server) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.getCertificate,
	}
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		TLSConfig:         s.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infow("ensuressl server starting", "addr", s.addr, "path", s.path)

	err := s.httpSrv.ListenAndServeTLS("", "")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cert, nil
}

func (s *Server) reload() error {
	data, err := s.manager.Library().Storage().ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	// The file holds both blocks; each side skips the other's.
	cert, err := tls.X509KeyPair(data, data)
	if err != nil {
		return fmt.Errorf("failed to load key pair from %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.cert = &cert
	s.mu.Unlock()

	s.log.Debugw("Loaded certificate", "path", s.path)
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugw("Request", "id", id, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Inspect(s.path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s.regenMu.Lock()
	defer s.regenMu.Unlock()

	s.log.Warnw("Regeneration requested", "id", w.Header().Get(requestIDHeader), "path", s.path)

	if err := s.manager.GenerateCertificate(s.path); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.reload(); err != nil {
		s.log.Errorw("Regenerated file could not be loaded, still serving the previous certificate",
			"id", w.Header().Get(requestIDHeader), "path", s.path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report, err := s.manager.Inspect(s.path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
