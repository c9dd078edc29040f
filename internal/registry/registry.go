// Package registry implements a small name service: register, remove,
// list-by-prefix, and locate. It is deliberately small — a gorilla/mux-
// routed HTTP service backed by an in-memory map — so that a peer can
// embed one when no registry is reachable at startup.
package registry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// Server is the embeddable name registry. Names are arbitrary strings;
// this peer's convention layers "peer.<id>" on top, but the registry
// itself is name-agnostic.
type Server struct {
	mu      sync.RWMutex
	entries map[string]string // name -> uri

	httpSrv *http.Server
}

// NewServer builds a registry server, unstarted.
func NewServer() *Server {
	return &Server{entries: make(map[string]string)}
}

// Router builds the mux.Router exposing the registry's HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/remove", s.handleRemove).Methods(http.MethodPost)
	r.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/locate", s.handleLocate).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts the registry's HTTP server on addr. It blocks until
// the server stops; callers typically run it in a goroutine.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the embedded registry server down, if running.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

type registerRequest struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid register request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if _, exists := s.entries[req.Name]; exists {
		s.mu.Unlock()
		http.Error(w, "name already registered", http.StatusConflict)
		return
	}
	s.entries[req.Name] = req.URI
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

type removeRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid remove request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.entries, req.Name)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	out := make(map[string]string)
	s.mu.RLock()
	for name, uri := range s.entries {
		if len(prefix) == 0 || len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out[name] = uri
		}
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
