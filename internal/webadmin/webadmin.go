// Package webadmin serves the trimmed provisioning surface spec.md §4.13
// asks the Host Service to expose alongside the SIP listeners: CRUD for
// domains, accounts and the singleton dialplan script. No admin session
// login or hunt-group UI, per spec.md's Non-goals — grounded on the
// teacher's webadmin.Server (NewServer/Start/Stop shape), rebuilt on chi
// the way httprelay already serves the WebRTC relay's HTTP surface.
package webadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zurustar/signalrtc/internal/auth"
	"github.com/zurustar/signalrtc/internal/dialplan"
	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

// Server is the trimmed provisioning HTTP server.
type Server struct {
	store    *storage.DB
	dialplan *dialplan.Evaluator
	logger   logging.Logger
	http     *http.Server
}

// NewServer builds a Server over store and the shared dialplan Evaluator, so
// a dialplan save immediately becomes visible to the B2BUA Core's next
// lookup without a process restart.
func NewServer(store *storage.DB, dp *dialplan.Evaluator, logger logging.Logger) *Server {
	return &Server{store: store, dialplan: dp, logger: logger}
}

// Start begins serving on port in the background.
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting web admin server", logging.Int("port", port))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web admin server error", logging.Err(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("stopping web admin server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Route("/admin/domains", func(r chi.Router) {
		r.Get("/", s.listDomains)
		r.Post("/", s.createDomain)
	})

	r.Route("/admin/accounts", func(r chi.Router) {
		r.Post("/", s.createAccount)
		r.Get("/{id}", s.getAccount)
	})

	r.Route("/admin/dialplan", func(r chi.Router) {
		r.Get("/", s.getDialplan)
		r.Put("/", s.putDialplan)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.ListDomains()
	if err != nil {
		s.logger.Error("list domains failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

type createDomainRequest struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

func (s *Server) createDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	dom := &storage.Domain{Name: req.Name, Aliases: req.Aliases}
	if err := s.store.CreateDomain(dom); err != nil {
		s.logger.Error("create domain failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, dom)
}

type createAccountRequest struct {
	DomainID int64  `json:"domainId"`
	Username string `json:"username"`
	Password string `json:"password"`
	Disabled bool   `json:"disabled"`
}

// createAccount hashes the submitted plaintext password into an HA1 digest
// before it ever reaches storage — spec.md §9 flags a legacy code path that
// skipped this, this surface never accepts a bare digest from the client.
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	domains, err := s.store.ListDomains()
	if err != nil {
		s.logger.Error("list domains failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var realm string
	for _, d := range domains {
		if d.ID == req.DomainID {
			realm = d.Name
			break
		}
	}
	if realm == "" {
		http.Error(w, "unknown domain", http.StatusBadRequest)
		return
	}

	acct := &storage.Account{
		DomainID:  req.DomainID,
		Username:  req.Username,
		HA1Digest: auth.HA1(req.Username, realm, req.Password),
		Disabled:  req.Disabled,
	}
	if err := s.store.CreateAccount(acct); err != nil {
		s.logger.Error("create account failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	var id int64
	if _, err := fmt.Sscanf(chi.URLParam(r, "id"), "%d", &id); err != nil {
		http.Error(w, "malformed id", http.StatusBadRequest)
		return
	}
	acct, err := s.store.GetAccount(id)
	if err != nil {
		s.logger.Error("get account failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if acct == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) getDialplan(w http.ResponseWriter, r *http.Request) {
	dp, err := s.store.GetDialplan()
	if err != nil {
		s.logger.Error("get dialplan failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if dp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Source        string `json:"source"`
		LastUpdate    string `json:"lastUpdate"`
		CompileError  string `json:"compileError,omitempty"`
	}{Source: dp.ScriptSource, LastUpdate: dp.LastUpdate.Format(time.RFC3339), CompileError: s.dialplan.LastCompileError()})
}

type putDialplanRequest struct {
	Source string `json:"source"`
}

func (s *Server) putDialplan(w http.ResponseWriter, r *http.Request) {
	var req putDialplanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveDialplan(req.Source, time.Now()); err != nil {
		s.logger.Error("save dialplan failed", logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
