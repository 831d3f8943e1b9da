// internal/server/server.go

// Package server implements the collector: the authenticated HTTP API the
// capture agent uploads trajectories to, backed by Postgres.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/apiclient"
	"github.com/xkilldash9x/webtrail/internal/capture"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/router"
)

// maxUploadBytes bounds a single trajectory upload.
const maxUploadBytes = 16 << 20

// Server is the collector's HTTP surface.
type Server struct {
	cfg    config.ServerConfig
	store  *Store
	tokens *TokenIssuer
	log    *zap.Logger
}

// New assembles the collector server.
func New(cfg config.ServerConfig, store *Store, tokens *TokenIssuer, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		log:    logger.Named("server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(apiclient.PathLogin, s.post(s.handleLogin))
	mux.HandleFunc(apiclient.PathCheck, s.post(s.handleCheck))
	mux.HandleFunc(apiclient.PathRefresh, s.post(s.handleRefresh))
	mux.HandleFunc(apiclient.PathActiveTask, s.post(s.authed(s.handleActiveTask)))
	mux.HandleFunc(apiclient.PathTaskInfo, s.post(s.authed(s.handleTaskInfo)))
	mux.HandleFunc(apiclient.PathJustifications, s.post(s.authed(s.handleJustifications)))
	mux.HandleFunc(apiclient.PathTaskData, s.post(s.authed(s.handleUpload)))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Collector listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// post restricts a handler to the POST method.
func (s *Server) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

// authed validates the bearer token and passes its subject through.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		username, err := s.tokens.VerifyAccess(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r, username)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := storeJSON.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req schemas.LoginRequest
	if err := storeJSON.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, schemas.LoginResponse{OK: false, Reason: schemas.LoginConnection})
		return
	}

	err := s.store.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUnknownUser):
		s.writeJSON(w, http.StatusBadRequest, schemas.LoginResponse{OK: false, Reason: schemas.LoginBadUsername})
		return
	case errors.Is(err, ErrBadPassword):
		s.writeJSON(w, http.StatusBadRequest, schemas.LoginResponse{OK: false, Reason: schemas.LoginBadPassword})
		return
	case err != nil:
		s.log.Error("Login lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	access, refresh, err := s.tokens.IssuePair(req.Username)
	if err != nil {
		s.log.Error("Failed to issue token pair", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, schemas.LoginResponse{OK: true, Access: access, Refresh: refresh})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	username, err := s.tokens.VerifyAccess(raw)
	if err != nil {
		s.writeJSON(w, http.StatusOK, schemas.CheckResponse{Valid: false})
		return
	}
	s.writeJSON(w, http.StatusOK, schemas.CheckResponse{Valid: true, Username: username})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	refresh := r.PostFormValue("refresh")
	if refresh == "" {
		http.Error(w, "missing refresh token", http.StatusBadRequest)
		return
	}
	username, err := s.tokens.VerifyRefresh(refresh)
	if err != nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	access, err := s.tokens.IssueAccess(username)
	if err != nil {
		s.log.Error("Failed to issue access token", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, schemas.RefreshResponse{Access: access})
}

func (s *Server) handleActiveTask(w http.ResponseWriter, r *http.Request, username string) {
	info, err := s.store.ActiveTaskFor(r.Context(), username)
	if err != nil {
		s.log.Error("Active task lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTaskInfo(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		TaskID string `json:"taskId"`
	}
	if err := storeJSON.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		http.Error(w, "missing taskId", http.StatusBadRequest)
		return
	}
	info, err := s.store.TaskByID(r.Context(), req.TaskID)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleJustifications(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		URL string `json:"url"`
	}
	if err := storeJSON.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	fp, err := router.Fingerprint(req.URL)
	if err != nil {
		http.Error(w, "malformed url", http.StatusBadRequest)
		return
	}
	purposes, err := s.store.JustificationsFor(r.Context(), fp)
	if err != nil {
		s.log.Error("Justification lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"purposes": purposes})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, username string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "reading upload", http.StatusBadRequest)
		return
	}
	var env schemas.UploadEnvelope
	if err := storeJSON.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	view, err := capture.DecodeEnvelope(&env)
	if err != nil {
		http.Error(w, fmt.Sprintf("decoding view: %v", err), http.StatusBadRequest)
		return
	}
	if view.ViewID == "" || view.SessionID == "" {
		http.Error(w, "view missing identifiers", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveView(r.Context(), username, view); err != nil {
		s.log.Error("Failed to persist view", zap.Error(err), zap.String("viewId", view.ViewID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Debug("View stored",
		zap.String("viewId", view.ViewID),
		zap.String("user", username),
		zap.Int("events", len(view.Events)))
	s.writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}
