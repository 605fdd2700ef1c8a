package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"upline/internal/config"
	"upline/internal/referral"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	engine *referral.Engine
	store  referral.Store
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, engine *referral.Engine, store referral.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		engine: engine,
		store:  store,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/referrals/events", s.handleReferralEvent)
		r.Post("/referrals/retry", s.handleRetrySweep)

		r.Get("/users/{id}", s.handleUser)
		r.Get("/users/{id}/code", s.handleOwnCode)
		r.Get("/users/{id}/chain", s.handleChain)
		r.Get("/users/{id}/team", s.handleTeam)

		r.Get("/codes/{code}", s.handleResolveCode)
		r.Delete("/codes/{code}", s.handleDeactivateCode)

		r.Get("/thresholds", s.handleThresholds)
	})
}

// The API sits behind the registration service, not end users, so a single
// shared service token is the whole auth story.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServiceToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReferralEvent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID       string `json:"user_id"`
		ReferralCode string `json:"referral_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	result, err := s.engine.ProcessReferralEvent(r.Context(), in.UserID, in.ReferralCode)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleRetrySweep(w http.ResponseWriter, r *http.Request) {
	done, err := s.engine.RetryPending(r.Context(), s.cfg.RetrySweepBatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": done})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleOwnCode(w http.ResponseWriter, r *http.Request) {
	code, link, err := s.engine.OwnCode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "share_link": link})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.engine.UplineChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if chain == nil {
		chain = []referral.ChainEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.DirectChildren(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if members == nil {
		members = []referral.TeamMemberRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleResolveCode(w http.ResponseWriter, r *http.Request) {
	code := referral.NormalizeCode(chi.URLParam(r, "code"))
	userID, err := s.store.ResolveCode(r.Context(), code)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "user_id": userID})
}

func (s *Server) handleDeactivateCode(w http.ResponseWriter, r *http.Request) {
	code := referral.NormalizeCode(chi.URLParam(r, "code"))
	if err := s.store.DeactivateCode(r.Context(), code); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	table := s.engine.Thresholds()
	out := make([]map[string]any, 0, len(table))
	for _, t := range table {
		out = append(out, map[string]any{
			"level":      int(t.Level),
			"name":       t.Level.String(),
			"min_direct": t.MinDirect,
			"min_team":   t.MinTeam,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": out})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrDuplicateUser), errors.Is(err, referral.ErrDuplicateCode),
		errors.Is(err, referral.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, referral.ErrSelfReferral), errors.Is(err, referral.ErrInvalidParent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, referral.ErrUserNotFound), errors.Is(err, referral.ErrCodeNotFound),
		errors.Is(err, referral.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, referral.ErrCodeInactive):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, referral.ErrCycleDetected):
		s.log.Error("referral graph integrity violation", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
