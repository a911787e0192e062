package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"dailybugs-backend/internal/config"
	"dailybugs-backend/internal/github"
	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/pipeline"
	"dailybugs-backend/internal/store"
	"dailybugs-backend/internal/types"
)

// RunTrigger starts one workflow run.
type RunTrigger interface {
	Run(ctx context.Context, p pipeline.Params) (pipeline.Result, error)
}

// Deps are the capabilities the HTTP API is built on.
type Deps struct {
	Store store.Store
	// Sessions maps browser sessions to users and tracks OAuth states.
	Sessions *store.MemoryStore
	GitHub   github.API
	Runner   RunTrigger
	Log      *logger.Logger
}

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	log      *logger.Logger
	store    store.Store
	sessions *store.MemoryStore
	github   github.API
	runner   RunTrigger
	oauthCfg *oauth2.Config

	// runs tracks manual runs still in flight.
	runs sync.WaitGroup
	// runTimeout bounds a manual run.
	runTimeout time.Duration
	// baseCtx parents manual runs; Close cancels it.
	baseCtx    context.Context
	cancelRuns context.CancelFunc

	activeMu sync.Mutex
	active   map[string]struct{} // users with a manual run in flight
}

func NewServer(cfg config.Config, deps Deps) *Server {
	lg := deps.Log
	if lg == nil {
		lg = logger.Nop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = store.NewMemoryStore()
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:   r,
		cfg:      cfg,
		log:      lg,
		store:    deps.Store,
		sessions: sessions,
		github:   deps.GitHub,
		runner:   deps.Runner,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			Scopes:       cfg.GitHub.Scopes,
			Endpoint:     oauthgithub.Endpoint,
		},
		runTimeout: 15 * time.Minute,
		active:     make(map[string]struct{}),
	}
	s.baseCtx, s.cancelRuns = context.WithCancel(context.Background())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	// GitHub OAuth
	s.router.Get("/api/github/auth", s.handleGitHubAuth)
	s.router.Get("/api/github/callback", s.handleGitHubCallback)
	s.router.Get("/api/github/status", s.handleGitHubStatus)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/api/github/logout", s.handleLogout)
		r.Get("/api/delivery", s.handleGetDelivery)
		r.Put("/api/delivery", s.handleSetDelivery)
		r.Post("/api/runs", s.handleTriggerRun)
	})
}

func (s *Server) Router() http.Handler { return s.router }

// Close cancels manual runs still in flight and waits for them to return.
func (s *Server) Close() {
	s.cancelRuns()
	s.runs.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}

type ctxKey struct{}

// requireUser resolves the session cookie to a user id, answering 401 when
// there is none.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := s.sessionUser(r)
		if uid == "" {
			s.writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, uid)))
	})
}

func (s *Server) sessionUser(r *http.Request) string {
	sid, err := GetSessionCookie(r)
	if err != nil || sid == "" {
		return ""
	}
	return s.sessions.GetSessionUser(sid)
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(ctxKey{}).(string)
	return uid
}
