// Package server wires the job tracker web frontend together and runs it.
//
// New is the composition root: it opens the token cache, derives keys,
// builds the provider, resolver, services and handlers, and mounts routes.
// main.go only loads config and calls New and Start.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/job-tracker-web/internal/auth"
	"github.com/sakif/job-tracker-web/internal/config"
	"github.com/sakif/job-tracker-web/internal/handler"
	"github.com/sakif/job-tracker-web/internal/middleware"
	"github.com/sakif/job-tracker-web/internal/profile"
	"github.com/sakif/job-tracker-web/internal/repository"
	redisRepo "github.com/sakif/job-tracker-web/internal/repository/redis"
	sqliteRepo "github.com/sakif/job-tracker-web/internal/repository/sqlite"
	"github.com/sakif/job-tracker-web/internal/resolver"
	"github.com/sakif/job-tracker-web/internal/service"
	"github.com/sakif/job-tracker-web/internal/session"
)

// Server owns the router and the token cache connection.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	cache  repository.TokenCache // nil when TOKEN_CACHE=none
}

// New builds a Server from cfg. The token cache is opened here and closed
// by Start on shutdown, or by Close if Start is never called.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	cache, err := openTokenCache(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening token cache: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		cache:  cache,
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openTokenCache opens the backend named by cfg.TokenCache. Expired sqlite
// rows are purged on the way up.
func openTokenCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.TokenCache, error) {
	switch cfg.TokenCache {
	case config.CacheRedis:
		cache, err := redisRepo.NewFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache, nil

	case config.CacheSQLite:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if n, err := db.PurgeExpired(ctx); err != nil {
			logger.Warn("purging expired tokens", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("purged expired tokens", slog.Int64("count", n))
		}
		return db, nil

	default:
		return nil, nil
	}
}

// setupRoutes builds every dependency and mounts the routes.
//
// ROUTES:
//
//	GET  /                    app shell (login, forward to callback, or destination)
//	GET  /auth/google/login   start Google sign-in
//	GET  /auth/callback       callback page, posts its own URL back
//	POST /auth/callback       reconcile the callback
//	GET  /simple-auth         simple login form
//	POST /auth/simple         simple login
//	POST /auth/test           test login (404 unless enabled)
//	POST /auth/logout         sign out
//	GET  /complete-profile    signed-in placeholder
//	GET  /dashboard           signed-in placeholder
//	GET  /api/me              cookie user (JSON, 401 when signed out)
//	GET  /api/session         cookie diagnostics
//	GET  /api/oauth/params    callback URL diagnostics
//	GET  /healthz             liveness
func (s *Server) setupRoutes() error {
	keys, err := auth.DeriveKeys(s.config.SessionSecret)
	if err != nil {
		return fmt.Errorf("deriving keys: %w", err)
	}

	states, err := auth.NewStateTokens(keys.State)
	if err != nil {
		return fmt.Errorf("creating state tokens: %w", err)
	}

	store := session.NewStore(s.logger,
		session.WithSigningKey(keys.Cookie),
		session.WithSecure(s.config.CookieSecure),
	)

	google := auth.NewGoogleProvider(
		s.config.GoogleClientID,
		s.config.GoogleClientSecret,
		s.config.RedirectURL(),
		states,
	)
	var login handler.LoginStarter = google
	if !s.config.GoogleEnabled() {
		s.logger.Warn("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set; Google sign-in is disabled")
		login = disabledLogin{}
	}

	resolverOpts := []resolver.Option{resolver.WithSettleDelay(s.config.SettleDelay)}
	var tokens service.TokenStore
	if s.cache != nil {
		resolverOpts = append(resolverOpts, resolver.WithTokenCache(s.cache))
		tokens = s.cache
	}
	res := resolver.New(google, s.logger, resolverOpts...)

	gate := profile.NewClient(s.config.BackendURL, s.logger, profile.WithTimeout(s.config.ProfileTimeout))

	callbacks := service.NewCallbackService(res, store, gate, tokens, s.logger)
	boot := service.NewBootstrapService(store, gate, tokens, s.config.EnableTestLogin, s.logger)

	pages, err := handler.NewPages(s.logger)
	if err != nil {
		return fmt.Errorf("loading page templates: %w", err)
	}

	authHandler := handler.NewAuthHandler(login, callbacks, boot, store, pages, s.config.CookieSecure, s.logger)
	apiHandler := handler.NewAPIHandler(store, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	// Cross-site form posts are refused, so another site cannot plant a
	// callback URL (login CSRF) or log the user out.
	s.router.Use(http.NewCrossOriginProtection().Handler)

	s.router.Get("/", authHandler.HandleHome)
	s.router.Get("/healthz", apiHandler.HandleHealth)
	s.router.Get("/simple-auth", authHandler.HandleSimpleAuthPage)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/callback", authHandler.HandleCallbackPage)
		r.Post("/callback", authHandler.HandleCallback)
		r.Post("/simple", authHandler.HandleSimpleLogin)
		r.Post("/test", authHandler.HandleTestLogin)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireSessionPage(store))
		r.Get("/complete-profile", authHandler.HandleAccount("Complete your profile"))
		r.Get("/dashboard", authHandler.HandleAccount("Dashboard"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/session", apiHandler.HandleSession)
		r.Get("/oauth/params", apiHandler.HandleOAuthParams)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(store))
			r.Get("/me", apiHandler.HandleMe)
		})
	})

	return nil
}

// disabledLogin stands in for the provider when no client credentials are
// configured.
type disabledLogin struct{}

func (disabledLogin) AuthURL(string) (string, error) {
	return "", errors.New("google sign-in is not configured")
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the token cache.
func (s *Server) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// WriteTimeout has to cover a full callback: settle delay, provider
// exchange and profile check.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicURL),
			slog.String("backend", s.config.BackendURL),
			slog.String("token_cache", s.config.TokenCache),
			slog.Bool("test_login", s.config.EnableTestLogin),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
