// Package server wires the decision engine service together: engine
// registry, session store tiers, the session service, authentication,
// and the HTTP API.
package server

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/lib/pq"

	"github.com/ipforge/decision-engine/pkg/auth"
	"github.com/ipforge/decision-engine/pkg/config"
	"github.com/ipforge/decision-engine/pkg/database/migrate"
	"github.com/ipforge/decision-engine/pkg/engine"
	"github.com/ipforge/decision-engine/pkg/health"
	apihttp "github.com/ipforge/decision-engine/pkg/http"
	"github.com/ipforge/decision-engine/pkg/session"
	sessionpg "github.com/ipforge/decision-engine/pkg/session/postgres"
)

// Version is set at build time.
var Version = "dev"

// Server is the assembled decision engine service.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *session.Service
	checker *health.Checker
	httpSrv *http.Server
}

// New builds the service from configuration.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	registry, err := engine.Load(cfg.Engines.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading engine definitions: %w", err)
	}
	logger.Info("engine definitions loaded", "count", registry.Len())

	store, tier, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	opts := []session.ServiceOption{session.WithLogger(logger)}
	if cfg.Session.IdleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(cfg.Session.IdleTimeout, cfg.Session.SweepInterval))
	}
	service := session.NewService(registry, store, opts...)

	authenticator, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}

	checker := health.NewChecker()
	if tier != nil {
		checker.SetStoreTierFunc(tier)
	}

	api := NewHandler(service, registry, cfg.Session.ListLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", checker.ReadinessHandler())
	mux.Handle("/v1/",
		apihttp.RequestLogger(logger)(
			apihttp.AuthMiddleware(authenticator)(api)))

	return &Server{
		cfg:     cfg,
		logger:  logger,
		service: service,
		checker: checker,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run serves until ctx is canceled, then drains and shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.service.StartSweeper(ctx)
	s.checker.SetReady()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			"address", s.cfg.Server.Address, "version", Version)
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return s.Close()
}

// Close releases resources.
func (s *Server) Close() error {
	return s.service.Close()
}

// buildLogger constructs the slog logger from configuration.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// buildStore constructs the configured session store. The returned tier
// function, when non-nil, reports which tier served the last operation.
func buildStore(cfg *config.Config) (session.Store, func() string, error) {
	switch cfg.Store.Mode {
	case "memory":
		return session.NewMemoryStore(), nil, nil

	case "file":
		store, err := session.NewFileStore(cfg.Store.FallbackDir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case "postgres":
		store, err := openPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case "postgres+file":
		primary, err := openPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		secondary, err := session.NewFileStore(cfg.Store.FallbackDir)
		if err != nil {
			return nil, nil, err
		}
		fallback := session.NewFallbackStore(primary, secondary)
		return fallback, fallback.LastTier, nil

	default:
		return nil, nil, fmt.Errorf("unknown store mode %q", cfg.Store.Mode)
	}
}

func openPostgres(cfg *config.Config) (*sessionpg.Store, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.Database.MigrateOnStart {
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return sessionpg.New(db), nil
}

// buildAuthenticator assembles the auth chain from configuration.
func buildAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	var authenticators []auth.Authenticator

	if cfg.JWT.Enabled {
		key, err := base64.StdEncoding.DecodeString(cfg.JWT.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("decoding jwt signing key: %w", err)
		}
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			SigningKey: key,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
		})
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, jwtAuth)
	}

	if cfg.APIKeys.Enabled {
		keys := make([]auth.APIKey, 0, len(cfg.APIKeys.Keys))
		for _, k := range cfg.APIKeys.Keys {
			keys = append(keys, auth.APIKey{
				Name: k.Name,
				Key:  k.Key,
				Hash: k.Hash,
				User: k.User,
			})
		}
		authenticators = append(authenticators, auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: keys}))
	}

	return auth.NewChainedAuthenticator(
		auth.ChainedAuthConfig{AllowAnonymous: cfg.AllowAnonymous},
		authenticators...,
	), nil
}
