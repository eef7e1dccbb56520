// Package api exposes stored test results over a read-only HTTP
// surface: a health endpoint, a filterable result listing, and full
// result documents by execution id. Optional basic auth and per-IP rate
// limiting protect shared deployments.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/store"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Config describes the API server.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig enables basic auth over the result endpoints. Users map
// usernames to plaintext passwords in config; they are stored hashed.
type AuthConfig struct {
	Enabled bool              `yaml:"enabled"`
	Users   map[string]string `yaml:"users"`
}

// RateLimitConfig bounds request rates per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// ApplyDefaults fills the listen address and rate limit.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
}

// Validate checks the server description.
func (c *Config) Validate() error {
	if c.Auth.Enabled && len(c.Auth.Users) == 0 {
		return fmt.Errorf("auth enabled but no users configured")
	}

	return nil
}

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        Config
	store      store.Store
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates an API server over an already-started store.
func NewServer(log logrus.FieldLogger, cfg Config, st store.Store) (Server, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating api config: %w", err)
	}

	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		store: st,
	}, nil
}

// Start seeds the configured accounts and begins serving.
func (s *server) Start(ctx context.Context) error {
	if s.cfg.Auth.Enabled {
		if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server stopped")
		}
	}()

	s.log.WithField("listen", s.cfg.Listen).Info("API server started")

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	s.wg.Wait()

	return nil
}
