package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

const (
	defaultPort       = "8080"
	defaultSandboxDir = "/sandbox/workspace"
	defaultShell      = "/bin/sh"
)

// Config controls the in-sandbox daemon.
type Config struct {
	Port  string
	Root  string
	Shell string
}

// ConfigFromEnv reads SANDBOX_PORT, SANDBOX_ROOT and SANDBOX_SHELL.
func ConfigFromEnv() Config {
	return Config{
		Port:  getenv("SANDBOX_PORT", defaultPort),
		Root:  getenv("SANDBOX_ROOT", defaultSandboxDir),
		Shell: getenv("SANDBOX_SHELL", defaultShell),
	}
}

// Server executes shell commands inside the sandbox and holds the runtime
// configuration pushed by the lifecycle client.
type Server struct {
	cfg Config

	mu      sync.RWMutex
	runtime sandbox.RuntimeConfig
}

func NewServer(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.Root == "" {
		cfg.Root = defaultSandboxDir
	}
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	return &Server{cfg: cfg}
}

// Handler returns the daemon's routes wrapped in otel instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/shell/exec", withJSON(http.HandlerFunc(s.handleExec)))
	mux.Handle("GET /v1/config", withJSON(http.HandlerFunc(s.handleGetConfig)))
	mux.Handle("POST /v1/config", withJSON(http.HandlerFunc(s.handlePutConfig)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return otelhttp.NewHandler(mux, "sandbox-daemon")
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sandbox-daemon listening", slog.String("addr", srv.Addr), slog.String("root", filepath.Clean(s.cfg.Root)))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) runtimeConfig() sandbox.RuntimeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
