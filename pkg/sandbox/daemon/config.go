package daemon

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtimeConfig())
}

// handlePutConfig replaces the runtime configuration. The env it carries is
// applied to every later exec.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg sandbox.RuntimeConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	s.mu.Lock()
	s.runtime = cfg
	s.mu.Unlock()

	slog.InfoContext(r.Context(), "runtime config updated",
		slog.String("identity", cfg.Identity),
		slog.String("namespace", cfg.Namespace),
		slog.Int("env", len(cfg.Env)))

	w.WriteHeader(http.StatusNoContent)
}
