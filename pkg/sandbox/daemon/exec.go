package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	defaultTimeoutSeconds = 60
	maxRequestBytes       = 1 << 20
)

type ExecRequest struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"` // defaults to 60
	Workdir        string            `json:"workdir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
}

type ExecResponse struct {
	Output        string `json:"output"`
	ExitCode      int    `json:"exit_code"`
	SessionID     string `json:"session_id"`
	DurationMilli int64  `json:"duration_ms"`
}

// withJSON sets JSON headers.
func withJSON(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeBody(r *http.Request, out any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds)
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	timeout = timeout * time.Second

	workdir, err := resolvePath(s.cfg.Root, req.Workdir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Pushed runtime env first so request env wins.
	env := map[string]string{}
	for k, v := range s.runtimeConfig().Env {
		env[k] = v
	}
	for k, v := range req.Env {
		env[k] = v
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	res, err := runCommand(ctx, s.cfg.Shell, []string{"-c", req.Command}, workdir, env)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.ErrorContext(ctx, "shell exec error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.SessionID = sessionID
	res.DurationMilli = time.Since(start).Milliseconds()

	status := http.StatusOK
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, res)
}

// runCommand runs name with args and returns stdout followed by stderr as a
// single output. A non-zero exit is reported in the response, not as an error.
func runCommand(ctx context.Context, name string, args []string, workdir string, env map[string]string) (*ExecResponse, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "executing command", slog.String("cmd", cmd.String()), slog.String("workdir", workdir))
	err := cmd.Run()

	output := stdout.String() + stderr.String()
	if err != nil {
		if ctx.Err() != nil {
			return &ExecResponse{Output: output, ExitCode: -1}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecResponse{Output: output, ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("run: %w", err)
	}

	return &ExecResponse{Output: output, ExitCode: 0}, nil
}

// resolvePath returns an absolute path inside the sandbox root.
// If rel is empty, root is returned.
func resolvePath(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	if strings.TrimSpace(rel) == "" {
		return cleanRoot, nil
	}
	target := filepath.Clean(filepath.Join(cleanRoot, rel))

	if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox root")
	}
	return target, nil
}
