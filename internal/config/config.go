package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/curaious/sandboxctl/internal/perrors"
	"github.com/curaious/sandboxctl/pkg/sandbox"
	"github.com/curaious/sandboxctl/pkg/sandbox/k8s_sandbox"
	"github.com/curaious/sandboxctl/pkg/sandbox/kubectl_sandbox"
	"github.com/curaious/sandboxctl/pkg/sandbox/proxy_sandbox"
)

const (
	BackendProxy      = "proxy"
	BackendKubectl    = "kubectl"
	BackendKubernetes = "kubernetes"
)

const op = "configure"

type Config struct {
	SANDBOX_BACKEND       string
	SANDBOX_ENDPOINT      string
	SANDBOX_TOKEN         string
	SANDBOX_DEFAULT_IMAGE string
	SANDBOX_DEFAULT_PORT  int
	SANDBOX_IDENTITY      string
	SANDBOX_NAMESPACE     string
	SANDBOX_ADDRESSING    sandbox.Addressing
	SANDBOX_POLL_INTERVAL time.Duration
	SANDBOX_POLL_ATTEMPTS int
	SANDBOX_HTTP_TIMEOUT  time.Duration
	SANDBOX_RUNTIME_ENV   map[string]string

	// kubectl and kubernetes profiles
	SANDBOX_KUBECTL      string
	SANDBOX_KUBECONFIG   string
	SANDBOX_KUBE_CONTEXT string

	LOG_LEVEL  string
	LOG_FORMAT string

	// Otel
	OTEL_EXPORTER_OTLP_ENDPOINT string
}

// ReadConfig reads the environment once. Missing values fall back to
// defaults; malformed values are an error.
func ReadConfig() (*Config, error) {
	addressing, err := sandbox.ParseAddressing(os.Getenv("SANDBOX_ADDRESSING"))
	if err != nil {
		return nil, perrors.InvalidRequest(op, "", err.Error())
	}

	port, err := getInt("SANDBOX_DEFAULT_PORT", 8080)
	if err != nil {
		return nil, err
	}
	attempts, err := getInt("SANDBOX_POLL_ATTEMPTS", sandbox.DefaultPollAttempts)
	if err != nil {
		return nil, err
	}
	interval, err := getDuration("SANDBOX_POLL_INTERVAL", sandbox.DefaultPollInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := getDuration("SANDBOX_HTTP_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}
	runtimeEnv, err := ParseRuntimeEnv(os.Getenv("SANDBOX_RUNTIME_ENV"))
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvOrDefault("SANDBOX_BACKEND", BackendProxy))
	switch backend {
	case BackendProxy, BackendKubectl, BackendKubernetes:
	default:
		return nil, perrors.InvalidRequest(op, "", fmt.Sprintf("unknown SANDBOX_BACKEND %q", backend))
	}

	return &Config{
		SANDBOX_BACKEND:       backend,
		SANDBOX_ENDPOINT:      strings.TrimRight(os.Getenv("SANDBOX_ENDPOINT"), "/"),
		SANDBOX_TOKEN:         os.Getenv("SANDBOX_TOKEN"),
		SANDBOX_DEFAULT_IMAGE: os.Getenv("SANDBOX_DEFAULT_IMAGE"),
		SANDBOX_DEFAULT_PORT:  port,
		SANDBOX_IDENTITY:      getEnvOrDefault("SANDBOX_IDENTITY", "default"),
		SANDBOX_NAMESPACE:     getEnvOrDefault("SANDBOX_NAMESPACE", "default"),
		SANDBOX_ADDRESSING:    addressing,
		SANDBOX_POLL_INTERVAL: interval,
		SANDBOX_POLL_ATTEMPTS: attempts,
		SANDBOX_HTTP_TIMEOUT:  timeout,
		SANDBOX_RUNTIME_ENV:   runtimeEnv,

		SANDBOX_KUBECTL:      getEnvOrDefault("SANDBOX_KUBECTL", "kubectl"),
		SANDBOX_KUBECONFIG:   os.Getenv("SANDBOX_KUBECONFIG"),
		SANDBOX_KUBE_CONTEXT: os.Getenv("SANDBOX_KUBE_CONTEXT"),

		LOG_LEVEL:  getEnvOrDefault("LOG_LEVEL", "info"),
		LOG_FORMAT: getEnvOrDefault("LOG_FORMAT", "text"),

		OTEL_EXPORTER_OTLP_ENDPOINT: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

// Settings are the lifecycle client settings for the configured profile. Only
// the proxy profile needs an endpoint.
func (c *Config) Settings() sandbox.Settings {
	return sandbox.Settings{
		Endpoint:         c.SANDBOX_ENDPOINT,
		EndpointOptional: c.SANDBOX_BACKEND != BackendProxy,
		Token:            c.SANDBOX_TOKEN,
		DefaultImage:     c.SANDBOX_DEFAULT_IMAGE,
		DefaultPort:      c.SANDBOX_DEFAULT_PORT,
		DefaultIdentity:  c.SANDBOX_IDENTITY,
		DefaultNamespace: c.SANDBOX_NAMESPACE,
		PollInterval:     c.SANDBOX_POLL_INTERVAL,
		PollAttempts:     c.SANDBOX_POLL_ATTEMPTS,
		RuntimeEnv:       c.SANDBOX_RUNTIME_ENV,
	}
}

// Backend builds the configured backend profile. It is called once at
// startup.
func (c *Config) Backend() (sandbox.Backend, error) {
	switch c.SANDBOX_BACKEND {
	case BackendKubectl:
		return kubectl_sandbox.NewBackend(kubectl_sandbox.Config{
			Binary:     c.SANDBOX_KUBECTL,
			Kubeconfig: c.SANDBOX_KUBECONFIG,
			Context:    c.SANDBOX_KUBE_CONTEXT,
			Addressing: c.SANDBOX_ADDRESSING,
		}), nil
	case BackendKubernetes:
		b, err := k8s_sandbox.NewBackend(k8s_sandbox.Config{
			Kubeconfig: c.SANDBOX_KUBECONFIG,
			Context:    c.SANDBOX_KUBE_CONTEXT,
			Addressing: c.SANDBOX_ADDRESSING,
		})
		if err != nil {
			return nil, perrors.New(perrors.ErrCodeConfigMissing, op, "", "cluster credentials unavailable", err)
		}
		return b, nil
	default:
		return proxy_sandbox.NewBackend(proxy_sandbox.Config{
			Endpoint:   c.SANDBOX_ENDPOINT,
			Token:      c.SANDBOX_TOKEN,
			Addressing: c.SANDBOX_ADDRESSING,
			Timeout:    c.SANDBOX_HTTP_TIMEOUT,
		}), nil
	}
}

// Client builds the lifecycle client for the configured profile.
func (c *Config) Client(opts ...sandbox.Option) (*sandbox.Client, error) {
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}
	return sandbox.NewClient(c.Settings(), backend, opts...), nil
}

// ParseRuntimeEnv parses "K=V,K=V". Empty input is an empty map.
func ParseRuntimeEnv(s string) (map[string]string, error) {
	env := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, perrors.InvalidRequest(op, "", fmt.Sprintf("SANDBOX_RUNTIME_ENV entry %q is not KEY=VALUE", pair))
		}
		env[k] = v
	}
	return env, nil
}

// RuntimeEnvKeys returns the configured runtime env keys in order, for logs.
func (c *Config) RuntimeEnvKeys() []string {
	keys := make([]string, 0, len(c.SANDBOX_RUNTIME_ENV))
	for k := range c.SANDBOX_RUNTIME_ENV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, perrors.InvalidRequest(op, "", fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
	}
	return v, nil
}

// getDuration accepts Go durations ("5s") or plain seconds ("5").
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, perrors.InvalidRequest(op, "", fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
	}
	return d, nil
}
