package kubectl_sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	json "github.com/bytedance/sonic"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/curaious/sandboxctl/pkg/sandbox"
	"github.com/curaious/sandboxctl/pkg/sandbox/k8s_sandbox"
)

// remoteExitPattern is what kubectl exec prints when the remote command, not
// kubectl itself, exited non-zero.
var remoteExitPattern = regexp.MustCompile(`(?m)^command terminated with exit code (\d+)\s*$`)

type Config struct {
	// Binary is the kubectl executable. Defaults to "kubectl".
	Binary     string
	Kubeconfig string
	Context    string

	Addressing sandbox.Addressing

	// Runner defaults to ExecRunner.
	Runner Runner
}

// Backend drives sandboxes by invoking kubectl and parsing its JSON output.
type Backend struct {
	cfg Config
}

var _ sandbox.Backend = (*Backend)(nil)

func NewBackend(cfg Config) *Backend {
	if cfg.Binary == "" {
		cfg.Binary = "kubectl"
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Profile() string {
	return "kubectl"
}

func (b *Backend) Create(ctx context.Context, t sandbox.Target, spec sandbox.Spec) sandbox.Reply[sandbox.Record] {
	doc, err := k8s_sandbox.BuildManifest(b.cfg.Addressing.ResourceName(t), t, spec).YAML()
	if err != nil {
		return sandbox.Fail[sandbox.Record](sandbox.TransportFailure(ctx, err))
	}

	out, f := b.kubectl(ctx, doc, "create", "-n", t.Namespace, "-f", "-", "-o", "json")
	if f != nil {
		return sandbox.Fail[sandbox.Record](f)
	}
	dep, err := deploymentFromOutput(out)
	if err != nil {
		return sandbox.Fail[sandbox.Record](sandbox.MalformedFailure(err))
	}
	return sandbox.Success(k8s_sandbox.RecordFromDeployment(dep))
}

// Status reads the deployment backing t. Every operation on an existing
// sandbox starts here, so a deployment of another identity is never touched.
func (b *Backend) Status(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	reply := b.deployment(ctx, "get", "deployment", b.cfg.Addressing.ResourceName(t), "-n", t.Namespace, "-o", "json")
	return k8s_sandbox.Owned(t, reply)
}

func (b *Backend) List(ctx context.Context, s sandbox.Scope) sandbox.Reply[[]sandbox.Record] {
	out, f := b.kubectl(ctx, nil, "get", "deployments", "-n", s.Namespace, "-l", k8s_sandbox.Selector(s), "-o", "json")
	if f != nil {
		return sandbox.Fail[[]sandbox.Record](f)
	}

	var list appsv1.DeploymentList
	if err := json.Unmarshal(out, &list); err != nil {
		return sandbox.Fail[[]sandbox.Record](sandbox.MalformedFailure(fmt.Errorf("decode deployment list: %w", err)))
	}
	records := make([]sandbox.Record, 0, len(list.Items))
	for i := range list.Items {
		records = append(records, k8s_sandbox.RecordFromDeployment(&list.Items[i]))
	}
	return sandbox.Success(records)
}

func (b *Backend) Delete(ctx context.Context, t sandbox.Target) sandbox.Reply[struct{}] {
	if status := b.Status(ctx, t); !status.OK() {
		return sandbox.Fail[struct{}](status.Failure)
	}

	name := b.cfg.Addressing.ResourceName(t)
	if _, f := b.kubectl(ctx, nil, "delete", "deployment", name, "-n", t.Namespace); f != nil {
		return sandbox.Fail[struct{}](f)
	}

	if _, f := b.kubectl(ctx, nil, "delete", "service", name, "-n", t.Namespace, "--ignore-not-found"); f != nil {
		slog.WarnContext(ctx, "failed to delete sandbox service", slog.String("sandbox", t.Name), slog.Any("error", f))
	}
	return sandbox.Success(struct{}{})
}

func (b *Backend) Pause(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.scale(ctx, t, 0)
}

func (b *Backend) Resume(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.scale(ctx, t, 1)
}

// Exec runs command through the sandbox container's shell. kubectl's own
// exit status is 1 for any remote failure, so the remote exit code is read
// from its stderr.
func (b *Backend) Exec(ctx context.Context, t sandbox.Target, command string) sandbox.Reply[sandbox.ExecResult] {
	if status := b.Status(ctx, t); !status.OK() {
		return sandbox.Fail[sandbox.ExecResult](status.Failure)
	}

	args := []string{
		"exec", "-n", t.Namespace, "deployment/" + b.cfg.Addressing.ResourceName(t),
		"-c", k8s_sandbox.ContainerName, "--", "/bin/sh", "-c", command,
	}

	stdout, stderr, err := b.cfg.Runner.Run(ctx, nil, b.cfg.Binary, b.args(args)...)
	if err == nil {
		return sandbox.Success(sandbox.ExecResult{Output: string(stdout) + string(stderr), ExitCode: 0})
	}

	if ctx.Err() == nil {
		if m := remoteExitPattern.FindSubmatchIndex(stderr); m != nil {
			code, _ := strconv.Atoi(string(stderr[m[2]:m[3]]))
			output := string(stdout)
			if rest := strings.TrimSpace(string(stderr[:m[0]]) + string(stderr[m[1]:])); rest != "" {
				output += rest + "\n"
			}
			return sandbox.Success(sandbox.ExecResult{Output: output, ExitCode: code})
		}
	}
	return sandbox.Fail[sandbox.ExecResult](classify(ctx, stderr, err))
}

func (b *Backend) scale(ctx context.Context, t sandbox.Target, replicas int) sandbox.Reply[sandbox.Record] {
	if status := b.Status(ctx, t); !status.OK() {
		return status
	}

	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	return b.deployment(ctx, "patch", "deployment", b.cfg.Addressing.ResourceName(t), "-n", t.Namespace,
		"--type", "merge", "-p", patch, "-o", "json")
}

// deployment runs a kubectl command whose output is a single deployment.
func (b *Backend) deployment(ctx context.Context, args ...string) sandbox.Reply[sandbox.Record] {
	out, f := b.kubectl(ctx, nil, args...)
	if f != nil {
		return sandbox.Fail[sandbox.Record](f)
	}
	dep, err := deploymentFromOutput(out)
	if err != nil {
		return sandbox.Fail[sandbox.Record](sandbox.MalformedFailure(err))
	}
	return sandbox.Success(k8s_sandbox.RecordFromDeployment(dep))
}

func (b *Backend) kubectl(ctx context.Context, stdin []byte, args ...string) ([]byte, *sandbox.Failure) {
	stdout, stderr, err := b.cfg.Runner.Run(ctx, stdin, b.cfg.Binary, b.args(args)...)
	if err != nil {
		return nil, classify(ctx, stderr, err)
	}
	return stdout, nil
}

// args prefixes the cluster access flags.
func (b *Backend) args(args []string) []string {
	out := make([]string, 0, len(args)+4)
	if b.cfg.Kubeconfig != "" {
		out = append(out, "--kubeconfig", b.cfg.Kubeconfig)
	}
	if b.cfg.Context != "" {
		out = append(out, "--context", b.cfg.Context)
	}
	return append(out, args...)
}

// classify turns a failed invocation into a Failure. Only a process that ran
// and exited is an exit failure; failing to spawn it means unreachable.
func classify(ctx context.Context, stderr []byte, err error) *sandbox.Failure {
	if ctx.Err() != nil {
		return sandbox.TransportFailure(ctx, err)
	}

	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return &sandbox.Failure{
			Kind:     sandbox.FailureExit,
			ExitCode: exitErr.ExitCode(),
			Message:  strings.TrimSpace(string(stderr)),
			Err:      err,
		}
	}
	return sandbox.TransportFailure(ctx, fmt.Errorf("run kubectl: %w", err))
}

// deploymentFromOutput decodes kubectl -o json output that is either a
// deployment or a List holding one.
func deploymentFromOutput(out []byte) (*appsv1.Deployment, error) {
	var head metav1.TypeMeta
	if err := json.Unmarshal(out, &head); err != nil {
		return nil, fmt.Errorf("decode kubectl output: %w", err)
	}

	raw := [][]byte{out}
	if head.Kind == "List" {
		var list struct {
			Items []runtime.RawExtension `json:"items"`
		}
		if err := json.Unmarshal(out, &list); err != nil {
			return nil, fmt.Errorf("decode kubectl list: %w", err)
		}
		raw = raw[:0]
		for _, item := range list.Items {
			raw = append(raw, item.Raw)
		}
	}

	for _, item := range raw {
		var meta metav1.TypeMeta
		if err := json.Unmarshal(item, &meta); err != nil {
			return nil, fmt.Errorf("decode kubectl object: %w", err)
		}
		if meta.Kind != "Deployment" {
			continue
		}
		var dep appsv1.Deployment
		if err := json.Unmarshal(item, &dep); err != nil {
			return nil, fmt.Errorf("decode deployment: %w", err)
		}
		return &dep, nil
	}
	return nil, errors.New("kubectl output has no deployment")
}
