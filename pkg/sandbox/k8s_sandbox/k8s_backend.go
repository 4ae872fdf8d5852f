package k8s_sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/curaious/sandboxctl/pkg/sandbox"
	"github.com/curaious/sandboxctl/pkg/sandbox/daemon"
)

// Config defines how the cluster is reached.
type Config struct {
	// Kubeconfig is used when not running inside a cluster. Empty means the
	// default loading rules ($KUBECONFIG, ~/.kube/config).
	Kubeconfig string
	Context    string

	Addressing sandbox.Addressing

	// DaemonURL overrides the sandbox daemon base URL derived from the
	// record's service address.
	DaemonURL func(rec sandbox.Record) string

	// HTTPClient is used for daemon calls. Nil means an instrumented default.
	HTTPClient *http.Client
}

// Backend manages sandboxes as deployments through the Kubernetes API.
type Backend struct {
	client kubernetes.Interface
	cfg    Config
}

var (
	_ sandbox.Backend    = (*Backend)(nil)
	_ sandbox.Configurer = (*Backend)(nil)
)

// NewBackend uses the in-cluster configuration, falling back to kubeconfig.
func NewBackend(cfg Config) (*Backend, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if cfg.Kubeconfig != "" {
			rules.ExplicitPath = cfg.Kubeconfig
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return NewBackendWithClient(client, cfg), nil
}

// NewBackendWithClient wraps an existing clientset.
func NewBackendWithClient(client kubernetes.Interface, cfg Config) *Backend {
	return &Backend{client: client, cfg: cfg}
}

func (b *Backend) Profile() string {
	return "kubernetes"
}

func (b *Backend) Create(ctx context.Context, t sandbox.Target, spec sandbox.Spec) sandbox.Reply[sandbox.Record] {
	m := BuildManifest(b.cfg.Addressing.ResourceName(t), t, spec)

	dep, err := b.client.AppsV1().Deployments(t.Namespace).Create(ctx, m.Deployment, metav1.CreateOptions{})
	if err != nil {
		return sandbox.Fail[sandbox.Record](apiFailure(ctx, err))
	}

	if _, err := b.client.CoreV1().Services(t.Namespace).Create(ctx, m.Service, metav1.CreateOptions{}); err != nil {
		// Do not leave a deployment nobody can reach.
		if delErr := b.deleteDeployment(ctx, t.Namespace, dep.Name, &dep.UID); delErr != nil {
			slog.WarnContext(ctx, "failed to roll back sandbox deployment", slog.String("sandbox", t.Name), slog.Any("error", delErr))
		}
		return sandbox.Fail[sandbox.Record](apiFailure(ctx, err))
	}

	return sandbox.Success(RecordFromDeployment(dep))
}

func (b *Backend) Status(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	dep, f := b.get(ctx, t)
	if f != nil {
		return sandbox.Fail[sandbox.Record](f)
	}
	return sandbox.Success(RecordFromDeployment(dep))
}

func (b *Backend) List(ctx context.Context, s sandbox.Scope) sandbox.Reply[[]sandbox.Record] {
	list, err := b.client.AppsV1().Deployments(s.Namespace).List(ctx, metav1.ListOptions{LabelSelector: Selector(s)})
	if err != nil {
		return sandbox.Fail[[]sandbox.Record](apiFailure(ctx, err))
	}
	return sandbox.Success(recordsFromList(list))
}

func (b *Backend) Delete(ctx context.Context, t sandbox.Target) sandbox.Reply[struct{}] {
	dep, f := b.get(ctx, t)
	if f != nil {
		return sandbox.Fail[struct{}](f)
	}

	name := dep.Name
	if err := b.deleteDeployment(ctx, t.Namespace, name, &dep.UID); err != nil {
		return sandbox.Fail[struct{}](apiFailure(ctx, err))
	}

	err := b.client.CoreV1().Services(t.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		slog.WarnContext(ctx, "failed to delete sandbox service", slog.String("sandbox", t.Name), slog.Any("error", err))
	}
	return sandbox.Success(struct{}{})
}

func (b *Backend) Pause(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.scale(ctx, t, 0)
}

func (b *Backend) Resume(ctx context.Context, t sandbox.Target) sandbox.Reply[sandbox.Record] {
	return b.scale(ctx, t, 1)
}

// Exec looks up the sandbox's service address and runs command through its
// daemon.
func (b *Backend) Exec(ctx context.Context, t sandbox.Target, command string) sandbox.Reply[sandbox.ExecResult] {
	status := b.Status(ctx, t)
	if !status.OK() {
		return sandbox.Fail[sandbox.ExecResult](status.Failure)
	}

	rec := status.Payload
	if rec.ReadyState != sandbox.StateReady {
		return sandbox.Fail[sandbox.ExecResult](sandbox.StatusFailure(http.StatusConflict,
			fmt.Sprintf("sandbox is %s, not Ready", rec.ReadyState)))
	}

	res, f := b.daemon(rec).Exec(ctx, command)
	if f != nil {
		return sandbox.Fail[sandbox.ExecResult](f)
	}
	return sandbox.Success(res)
}

// PushConfig sends runtime configuration to the sandbox daemon.
func (b *Backend) PushConfig(ctx context.Context, _ sandbox.Target, rec sandbox.Record, cfg sandbox.RuntimeConfig) error {
	if f := b.daemon(rec).PushConfig(ctx, cfg); f != nil {
		return f
	}
	return nil
}

func (b *Backend) daemon(rec sandbox.Record) *daemon.Client {
	base := rec.ServiceAddress
	if b.cfg.DaemonURL != nil {
		base = b.cfg.DaemonURL(rec)
	}
	return daemon.NewClient(base, b.cfg.HTTPClient)
}

func (b *Backend) scale(ctx context.Context, t sandbox.Target, replicas int32) sandbox.Reply[sandbox.Record] {
	current, f := b.get(ctx, t)
	if f != nil {
		return sandbox.Fail[sandbox.Record](f)
	}

	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	dep, err := b.client.AppsV1().Deployments(t.Namespace).Patch(ctx, current.Name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return sandbox.Fail[sandbox.Record](apiFailure(ctx, err))
	}
	return sandbox.Success(RecordFromDeployment(dep))
}

// get reads the deployment backing t. A deployment owned by another identity
// reads as not found.
func (b *Backend) get(ctx context.Context, t sandbox.Target) (*appsv1.Deployment, *sandbox.Failure) {
	dep, err := b.client.AppsV1().Deployments(t.Namespace).Get(ctx, b.cfg.Addressing.ResourceName(t), metav1.GetOptions{})
	if err != nil {
		return nil, apiFailure(ctx, err)
	}
	if dep.Labels[LabelIdentity] != t.Identity {
		return nil, NotFound(t)
	}
	return dep, nil
}

// deleteDeployment removes the deployment only while it is still the object
// with the given uid.
func (b *Backend) deleteDeployment(ctx context.Context, namespace, name string, uid *types.UID) error {
	propagation := metav1.DeletePropagationBackground
	return b.client.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
		Preconditions:     &metav1.Preconditions{UID: uid},
	})
}

func recordsFromList(list *appsv1.DeploymentList) []sandbox.Record {
	records := make([]sandbox.Record, 0, len(list.Items))
	for i := range list.Items {
		records = append(records, RecordFromDeployment(&list.Items[i]))
	}
	return records
}

// apiFailure maps a client-go error onto a Failure. API status errors keep
// their HTTP code and message; anything else never reached the API server.
func apiFailure(ctx context.Context, err error) *sandbox.Failure {
	if ctx.Err() != nil {
		return sandbox.TransportFailure(ctx, err)
	}

	var status apierrors.APIStatus
	if errors.As(err, &status) {
		s := status.Status()
		msg := s.Message
		if msg == "" {
			msg = err.Error()
		}
		return &sandbox.Failure{Kind: sandbox.FailureStatus, Status: int(s.Code), Message: msg, Err: err}
	}
	return sandbox.TransportFailure(ctx, err)
}
