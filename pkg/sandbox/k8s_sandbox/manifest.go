package k8s_sandbox

import (
	"fmt"
	"maps"
	"net/http"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"

	"github.com/curaious/sandboxctl/pkg/sandbox"
)

const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelSandbox   = "sandboxctl.io/sandbox"
	LabelIdentity  = "sandboxctl.io/identity"

	managerName = "sandboxctl"

	// ContainerName is the sandbox container inside the deployment's pod.
	ContainerName = "sandbox"

	sandboxRoot = "/sandbox/workspace"
)

// Manifest is the set of cluster objects backing one sandbox. Both objects
// share the resource name.
type Manifest struct {
	Deployment *appsv1.Deployment
	Service    *corev1.Service
}

// BuildManifest renders the deployment and service for a sandbox. resource is
// the cluster object name chosen by the addressing policy.
func BuildManifest(resource string, t sandbox.Target, spec sandbox.Spec) Manifest {
	port := int32(spec.Port)
	replicas := int32(1)

	meta := metav1.ObjectMeta{
		Name:      resource,
		Namespace: t.Namespace,
		Labels: map[string]string{
			LabelManagedBy: managerName,
			LabelSandbox:   t.Name,
			LabelIdentity:  t.Identity,
		},
	}
	selector := map[string]string{
		LabelSandbox:  t.Name,
		LabelIdentity: t.Identity,
	}

	deployment := &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: maps.Clone(meta.Labels)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:       ContainerName,
							Image:      spec.Image,
							WorkingDir: "/sandbox",
							Env: []corev1.EnvVar{
								{Name: "SANDBOX_ROOT", Value: sandboxRoot},
								{Name: "SANDBOX_PORT", Value: strconv.Itoa(spec.Port)},
								{Name: "SANDBOX_NAME", Value: t.Name},
								{Name: "SANDBOX_IDENTITY", Value: t.Identity},
							},
							Ports: []corev1.ContainerPort{
								{Name: "http", ContainerPort: port},
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									HTTPGet: &corev1.HTTPGetAction{
										Path: "/health",
										Port: intstr.FromString("http"),
									},
								},
								PeriodSeconds: 2,
							},
						},
					},
				},
			},
		},
	}

	service := &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: *meta.DeepCopy(),
		Spec: corev1.ServiceSpec{
			Selector: selector,
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       port,
					TargetPort: intstr.FromString("http"),
				},
			},
		},
	}

	return Manifest{Deployment: deployment, Service: service}
}

// YAML renders the manifest as a multi-document stream for kubectl.
func (m Manifest) YAML() ([]byte, error) {
	dep, err := yaml.Marshal(m.Deployment)
	if err != nil {
		return nil, fmt.Errorf("marshal deployment: %w", err)
	}
	svc, err := yaml.Marshal(m.Service)
	if err != nil {
		return nil, fmt.Errorf("marshal service: %w", err)
	}

	out := make([]byte, 0, len(dep)+len(svc)+4)
	out = append(out, dep...)
	out = append(out, "---\n"...)
	out = append(out, svc...)
	return out, nil
}

// Selector matches every sandbox deployment owned by s.
func Selector(s sandbox.Scope) string {
	set := labels.Set{LabelManagedBy: managerName}
	if s.Identity != "" {
		set[LabelIdentity] = s.Identity
	}
	return labels.SelectorFromSet(set).String()
}

// Owned passes reply through when the deployment it read belongs to t's
// identity. Another identity's deployment reads as not found; distinct
// identities can still map to the same object name.
func Owned(t sandbox.Target, reply sandbox.Reply[sandbox.Record]) sandbox.Reply[sandbox.Record] {
	if reply.OK() && reply.Payload.Identity != t.Identity {
		return sandbox.Fail[sandbox.Record](NotFound(t))
	}
	return reply
}

// NotFound is the failure reported for a sandbox t cannot see.
func NotFound(t sandbox.Target) *sandbox.Failure {
	return sandbox.StatusFailure(http.StatusNotFound, fmt.Sprintf("sandbox %q not found", t.Name))
}

// ServiceAddress is the in-cluster host:port of a sandbox service.
func ServiceAddress(resource, namespace string, port int32) string {
	return fmt.Sprintf("%s.%s.svc:%d", resource, namespace, port)
}

// RecordFromDeployment maps a sandbox deployment onto a Record. Replicas
// scaled to zero read as Paused.
func RecordFromDeployment(d *appsv1.Deployment) sandbox.Record {
	name := d.Labels[LabelSandbox]
	if name == "" {
		name = d.Name
	}

	rec := sandbox.Record{
		Name:           name,
		Namespace:      d.Namespace,
		Identity:       d.Labels[LabelIdentity],
		ServiceAddress: sandbox.ServiceAddressPending,
		ReadyState:     deploymentState(d),
		CreatedAt:      d.CreationTimestamp.Time,
	}
	if rec.ReadyState == sandbox.StateReady || rec.ReadyState == sandbox.StatePaused {
		if port := containerPort(d); port > 0 {
			rec.ServiceAddress = ServiceAddress(d.Name, d.Namespace, port)
		}
	}
	return rec
}

func deploymentState(d *appsv1.Deployment) sandbox.ReadyState {
	if d.DeletionTimestamp != nil {
		return sandbox.StateUnknown
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	switch {
	case desired == 0:
		return sandbox.StatePaused
	case d.Status.ReadyReplicas >= desired:
		return sandbox.StateReady
	default:
		return sandbox.StatePending
	}
}

func containerPort(d *appsv1.Deployment) int32 {
	for _, c := range d.Spec.Template.Spec.Containers {
		if c.Name != ContainerName {
			continue
		}
		for _, p := range c.Ports {
			if p.ContainerPort > 0 {
				return p.ContainerPort
			}
		}
	}
	return 0
}
