package sandbox

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/validation"
)

// AddressingMode selects how identity, namespace and name are composed into
// backend requests.
type AddressingMode string

const (
	// AddressingFlat keys sandboxes by name; identity and namespace travel as
	// query parameters (proxy). Cluster objects are named after the sandbox
	// with a digest of the identity appended.
	AddressingFlat AddressingMode = "flat"
	// AddressingScoped puts the identity in the path (proxy) or in front of
	// the cluster object name.
	AddressingScoped AddressingMode = "scoped"
)

// Addressing is the single addressing policy shared by all call sites of a
// backend profile.
type Addressing struct {
	Mode AddressingMode
}

// ParseAddressing parses a mode name. An empty string selects flat addressing.
func ParseAddressing(s string) (Addressing, error) {
	switch AddressingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AddressingFlat:
		return Addressing{Mode: AddressingFlat}, nil
	case AddressingScoped:
		return Addressing{Mode: AddressingScoped}, nil
	default:
		return Addressing{}, fmt.Errorf("unknown addressing mode %q (want %q or %q)", s, AddressingFlat, AddressingScoped)
	}
}

func (a Addressing) scoped() bool {
	return a.Mode == AddressingScoped
}

// Route is a resolved HTTP request location.
type Route struct {
	Method string
	Path   string
	Query  url.Values
}

// URL joins the route onto base.
func (r Route) URL(base string) string {
	u := strings.TrimRight(base, "/") + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// Route maps an operation on t to a proxy request. For OpList only the scope
// fields of t are used.
func (a Addressing) Route(op Op, t Target) Route {
	switch op {
	case OpCreate:
		return Route{Method: http.MethodPost, Path: "/api/sandboxes"}
	case OpList:
		return Route{Method: http.MethodGet, Path: "/api/sandboxes", Query: a.scopeQuery(t, true)}
	case OpStatus:
		return Route{Method: http.MethodGet, Path: a.resourcePath(t), Query: a.scopeQuery(t, false)}
	case OpDelete:
		return Route{Method: http.MethodDelete, Path: a.resourcePath(t), Query: a.scopeQuery(t, false)}
	case OpPause:
		return Route{Method: http.MethodPost, Path: a.resourcePath(t) + "/pause", Query: a.scopeQuery(t, false)}
	case OpResume:
		return Route{Method: http.MethodPost, Path: a.resourcePath(t) + "/resume", Query: a.scopeQuery(t, false)}
	case OpExec:
		return Route{Method: http.MethodPost, Path: a.sandboxPath(t) + "/v1/shell/exec", Query: a.scopeQuery(t, false)}
	case OpConfigure:
		return Route{Method: http.MethodPost, Path: a.sandboxPath(t) + "/v1/config", Query: a.scopeQuery(t, false)}
	default:
		panic(fmt.Sprintf("sandbox: no route for operation %q", op))
	}
}

func (a Addressing) resourcePath(t Target) string {
	if a.scoped() {
		return "/api/sandboxes/" + url.PathEscape(t.Identity) + "/" + url.PathEscape(t.Name)
	}
	return "/api/sandboxes/" + url.PathEscape(t.Name)
}

func (a Addressing) sandboxPath(t Target) string {
	if a.scoped() {
		return "/" + url.PathEscape(t.Identity) + "/" + url.PathEscape(t.Name)
	}
	return "/proxy/" + url.PathEscape(t.Name)
}

// scopeQuery carries whatever part of the scope is not already in the path.
func (a Addressing) scopeQuery(t Target, withIdentity bool) url.Values {
	q := url.Values{}
	if t.Namespace != "" {
		q.Set("namespace", t.Namespace)
	}
	if t.Identity != "" && (withIdentity || !a.scoped()) {
		q.Set("identity", t.Identity)
	}
	return q
}

// ResourceName is the name a cluster profile gives the objects backing t.
// Cluster object names are unique per namespace only, so the identity is part
// of the name in both modes: scoped addressing prefixes it when the result is
// a DNS-1123 label, otherwise a digest of the identity is appended.
func (a Addressing) ResourceName(t Target) string {
	if t.Identity == "" {
		return t.Name
	}
	if a.scoped() {
		if name := t.Identity + "-" + t.Name; len(validation.IsDNS1123Label(name)) == 0 {
			return name
		}
	}
	return withIdentityDigest(t.Name, t.Identity)
}

func withIdentityDigest(name, identity string) string {
	digest := uuid.NewSHA1(uuid.NameSpaceOID, []byte(identity)).String()[:8]
	if limit := validation.DNS1123LabelMaxLength - len(digest) - 1; len(name) > limit {
		name = strings.TrimRight(name[:limit], "-")
	}
	return name + "-" + digest
}
