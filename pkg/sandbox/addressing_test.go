package sandbox

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/validation"
)

func TestParseAddressing(t *testing.T) {
	a, err := ParseAddressing("")
	require.NoError(t, err)
	assert.Equal(t, AddressingFlat, a.Mode)

	a, err = ParseAddressing("Scoped")
	require.NoError(t, err)
	assert.Equal(t, AddressingScoped, a.Mode)

	_, err = ParseAddressing("nested")
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	target := Target{Name: "s1", Identity: "alice", Namespace: "team"}
	flat := Addressing{Mode: AddressingFlat}
	scoped := Addressing{Mode: AddressingScoped}

	tests := []struct {
		name    string
		policy  Addressing
		op      Op
		method  string
		wantURL string
	}{
		{"flat create", flat, OpCreate, http.MethodPost, "http://p/api/sandboxes"},
		{"flat list", flat, OpList, http.MethodGet, "http://p/api/sandboxes?identity=alice&namespace=team"},
		{"flat status", flat, OpStatus, http.MethodGet, "http://p/api/sandboxes/s1?identity=alice&namespace=team"},
		{"flat delete", flat, OpDelete, http.MethodDelete, "http://p/api/sandboxes/s1?identity=alice&namespace=team"},
		{"flat pause", flat, OpPause, http.MethodPost, "http://p/api/sandboxes/s1/pause?identity=alice&namespace=team"},
		{"flat resume", flat, OpResume, http.MethodPost, "http://p/api/sandboxes/s1/resume?identity=alice&namespace=team"},
		{"flat exec", flat, OpExec, http.MethodPost, "http://p/proxy/s1/v1/shell/exec?identity=alice&namespace=team"},
		{"scoped list", scoped, OpList, http.MethodGet, "http://p/api/sandboxes?identity=alice&namespace=team"},
		{"scoped status", scoped, OpStatus, http.MethodGet, "http://p/api/sandboxes/alice/s1?namespace=team"},
		{"scoped exec", scoped, OpExec, http.MethodPost, "http://p/alice/s1/v1/shell/exec?namespace=team"},
		{"scoped configure", scoped, OpConfigure, http.MethodPost, "http://p/alice/s1/v1/config?namespace=team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := tt.policy.Route(tt.op, target)
			assert.Equal(t, tt.method, route.Method)
			assert.Equal(t, tt.wantURL, route.URL("http://p/"))
		})
	}
}

func TestRouteEscapesSegments(t *testing.T) {
	route := Addressing{Mode: AddressingScoped}.Route(OpStatus, Target{Name: "s1", Identity: "a b"})
	assert.Equal(t, "/api/sandboxes/a%20b/s1", route.Path)
}

func TestResourceName(t *testing.T) {
	flat := Addressing{Mode: AddressingFlat}
	scoped := Addressing{Mode: AddressingScoped}
	alice := Target{Name: "s1", Identity: "alice"}
	bob := Target{Name: "s1", Identity: "bob"}

	assert.Equal(t, "alice-s1", scoped.ResourceName(alice))
	assert.Equal(t, "s1", flat.ResourceName(Target{Name: "s1"}))
	assert.Regexp(t, `^s1-[0-9a-f]{8}$`, flat.ResourceName(alice))
	assert.Equal(t, flat.ResourceName(alice), flat.ResourceName(alice))

	for _, policy := range []Addressing{flat, scoped} {
		assert.NotEqual(t, policy.ResourceName(alice), policy.ResourceName(bob), policy.Mode)
	}
}

func TestResourceNameFallsBackToDigest(t *testing.T) {
	scoped := Addressing{Mode: AddressingScoped}

	name := scoped.ResourceName(Target{Name: "s1", Identity: "alice@example.com"})
	assert.Regexp(t, `^s1-[0-9a-f]{8}$`, name)

	long := strings.Repeat("a", 60) + "-b"
	for _, policy := range []Addressing{{Mode: AddressingFlat}, scoped} {
		name := policy.ResourceName(Target{Name: long, Identity: "bob"})
		assert.Empty(t, validation.IsDNS1123Label(name), name)
		assert.True(t, strings.HasPrefix(name, strings.Repeat("a", 54)), name)
	}
}
