package ipamgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orhaniscoding/vlanctl/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := config.IPAMConfig{
		BaseURL:        srv.URL,
		Token:          "test-token",
		SSLVerify:      true,
		ReadWorkers:    4,
		WriteWorkers:   4,
		RequestTimeout: 5 * time.Second,
		RetryMax:       2,
		RetryBaseDelay: time.Millisecond,
	}
	return New(cfg, nil), srv
}

func TestGetTenant(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/tenancy/tenants/", r.URL.Path)
		assert.Equal(t, "acme", r.URL.Query().Get("name"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": 1, "name": "acme", "slug": "acme"}},
		})
	})
	defer srv.Close()

	tenant, err := c.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, tenant.ID)
	assert.Equal(t, "acme", tenant.Name)
}

func TestGetTenantNotFound(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})
	defer srv.Close()

	_, err := c.GetTenant(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCreatePrefixRetriesNotAppliedOnWrite(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := c.CreatePrefix(context.Background(), &Prefix{Prefix: "10.0.0.0/24"})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "write calls are not idempotent and must not retry")
}

func TestListPrefixesRetriesOnFailure(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})
	defer srv.Close()

	_, err := c.ListPrefixes(context.Background(), PrefixFilter{TenantID: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestGetOrCreateVLANGroupCreatesWhenMissing(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "vrf1-ClickCluster-Site1", "slug": "vrf1-clickcluster-site1"})
	})
	defer srv.Close()

	group, err := c.GetOrCreateVLANGroup(context.Background(), "vrf1", "site1")
	require.NoError(t, err)
	assert.Equal(t, "vrf1-ClickCluster-Site1", group.Name)
	assert.Equal(t, 2, calls)
}

func TestClassifyLatency(t *testing.T) {
	assert.Equal(t, SeverityOK, ClassifyLatency(500*time.Millisecond))
	assert.Equal(t, SeveritySlow, ClassifyLatency(3*time.Second))
	assert.Equal(t, SeverityThrottled, ClassifyLatency(10*time.Second))
	assert.Equal(t, SeveritySevere, ClassifyLatency(25*time.Second))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "vrf1-clickcluster-site1", slugify("vrf1-ClickCluster-Site1"))
	assert.Equal(t, "a-b", slugify("  A!! B  "))
}
