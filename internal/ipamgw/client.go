package ipamgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/orhaniscoding/vlanctl/internal/config"
	"github.com/orhaniscoding/vlanctl/internal/metrics"
)

// Gateway is the typed surface the Segment Store and Allocation Engine use
// to reach the remote IPAM. A single Client implements it; tests substitute
// a fake.
type Gateway interface {
	GetTenant(ctx context.Context, name string) (*Tenant, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	ListSiteGroups(ctx context.Context) ([]SiteGroup, error)
	ListVRFs(ctx context.Context) ([]VRF, error)
	GetOrCreateVLANGroup(ctx context.Context, vrf, site string) (*VLANGroup, error)

	ListPrefixes(ctx context.Context, filter PrefixFilter) ([]Prefix, error)
	GetPrefix(ctx context.Context, id int) (*Prefix, error)
	CreatePrefix(ctx context.Context, p *Prefix) (*Prefix, error)
	UpdatePrefix(ctx context.Context, p *Prefix) (*Prefix, error)
	DeletePrefix(ctx context.Context, id int) error

	GetVLAN(ctx context.Context, id int) (*VLAN, error)
	ListVLANs(ctx context.Context, filter VLANFilter) ([]VLAN, error)
	CreateVLAN(ctx context.Context, v *VLAN) (*VLAN, error)
	UpdateVLAN(ctx context.Context, v *VLAN) (*VLAN, error)
	DeleteVLAN(ctx context.Context, id int) error
}

// Client is the HTTP-backed Gateway implementation. Read and write calls
// run through separate bounded worker pools so a burst of slow writes
// cannot starve read traffic, and vice versa.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	readPool  *pool
	writePool *pool

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	retryMax       int
	retryBaseDelay time.Duration

	log *slog.Logger
}

// New builds a Client from the IPAM section of the application config.
func New(cfg config.IPAMConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	transport := http.DefaultTransport
	if !cfg.SSLVerify {
		transport = insecureTransport()
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		readPool:       newPool(cfg.ReadWorkers),
		writePool:      newPool(cfg.WriteWorkers),
		readLimiter:    rate.NewLimiter(rate.Limit(cfg.ReadWorkers), cfg.ReadWorkers),
		writeLimiter:   rate.NewLimiter(rate.Limit(cfg.WriteWorkers), cfg.WriteWorkers),
		retryMax:       cfg.RetryMax,
		retryBaseDelay: cfg.RetryBaseDelay,
		log:            log,
	}
}

// doCall runs fn through the appropriate bounded pool and rate limiter,
// times it, classifies its severity band, retries idempotent failures with
// exponential backoff, and reports both a log line and a metric per call.
func (c *Client) doCall(ctx context.Context, operation string, write bool, idempotent bool, fn func(ctx context.Context) error) error {
	p, limiter := c.readPool, c.readLimiter
	if write {
		p, limiter = c.writePool, c.writeLimiter
	}

	if !p.acquire(ctx.Done()) {
		return ctx.Err()
	}
	defer p.release()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	attempt := func() error { return fn(ctx) }

	var err error
	start := time.Now()
	if idempotent {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retryBaseDelay
		bo.Multiplier = 2
		attempts := 0
		err = backoff.Retry(func() error {
			attempts++
			if attempts > 1 {
				metrics.IncGatewayRetry(operation)
			}
			return attempt()
		}, backoff.WithMaxRetries(bo, uint64(c.retryMax)))
	} else {
		err = attempt()
	}
	duration := time.Since(start)
	severity := ClassifyLatency(duration)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveGatewayCall(operation, string(severity), outcome, duration)
	logLevel := slog.LevelDebug
	switch severity {
	case SeveritySlow:
		logLevel = slog.LevelInfo
	case SeverityThrottled:
		logLevel = slog.LevelWarn
	case SeveritySevere:
		logLevel = slog.LevelError
	}
	c.log.Log(ctx, logLevel, "ipam gateway call", "operation", operation, "duration_ms", duration.Milliseconds(), "severity", severity, "outcome", outcome)
	return err
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ipamgw: marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("ipamgw: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ipamgw: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ipamgw: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ipamgw: decode response from %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) GetTenant(ctx context.Context, name string) (*Tenant, error) {
	var results struct {
		Results []Tenant `json:"results"`
	}
	err := c.doCall(ctx, "get_tenant", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/tenancy/tenants/", url.Values{"name": {name}}, nil, &results)
	})
	if err != nil {
		return nil, err
	}
	if len(results.Results) == 0 {
		return nil, fmt.Errorf("ipamgw: tenant %q not found", name)
	}
	return &results.Results[0], nil
}

func (c *Client) GetRole(ctx context.Context, name string) (*Role, error) {
	var results struct {
		Results []Role `json:"results"`
	}
	err := c.doCall(ctx, "get_role", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/ipam/roles/", url.Values{"name": {name}}, nil, &results)
	})
	if err != nil {
		return nil, err
	}
	if len(results.Results) == 0 {
		return nil, fmt.Errorf("ipamgw: role %q not found", name)
	}
	return &results.Results[0], nil
}

func (c *Client) ListSiteGroups(ctx context.Context) ([]SiteGroup, error) {
	var results struct {
		Results []SiteGroup `json:"results"`
	}
	err := c.doCall(ctx, "list_site_groups", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/dcim/site-groups/", nil, nil, &results)
	})
	return results.Results, err
}

func (c *Client) ListVRFs(ctx context.Context) ([]VRF, error) {
	var results struct {
		Results []VRF `json:"results"`
	}
	err := c.doCall(ctx, "list_vrfs", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/ipam/vrfs/", nil, nil, &results)
	})
	return results.Results, err
}

// GetOrCreateVLANGroup fetches the deterministic "<vrf>-ClickCluster-<Site>"
// VLAN group, creating it if absent. Grounded on get_or_create_vlan_group's
// lookup-then-create sequence.
func (c *Client) GetOrCreateVLANGroup(ctx context.Context, vrf, site string) (*VLANGroup, error) {
	name := FormatVLANGroupName(vrf, site)
	var results struct {
		Results []VLANGroup `json:"results"`
	}
	err := c.doCall(ctx, "get_vlan_group", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/ipam/vlan-groups/", url.Values{"name": {name}}, nil, &results)
	})
	if err != nil {
		return nil, err
	}
	if len(results.Results) > 0 {
		return &results.Results[0], nil
	}
	var created VLANGroup
	err = c.doCall(ctx, "create_vlan_group", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPost, "/api/ipam/vlan-groups/", nil, map[string]string{"name": name, "slug": slugify(name)}, &created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ListPrefixes lists prefixes with a server-side filter (at minimum
// tenant_id) to cut payload size before any further in-memory narrowing,
// matching the original's incorporation of vlan_vid/tenant_id filters into
// the outbound NetBox query.
func (c *Client) ListPrefixes(ctx context.Context, filter PrefixFilter) ([]Prefix, error) {
	q := url.Values{}
	if filter.TenantID != 0 {
		q.Set("tenant_id", strconv.Itoa(filter.TenantID))
	}
	if filter.VRFID != 0 {
		q.Set("vrf_id", strconv.Itoa(filter.VRFID))
	} else if filter.VRFName != "" {
		q.Set("vrf", filter.VRFName)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	var results struct {
		Results []Prefix `json:"results"`
	}
	err := c.doCall(ctx, "list_prefixes", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/ipam/prefixes/", q, nil, &results)
	})
	return results.Results, err
}

func (c *Client) GetPrefix(ctx context.Context, id int) (*Prefix, error) {
	var out Prefix
	err := c.doCall(ctx, "get_prefix", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, fmt.Sprintf("/api/ipam/prefixes/%d/", id), nil, nil, &out)
	})
	return &out, err
}

func (c *Client) CreatePrefix(ctx context.Context, p *Prefix) (*Prefix, error) {
	var out Prefix
	err := c.doCall(ctx, "create_prefix", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPost, "/api/ipam/prefixes/", nil, p, &out)
	})
	return &out, err
}

func (c *Client) UpdatePrefix(ctx context.Context, p *Prefix) (*Prefix, error) {
	var out Prefix
	err := c.doCall(ctx, "update_prefix", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPatch, fmt.Sprintf("/api/ipam/prefixes/%d/", p.ID), nil, p, &out)
	})
	return &out, err
}

func (c *Client) DeletePrefix(ctx context.Context, id int) error {
	return c.doCall(ctx, "delete_prefix", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/ipam/prefixes/%d/", id), nil, nil, nil)
	})
}

func (c *Client) GetVLAN(ctx context.Context, id int) (*VLAN, error) {
	var out VLAN
	err := c.doCall(ctx, "get_vlan", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, fmt.Sprintf("/api/ipam/vlans/%d/", id), nil, nil, &out)
	})
	return &out, err
}

// ListVLANs lists VLANs matching filter, used to check whether a VLAN
// already exists with a given vid in a given group before creating a
// duplicate (get_or_create_vlan's existence check).
func (c *Client) ListVLANs(ctx context.Context, filter VLANFilter) ([]VLAN, error) {
	q := url.Values{}
	if filter.GroupID != 0 {
		q.Set("group_id", strconv.Itoa(filter.GroupID))
	}
	if filter.VID != 0 {
		q.Set("vid", strconv.Itoa(filter.VID))
	}
	var results struct {
		Results []VLAN `json:"results"`
	}
	err := c.doCall(ctx, "list_vlans", false, true, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/api/ipam/vlans/", q, nil, &results)
	})
	return results.Results, err
}

func (c *Client) CreateVLAN(ctx context.Context, v *VLAN) (*VLAN, error) {
	var out VLAN
	err := c.doCall(ctx, "create_vlan", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPost, "/api/ipam/vlans/", nil, v, &out)
	})
	return &out, err
}

func (c *Client) UpdateVLAN(ctx context.Context, v *VLAN) (*VLAN, error) {
	var out VLAN
	err := c.doCall(ctx, "update_vlan", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPatch, fmt.Sprintf("/api/ipam/vlans/%d/", v.ID), nil, v, &out)
	})
	return &out, err
}

// DeleteVLAN tears down a VLAN once its last referencing prefix is gone,
// matching cleanup_unused_vlan's reference-count-then-delete sequence.
func (c *Client) DeleteVLAN(ctx context.Context, id int) error {
	return c.doCall(ctx, "delete_vlan", true, false, func(ctx context.Context) error {
		return c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/ipam/vlans/%d/", id), nil, nil, nil)
	})
}
