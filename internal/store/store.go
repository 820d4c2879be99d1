// Package store implements the Segment Store: the higher-level view over
// the IPAM Gateway exposing find/find-one/find-and-update/insert/update/
// delete against Segments, backed by the Reference Cache's short-TTL
// "prefixes" list cache and the in-memory query evaluator.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/orhaniscoding/vlanctl/internal/cache"
	"github.com/orhaniscoding/vlanctl/internal/domain"
	"github.com/orhaniscoding/vlanctl/internal/ipamgw"
	"github.com/orhaniscoding/vlanctl/internal/query"
)

const prefixListCacheKey = "prefixes:all"

// legacyClusterDescriptionPrefix is the free-text marker older, pre
// custom-field records used to stash the cluster name in a reserved
// prefix's description.
const legacyClusterDescriptionPrefix = "Cluster: "

// legacyClusterFromDescription recovers a cluster name from a legacy
// reserved prefix whose description begins with "Cluster: ", for records
// that predate the Cluster custom field.
func legacyClusterFromDescription(status, description string) string {
	if status != ipamgw.StatusReserved || !strings.HasPrefix(description, legacyClusterDescriptionPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(description, legacyClusterDescriptionPrefix))
}

// Store is the Segment Store. Tenant/role/VRF/site-group lookups go through
// the shared Reference Cache; the prefix list itself is cached separately
// under a short TTL and invalidated on every mutation.
type Store struct {
	gw     ipamgw.Gateway
	cache  *cache.Cache
	tenant string
	log    *slog.Logger

	mu       sync.Mutex
	vrfIndex map[string]int // lowercase VRF name -> IPAM VRF id; not populated (lookups use the Reference Cache)
	siteIndex map[string]string // lowercase site-group slug -> slug; not populated (lookups use the Reference Cache)
}

// New builds a Segment Store over gw, scoped to tenant.
func New(gw ipamgw.Gateway, c *cache.Cache, tenant string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{gw: gw, cache: c, tenant: tenant, log: log}
}

func (s *Store) tenantID(ctx context.Context) (int, error) {
	v, err := s.cache.GetOrFetch(ctx, "tenant", cache.KeyTenant, cache.TTLMedium, func(ctx context.Context) (any, error) {
		return s.gw.GetTenant(ctx, s.tenant)
	})
	if err != nil {
		return 0, err
	}
	return v.(*ipamgw.Tenant).ID, nil
}

func (s *Store) prefixes(ctx context.Context) ([]ipamgw.Prefix, error) {
	tid, err := s.tenantID(ctx)
	if err != nil {
		return nil, fmt.Errorf("segment store: resolve tenant: %w", err)
	}
	v, err := s.cache.GetOrFetch(ctx, "prefixes", prefixListCacheKey, cache.TTLShort, func(ctx context.Context) (any, error) {
		return s.gw.ListPrefixes(ctx, ipamgw.PrefixFilter{TenantID: tid})
	})
	if err != nil {
		return nil, err
	}
	return v.([]ipamgw.Prefix), nil
}

// siteGroup returns the site-group whose slug matches site, nil if
// unresolved.
func (s *Store) siteGroup(ctx context.Context, site string) (*ipamgw.SiteGroup, error) {
	v, err := s.cache.GetOrFetch(ctx, "site_groups", cache.KeySiteGroups, cache.TTLLong, func(ctx context.Context) (any, error) {
		return s.gw.ListSiteGroups(ctx)
	})
	if err != nil {
		return nil, err
	}
	for _, g := range v.([]ipamgw.SiteGroup) {
		if g.Slug == site {
			sg := g
			return &sg, nil
		}
	}
	return nil, nil
}

func (s *Store) vrfByName(ctx context.Context, name string) (*ipamgw.VRF, error) {
	v, err := s.cache.GetOrFetch(ctx, "vrfs", cache.KeyVRFs, cache.TTLLong, func(ctx context.Context) (any, error) {
		return s.gw.ListVRFs(ctx)
	})
	if err != nil {
		return nil, err
	}
	for _, vrf := range v.([]ipamgw.VRF) {
		if vrf.Name == name {
			out := vrf
			return &out, nil
		}
	}
	return nil, nil
}

// VRFExists reports whether name is a known VRF, for the Validator's VRF
// existence check.
func (s *Store) VRFExists(ctx context.Context, name string) (bool, error) {
	vrf, err := s.vrfByName(ctx, name)
	if err != nil {
		return false, err
	}
	return vrf != nil, nil
}

// SegmentsInVRF returns every currently-known segment in vrf, for the
// Validator's overlap and (vrf, site) label-uniqueness checks.
func (s *Store) SegmentsInVRF(ctx context.Context, vrf string) ([]*domain.Segment, error) {
	return s.Find(ctx, query.Eq(query.FieldVRF, vrf))
}

func (s *Store) roleID(ctx context.Context) (int, error) {
	v, err := s.cache.GetOrFetch(ctx, "role", cache.KeyRole, cache.TTLLong, func(ctx context.Context) (any, error) {
		return s.gw.GetRole(ctx, ipamgw.RoleNameData)
	})
	if err != nil {
		return 0, err
	}
	return v.(*ipamgw.Role).ID, nil
}

// projection context, cached per Find call to avoid re-resolving the same
// VRF/site-group repeatedly while scanning the prefix list.
type projector struct {
	s     *Store
	ctx   context.Context
	sites map[int]string // site-group id -> slug
	vrfs  map[int]string // vrf id -> name
	vlans map[int]int    // vlan id -> vid
}

func (s *Store) newProjector(ctx context.Context) (*projector, error) {
	sgRaw, err := s.cache.GetOrFetch(ctx, "site_groups", cache.KeySiteGroups, cache.TTLLong, func(ctx context.Context) (any, error) {
		return s.gw.ListSiteGroups(ctx)
	})
	if err != nil {
		return nil, err
	}
	vrfRaw, err := s.cache.GetOrFetch(ctx, "vrfs", cache.KeyVRFs, cache.TTLLong, func(ctx context.Context) (any, error) {
		return s.gw.ListVRFs(ctx)
	})
	if err != nil {
		return nil, err
	}
	p := &projector{s: s, ctx: ctx, sites: map[int]string{}, vrfs: map[int]string{}, vlans: map[int]int{}}
	for _, g := range sgRaw.([]ipamgw.SiteGroup) {
		p.sites[g.ID] = g.Slug
	}
	for _, v := range vrfRaw.([]ipamgw.VRF) {
		p.vrfs[v.ID] = v.Name
	}
	return p, nil
}

// resolveVID looks up the VLAN vid for a prefix's referenced VLAN id,
// fetching and caching the VLAN object on first use within this projector.
func (p *projector) resolveVID(prefixID, vlanID int) int {
	if vlanID == 0 {
		return 0
	}
	if vid, ok := p.vlans[vlanID]; ok {
		return vid
	}
	vlan, err := p.s.gw.GetVLAN(p.ctx, vlanID)
	if err != nil {
		p.s.log.Warn("segment store: could not resolve vlan for prefix", "prefix_id", prefixID, "vlan_id", vlanID, "error", err)
		return 0
	}
	p.vlans[vlanID] = vlan.VID
	return vlan.VID
}

// project converts an IPAM prefix into a Segment, returning ok=false when
// its site or vrf cannot be resolved (I: mis-configured IPAM records are
// silently skipped, per spec, not surfaced as an error).
func (p *projector) project(prefix ipamgw.Prefix) (*domain.Segment, bool) {
	site, ok := p.sites[prefix.SiteGroupID]
	if !ok {
		p.s.log.Warn("segment store: prefix has unresolved site group", "prefix_id", prefix.ID, "site_group_id", prefix.SiteGroupID)
		return nil, false
	}
	vrf, ok := p.vrfs[prefix.VRFID]
	if !ok {
		p.s.log.Warn("segment store: prefix has unresolved vrf", "prefix_id", prefix.ID, "vrf_id", prefix.VRFID)
		return nil, false
	}
	seg := &domain.Segment{
		ID:          strconv.Itoa(prefix.ID),
		Site:        site,
		VRF:         vrf,
		Prefix:      prefix.Prefix,
		VLANID:      p.resolveVID(prefix.ID, prefix.VLANID),
		DHCP:        prefix.DHCPField(),
		Description: prefix.Description,
	}
	cluster := prefix.ClusterField()
	if cluster == "" {
		// Legacy records predate the Cluster custom field: a reserved
		// prefix stashed the cluster name in its description instead.
		cluster = legacyClusterFromDescription(prefix.Status, prefix.Description)
	}
	if cluster != "" {
		seg.ClusterName = &cluster
	}
	seg.SyncDerivedFields()
	return seg, true
}

// Find returns all segments matching pred, sorted by ascending VLAN id to
// match the allocation engine's smallest-first claim ordering.
func (s *Store) Find(ctx context.Context, pred query.Predicate) ([]*domain.Segment, error) {
	prefixes, err := s.prefixes(ctx)
	if err != nil {
		return nil, err
	}
	proj, err := s.newProjector(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Segment
	for _, p := range prefixes {
		seg, ok := proj.project(p)
		if !ok {
			continue
		}
		if pred.Match(seg) {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VLANID < out[j].VLANID })
	return out, nil
}

// FindOne returns the first segment matching pred, or nil if none match.
func (s *Store) FindOne(ctx context.Context, pred query.Predicate) (*domain.Segment, error) {
	results, err := s.Find(ctx, pred)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// invalidatePrefixList evicts the cached prefix list after a mutation.
func (s *Store) invalidatePrefixList() {
	s.cache.Invalidate(prefixListCacheKey)
}
