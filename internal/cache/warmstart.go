package cache

import (
	"context"
	"log/slog"

	"github.com/orhaniscoding/vlanctl/internal/ipamgw"
)

// Cache keys for the fixed set of reference objects warmed at startup.
const (
	KeyTenant     = "tenant"
	KeySiteGroups = "site_groups"
	KeyRole       = "role"
	KeyVRFs       = "vrfs"
)

// WarmStart pre-fetches the tenant, all site-groups, the role, and the VRF
// list, per the Reference Cache's documented startup behavior. Failure to
// warm any one object is logged and non-fatal: GetOrFetch demand-fills it
// on first use.
func WarmStart(ctx context.Context, c *Cache, gw ipamgw.Gateway, tenantName string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	if tenant, err := gw.GetTenant(ctx, tenantName); err != nil {
		log.Warn("reference cache warm start: tenant fetch failed", "error", err)
	} else {
		c.Set(KeyTenant, tenant, TTLMedium)
	}

	if groups, err := gw.ListSiteGroups(ctx); err != nil {
		log.Warn("reference cache warm start: site groups fetch failed", "error", err)
	} else {
		c.Set(KeySiteGroups, groups, TTLLong)
	}

	if role, err := gw.GetRole(ctx, ipamgw.RoleNameData); err != nil {
		log.Warn("reference cache warm start: role fetch failed", "error", err)
	} else {
		c.Set(KeyRole, role, TTLLong)
	}

	if vrfs, err := gw.ListVRFs(ctx); err != nil {
		log.Warn("reference cache warm start: vrfs fetch failed", "error", err)
	} else {
		c.Set(KeyVRFs, vrfs, TTLLong)
	}
}
