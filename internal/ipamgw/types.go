// Package ipamgw is the IPAM Gateway: the only component that talks to the
// remote IPAM (a NetBox-shaped REST API). It owns two bounded worker pools
// (read/write), per-call timing/severity classification, retry with
// backoff, and the typed IPAM object model the Segment Store and
// Allocation Engine build on.
package ipamgw

import (
	"strings"
	"time"
)

// Tenant is the IPAM tenant object scoping every prefix/VLAN this module
// manages.
type Tenant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Role is a fixed IPAM role (always "Data" for this deployment's prefixes
// and VLANs).
type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// SiteGroup is the scope a Prefix points at; its Slug is the Segment's Site.
type SiteGroup struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// VRF is the routing/network scope a Prefix and VLAN belong to.
type VRF struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// VLANGroup groups VLANs by name, enforcing uniqueness of (group, vid).
type VLANGroup struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// VLAN is the IPAM VLAN object: vid, name, group, tenant, role, status.
type VLAN struct {
	ID       int    `json:"id"`
	VID      int    `json:"vid"`
	Name     string `json:"name"`
	GroupID  int    `json:"group_id"`
	TenantID int    `json:"tenant_id"`
	RoleID   int    `json:"role_id"`
	Status   string `json:"status"`
}

// Prefix is the IPAM prefix object: CIDR, status, VRF, tenant, role, scope,
// optional VLAN reference, and the two custom fields this deployment uses.
type Prefix struct {
	ID          int            `json:"id"`
	Prefix      string         `json:"prefix"`
	Status      string         `json:"status"`
	VRFID       int            `json:"vrf_id"`
	TenantID    int            `json:"tenant_id"`
	RoleID      int            `json:"role_id"`
	SiteGroupID int            `json:"site_group_id"`
	VLANID      int            `json:"vlan_id,omitempty"`
	Description string         `json:"description,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// DHCPField / ClusterField read the two custom fields this deployment keys
// off of, with safe zero-value defaults for malformed/missing data.
func (p *Prefix) DHCPField() bool {
	v, _ := p.CustomFields[CustomFieldDHCP].(bool)
	return v
}

func (p *Prefix) ClusterField() string {
	v, _ := p.CustomFields[CustomFieldCluster].(string)
	return v
}

// Well-known IPAM constants this gateway assumes, matching the deployment's
// fixed role/custom-field/status naming.
const (
	RoleNameData       = "Data"
	CustomFieldDHCP    = "DHCP"
	CustomFieldCluster = "Cluster"
	StatusActive       = "active"
	StatusReserved     = "reserved"
	VLANGroupPrefix    = "ClickCluster"
)

// FormatVLANGroupName builds the deterministic VLAN-group name
// "<vrf>-ClickCluster-<Site>" this deployment uses to scope VLAN uniqueness
// per (vrf, site). The site's first letter is upper-cased ("site1" ->
// "Site1").
func FormatVLANGroupName(vrf, site string) string {
	if site != "" {
		site = strings.ToUpper(site[:1]) + site[1:]
	}
	return vrf + "-" + VLANGroupPrefix + "-" + site
}

// PrefixFilter narrows a ListPrefixes call with server-side query
// parameters, cutting payload size before any further in-memory filtering.
type PrefixFilter struct {
	TenantID int
	VRFName  string
	VRFID    int
	Status   string
}

// VLANFilter narrows a ListVLANs call to a single group and/or vid, used
// by the VLAN-reuse lookup on insert and relabel/group-move.
type VLANFilter struct {
	GroupID int
	VID     int
}

// Severity bands for a completed gateway call, logged and exported as a
// metric label once per call.
type Severity string

const (
	SeverityOK         Severity = "ok"
	SeveritySlow       Severity = "slow"
	SeverityThrottled  Severity = "throttled"
	SeveritySevere     Severity = "severe"
)

// ClassifyLatency buckets a call's duration into one of the four severity
// bands: ok (<2s), slow (2-5s), throttled (5-20s), severe (>20s).
func ClassifyLatency(d time.Duration) Severity {
	switch {
	case d < 2*time.Second:
		return SeverityOK
	case d < 5*time.Second:
		return SeveritySlow
	case d < 20*time.Second:
		return SeverityThrottled
	default:
		return SeveritySevere
	}
}
