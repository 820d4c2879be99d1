package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/orhaniscoding/vlanctl/internal/domain"
	"github.com/orhaniscoding/vlanctl/internal/ipamgw"
	"github.com/orhaniscoding/vlanctl/internal/query"
)

// Update describes a partial mutation to apply to a Segment, mirroring the
// source system's "$set"-style partial update against a handful of fields.
type Update struct {
	ClusterName *string // pointer so nil means "leave unchanged"; JoinClusters(nil) clears it
	SetCluster  bool     // true when ClusterName should actually be applied (including to nil)
	Status      *string
	Released    *bool
	AllocatedAt *time.Time
	ReleasedAt  *time.Time
	ClearReleasedAt bool
	Description *string
	DHCP        *bool
	// VLANID, EPGName, VRF and Site drive the VLAN relabel/group-move
	// sequence in UpdateOne (4.4): changing any of these re-resolves the
	// target VLAN group and VLAN, reusing or moving as needed.
	VLANID  *int
	EPGName *string
	VRF     *string
	Site    *string
}

// InsertOne validates-free materializes a new IPAM prefix (with its VLAN
// created or reused via the deterministic VLAN-group coupling) and
// persists it, invalidating the prefix list cache. Validation is the
// Validator's responsibility; InsertOne assumes seg has already passed it.
func (s *Store) InsertOne(ctx context.Context, seg *domain.Segment) (*domain.Segment, error) {
	tid, err := s.tenantID(ctx)
	if err != nil {
		return nil, fmt.Errorf("segment store: insert: resolve tenant: %w", err)
	}
	roleID, err := s.roleID(ctx)
	if err != nil {
		return nil, fmt.Errorf("segment store: insert: resolve role: %w", err)
	}
	sg, err := s.siteGroup(ctx, seg.Site)
	if err != nil {
		return nil, fmt.Errorf("segment store: insert: resolve site group: %w", err)
	}
	if sg == nil {
		return nil, domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown site %q", seg.Site), nil)
	}
	vrf, err := s.vrfByName(ctx, seg.VRF)
	if err != nil {
		return nil, fmt.Errorf("segment store: insert: resolve vrf: %w", err)
	}
	if vrf == nil {
		return nil, domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown vrf %q", seg.VRF), nil)
	}

	vlan, err := s.getOrCreateVLAN(ctx, seg, vrf, sg, tid, roleID)
	if err != nil {
		return nil, err
	}

	prefix := &ipamgw.Prefix{
		Prefix:      seg.Prefix,
		Status:      ipamgw.StatusActive,
		VRFID:       vrf.ID,
		TenantID:    tid,
		RoleID:      roleID,
		SiteGroupID: sg.ID,
		VLANID:      vlan.ID,
		Description: seg.Description,
		CustomFields: map[string]any{
			ipamgw.CustomFieldDHCP:    seg.DHCP,
			ipamgw.CustomFieldCluster: clusterFieldValue(seg.ClusterName),
		},
	}
	created, err := s.gw.CreatePrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("segment store: insert: create prefix: %w", err)
	}
	s.invalidatePrefixList()

	out := *seg
	out.ID = strconv.Itoa(created.ID)
	out.VLANID = vlan.VID
	out.SyncDerivedFields()
	return &out, nil
}

// getOrCreateVLAN obtains the VLAN for this segment's (vrf, site, vlan_id):
// create the VLAN group if absent, then create the VLAN only if no VLAN
// with this vid already exists in that group, otherwise reuse it (renaming
// if the label differs), grounded on get_or_create_vlan.
func (s *Store) getOrCreateVLAN(ctx context.Context, seg *domain.Segment, vrf *ipamgw.VRF, sg *ipamgw.SiteGroup, tenantID, roleID int) (*ipamgw.VLAN, error) {
	group, err := s.gw.GetOrCreateVLANGroup(ctx, seg.VRF, seg.Site)
	if err != nil {
		return nil, fmt.Errorf("segment store: resolve vlan group: %w", err)
	}
	existing, err := s.findVLANInGroup(ctx, group.ID, seg.VLANID)
	if err != nil {
		return nil, fmt.Errorf("segment store: lookup vlan in group: %w", err)
	}
	if existing != nil {
		return s.relabelVLANIfNeeded(ctx, existing, seg.EPGName)
	}
	created, err := s.gw.CreateVLAN(ctx, &ipamgw.VLAN{
		VID:      seg.VLANID,
		Name:     seg.EPGName,
		GroupID:  group.ID,
		TenantID: tenantID,
		RoleID:   roleID,
		Status:   ipamgw.StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("segment store: create vlan: %w", err)
	}
	return created, nil
}

// findVLANInGroup returns the VLAN with the given vid in groupID, nil if
// none exists.
func (s *Store) findVLANInGroup(ctx context.Context, groupID, vid int) (*ipamgw.VLAN, error) {
	vlans, err := s.gw.ListVLANs(ctx, ipamgw.VLANFilter{GroupID: groupID, VID: vid})
	if err != nil {
		return nil, err
	}
	if len(vlans) == 0 {
		return nil, nil
	}
	v := vlans[0]
	return &v, nil
}

// relabelVLANIfNeeded renames vlan to name when it differs, otherwise
// returns it unchanged.
func (s *Store) relabelVLANIfNeeded(ctx context.Context, vlan *ipamgw.VLAN, name string) (*ipamgw.VLAN, error) {
	if vlan.Name == name {
		return vlan, nil
	}
	renamed := *vlan
	renamed.Name = name
	updated, err := s.gw.UpdateVLAN(ctx, &renamed)
	if err != nil {
		return nil, fmt.Errorf("segment store: rename vlan: %w", err)
	}
	return updated, nil
}

// UpdateOne applies upd to the segment identified by pred (ordinarily an
// IDEq predicate), pushing the change to IPAM and invalidating the prefix
// list cache. When upd touches vlan_id, epg_name, vrf or site, the VLAN
// relabel/group-move sequence in 4.4 runs first: the target group is
// re-resolved, an existing VLAN with the target vid in that group is
// reused (renaming if needed), otherwise the current VLAN is moved into
// the target group; the old VLAN is GC'd afterward if it is no longer the
// one referenced.
func (s *Store) UpdateOne(ctx context.Context, pred query.Predicate, upd Update) (*domain.Segment, error) {
	seg, err := s.FindOne(ctx, pred)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, domain.NewError(domain.ErrNotFound, "segment not found", nil)
	}

	id, err := strconv.Atoi(seg.ID)
	if err != nil {
		return nil, fmt.Errorf("segment store: update: invalid segment id %q: %w", seg.ID, err)
	}

	movesVLAN := upd.VLANID != nil || upd.EPGName != nil || upd.VRF != nil || upd.Site != nil

	applyUpdate(seg, upd)

	patch := &ipamgw.Prefix{
		ID:          id,
		Description: seg.Description,
		CustomFields: map[string]any{
			ipamgw.CustomFieldCluster: clusterFieldValue(seg.ClusterName),
			ipamgw.CustomFieldDHCP:    seg.DHCP,
		},
	}

	if movesVLAN {
		vrf, err := s.vrfByName(ctx, seg.VRF)
		if err != nil {
			return nil, fmt.Errorf("segment store: update: resolve vrf: %w", err)
		}
		if vrf == nil {
			return nil, domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown vrf %q", seg.VRF), nil)
		}
		sg, err := s.siteGroup(ctx, seg.Site)
		if err != nil {
			return nil, fmt.Errorf("segment store: update: resolve site group: %w", err)
		}
		if sg == nil {
			return nil, domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown site %q", seg.Site), nil)
		}

		current, err := s.gw.GetPrefix(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("segment store: update: load current prefix: %w", err)
		}
		oldVLANID := current.VLANID

		vlan, err := s.resolveVLANForUpdate(ctx, seg, vrf, sg, oldVLANID)
		if err != nil {
			return nil, err
		}
		patch.VLANID = vlan.ID

		if _, err := s.gw.UpdatePrefix(ctx, patch); err != nil {
			return nil, fmt.Errorf("segment store: update: %w", err)
		}
		s.invalidatePrefixList()
		if oldVLANID != 0 && oldVLANID != vlan.ID {
			s.cleanupUnusedVLAN(ctx, oldVLANID)
		}
		return seg, nil
	}

	if _, err := s.gw.UpdatePrefix(ctx, patch); err != nil {
		return nil, fmt.Errorf("segment store: update: %w", err)
	}
	s.invalidatePrefixList()
	return seg, nil
}

// resolveVLANForUpdate re-resolves the VLAN group for seg's (possibly new)
// (vrf, site) and returns the VLAN to point the prefix at: an existing
// VLAN with seg's vlan_id in that group, reused (renaming if needed), or
// the segment's previous VLAN moved into the target group and relabeled.
func (s *Store) resolveVLANForUpdate(ctx context.Context, seg *domain.Segment, vrf *ipamgw.VRF, sg *ipamgw.SiteGroup, oldVLANID int) (*ipamgw.VLAN, error) {
	group, err := s.gw.GetOrCreateVLANGroup(ctx, seg.VRF, seg.Site)
	if err != nil {
		return nil, fmt.Errorf("segment store: update: resolve vlan group: %w", err)
	}
	existing, err := s.findVLANInGroup(ctx, group.ID, seg.VLANID)
	if err != nil {
		return nil, fmt.Errorf("segment store: update: lookup vlan in group: %w", err)
	}
	if existing != nil {
		return s.relabelVLANIfNeeded(ctx, existing, seg.EPGName)
	}

	if oldVLANID == 0 {
		tid, err := s.tenantID(ctx)
		if err != nil {
			return nil, fmt.Errorf("segment store: update: resolve tenant: %w", err)
		}
		roleID, err := s.roleID(ctx)
		if err != nil {
			return nil, fmt.Errorf("segment store: update: resolve role: %w", err)
		}
		return s.gw.CreateVLAN(ctx, &ipamgw.VLAN{
			VID: seg.VLANID, Name: seg.EPGName, GroupID: group.ID,
			TenantID: tid, RoleID: roleID, Status: ipamgw.StatusActive,
		})
	}

	old, err := s.gw.GetVLAN(ctx, oldVLANID)
	if err != nil {
		return nil, fmt.Errorf("segment store: update: load previous vlan: %w", err)
	}
	patch := *old
	patch.VID = seg.VLANID
	patch.Name = seg.EPGName
	patch.GroupID = group.ID
	moved, err := s.gw.UpdateVLAN(ctx, &patch)
	if err != nil {
		return nil, fmt.Errorf("segment store: update: move vlan: %w", err)
	}
	return moved, nil
}

// FindOneAndUpdate is the atomic-claim primitive: it finds a segment
// matching pred (the caller is responsible for the (site, vrf) lock
// serializing this against concurrent claims) and immediately applies upd
// if found. Grounded on find_one_and_update's "smallest vlan_id first"
// ordering, already applied by Find's sort.
func (s *Store) FindOneAndUpdate(ctx context.Context, pred query.Predicate, upd Update) (*domain.Segment, error) {
	return s.UpdateOne(ctx, pred, upd)
}

// DeleteOne removes the segment identified by pred from IPAM: the prefix,
// then the VLAN if it is no longer referenced by any other prefix
// (cleanup_unused_vlan's reference-count-then-delete sequence).
func (s *Store) DeleteOne(ctx context.Context, pred query.Predicate) error {
	seg, err := s.FindOne(ctx, pred)
	if err != nil {
		return err
	}
	if seg == nil {
		return domain.NewError(domain.ErrNotFound, "segment not found", nil)
	}
	id, err := strconv.Atoi(seg.ID)
	if err != nil {
		return fmt.Errorf("segment store: delete: invalid segment id %q: %w", seg.ID, err)
	}
	prefix, err := s.gw.GetPrefix(ctx, id)
	if err != nil {
		return fmt.Errorf("segment store: delete: %w", err)
	}
	if err := s.gw.DeletePrefix(ctx, id); err != nil {
		return fmt.Errorf("segment store: delete: %w", err)
	}
	s.invalidatePrefixList()

	if prefix.VLANID != 0 {
		s.cleanupUnusedVLAN(ctx, prefix.VLANID)
	}
	return nil
}

// cleanupUnusedVLAN deletes vlanID if no remaining prefix references it.
// Best-effort: failures are logged, not propagated, matching the source's
// treatment of VLAN cleanup as a non-critical follow-up to prefix deletion.
func (s *Store) cleanupUnusedVLAN(ctx context.Context, vlanID int) {
	tid, err := s.tenantID(ctx)
	if err != nil {
		return
	}
	remaining, err := s.gw.ListPrefixes(ctx, ipamgw.PrefixFilter{TenantID: tid})
	if err != nil {
		s.log.Warn("segment store: vlan cleanup: list prefixes failed", "vlan_id", vlanID, "error", err)
		return
	}
	for _, p := range remaining {
		if p.VLANID == vlanID {
			return
		}
	}
	if err := s.gw.DeleteVLAN(ctx, vlanID); err != nil {
		s.log.Warn("segment store: vlan cleanup: delete failed", "vlan_id", vlanID, "error", err)
	}
}

func applyUpdate(seg *domain.Segment, upd Update) {
	if upd.SetCluster {
		seg.ClusterName = upd.ClusterName
	}
	if upd.AllocatedAt != nil {
		seg.AllocatedAt = upd.AllocatedAt
	}
	if upd.ClearReleasedAt {
		seg.ReleasedAt = nil
	} else if upd.ReleasedAt != nil {
		seg.ReleasedAt = upd.ReleasedAt
	}
	if upd.Released != nil {
		seg.Released = *upd.Released
	}
	if upd.Description != nil {
		seg.Description = *upd.Description
	}
	if upd.DHCP != nil {
		seg.DHCP = *upd.DHCP
	}
	if upd.VLANID != nil {
		seg.VLANID = *upd.VLANID
	}
	if upd.EPGName != nil {
		seg.EPGName = *upd.EPGName
	}
	if upd.VRF != nil {
		seg.VRF = *upd.VRF
	}
	if upd.Site != nil {
		seg.Site = *upd.Site
	}
	if upd.Status != nil {
		seg.Status = *upd.Status
	} else {
		seg.SyncDerivedFields()
	}
}

func clusterFieldValue(clusterName *string) string {
	if clusterName == nil {
		return ""
	}
	return *clusterName
}
