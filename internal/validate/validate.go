// Package validate implements the Validator: ordered, mostly-pure checks
// on a candidate Segment before it is handed to the Allocation Engine or
// Segment Store. VRF existence consults the Reference Cache (through a
// VRFExists func injected at construction), and the overlap and label
// uniqueness checks load the vrf's segments through an injected
// ExistingSegmentsFunc; every other check is a pure function of its inputs.
package validate

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

var epgNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

var scriptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<script`),
	regexp.MustCompile(`javascript:`),
	regexp.MustCompile(`onerror=`),
	regexp.MustCompile(`onload=`),
	regexp.MustCompile(`onclick=`),
	regexp.MustCompile(`<iframe`),
	regexp.MustCompile(`<embed`),
	regexp.MustCompile(`<object`),
	regexp.MustCompile(`eval\(`),
	regexp.MustCompile(`expression\(`),
}

const (
	minVLANID   = 1
	maxVLANID   = 4094
	minMaskBits = 16
	maxMaskBits = 29
	maxDescriptionLen = 500
)

// VRFExistsFunc consults the Reference Cache (or the IPAM Gateway on a
// cache miss) to check whether a VRF name is known.
type VRFExistsFunc func(ctx context.Context, vrf string) (bool, error)

// ExistingSegmentsFunc returns every currently-known segment in the given
// vrf, used for the overlap and (vrf, site) label/VLAN uniqueness checks.
type ExistingSegmentsFunc func(ctx context.Context, vrf string) ([]*domain.Segment, error)

// Validator runs the ordered check sequence spec'd for segment creation.
type Validator struct {
	sites          map[string]struct{}
	sitePrefixes   map[string]string // "vrf:site" (lowercase) -> expected first octet
	vrfExists      VRFExistsFunc
	existing       ExistingSegmentsFunc
}

// New builds a Validator scoped to the configured sites and their expected
// prefix first octet per (vrf, site).
func New(sites []string, sitePrefixes map[string]string, vrfExists VRFExistsFunc, existing ExistingSegmentsFunc) *Validator {
	siteSet := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		siteSet[strings.ToLower(s)] = struct{}{}
	}
	return &Validator{sites: siteSet, sitePrefixes: sitePrefixes, vrfExists: vrfExists, existing: existing}
}

// SiteExists reports whether site is one of the configured sites,
// case-insensitively. Exported so the Allocation Engine can run the same
// site check the Validator runs on create, before its own store lookups.
func (v *Validator) SiteExists(site string) bool {
	_, ok := v.sites[strings.ToLower(site)]
	return ok
}

// VRFExists delegates to the injected VRFExistsFunc, exported for the same
// reason as SiteExists. With no func injected, every vrf is treated as
// known (matches ValidateCreate's own ctx==nil skip behavior).
func (v *Validator) VRFExists(ctx context.Context, vrf string) (bool, error) {
	if v.vrfExists == nil {
		return true, nil
	}
	return v.vrfExists(ctx, vrf)
}

// ValidateCreate runs the full ordered check sequence for a new segment,
// returning the first failure as a *domain.Error with code ErrBadRequest,
// or nil if seg may be created.
func (v *Validator) ValidateCreate(ctx context.Context, seg *domain.Segment) error {
	if err := v.validateIdentityFields(seg); err != nil {
		return err
	}
	if err := v.validateVLANRange(seg.VLANID); err != nil {
		return err
	}
	canonical, isCanonical, err := domain.CanonicalCIDR(seg.Prefix)
	if err != nil {
		return badRequest("invalid prefix: " + err.Error())
	}
	if !isCanonical {
		return badRequest(fmt.Sprintf("prefix %q is not in canonical network form; use %q", seg.Prefix, canonical))
	}
	if err := v.validateSubnetMask(seg.Prefix); err != nil {
		return err
	}
	if err := v.validateNoReservedRange(seg.Prefix); err != nil {
		return err
	}
	if ctx != nil {
		if ok, err := v.vrfExists(ctx, seg.VRF); err != nil {
			return fmt.Errorf("validate: vrf existence check: %w", err)
		} else if !ok {
			return badRequest(fmt.Sprintf("unknown vrf %q", seg.VRF))
		}
	}
	if err := v.validatePrefixMatchesSite(seg); err != nil {
		return err
	}
	if err := v.validateUsableHosts(seg.Prefix); err != nil {
		return err
	}

	var existingSegs []*domain.Segment
	if v.existing != nil {
		existingSegs, err = v.existing(ctx, seg.VRF)
		if err != nil {
			return fmt.Errorf("validate: load existing segments: %w", err)
		}
	}
	if err := v.validateOverlap(seg, existingSegs); err != nil {
		return err
	}
	if err := v.validateLabelUniqueness(seg, existingSegs); err != nil {
		return err
	}
	if err := v.validateFreeText(seg.EPGName, "epg_name"); err != nil {
		return err
	}
	if err := v.validateFreeText(seg.Description, "description"); err != nil {
		return err
	}
	if err := v.validateDescription(seg.Description); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateIdentityFields(seg *domain.Segment) error {
	if strings.TrimSpace(seg.Site) == "" {
		return badRequest("site is required")
	}
	if _, ok := v.sites[strings.ToLower(seg.Site)]; !ok {
		return badRequest(fmt.Sprintf("unknown site %q", seg.Site))
	}
	if strings.TrimSpace(seg.VRF) == "" {
		return badRequest("vrf is required")
	}
	if !epgNamePattern.MatchString(seg.EPGName) {
		return badRequest("epg_name must match ^[A-Za-z0-9_-]{1,64}$")
	}
	return nil
}

func (v *Validator) validateVLANRange(vlanID int) error {
	if vlanID < minVLANID || vlanID > maxVLANID {
		return badRequest(fmt.Sprintf("vlan_id %d out of range [%d,%d]", vlanID, minVLANID, maxVLANID))
	}
	return nil
}

func (v *Validator) validateSubnetMask(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return badRequest("invalid CIDR format: " + err.Error())
	}
	ones, _ := network.Mask.Size()
	if ones < minMaskBits || ones > maxMaskBits {
		return badRequest(fmt.Sprintf("subnet mask /%d outside typical range (/%d to /%d)", ones, minMaskBits, maxMaskBits))
	}
	return nil
}

func (v *Validator) validateNoReservedRange(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return badRequest("invalid CIDR format: " + err.Error())
	}
	ip4 := network.IP.To4()
	if ip4 == nil {
		return badRequest("only IPv4 prefixes are supported")
	}
	first := int(ip4[0])
	switch {
	case first == 0:
		return badRequest("cannot use 0.0.0.0/8 network (current network identifier)")
	case first == 127:
		return badRequest("cannot use 127.0.0.0/8 network (loopback addresses)")
	case first == 169 && ip4[1] == 254:
		return badRequest("cannot use 169.254.0.0/16 network (link-local addresses)")
	case first >= 224:
		return badRequest(fmt.Sprintf("cannot use %d.0.0.0/8 network (multicast/reserved range)", first))
	}
	return nil
}

func (v *Validator) validatePrefixMatchesSite(seg *domain.Segment) error {
	expected, ok := v.sitePrefixes[strings.ToLower(seg.VRF)+":"+strings.ToLower(seg.Site)]
	if !ok {
		return badRequest(fmt.Sprintf("network %q at site %q is not configured", seg.VRF, seg.Site))
	}
	octet, err := domain.FirstOctet(seg.Prefix)
	if err != nil {
		return badRequest(err.Error())
	}
	if octet != expected {
		return badRequest(fmt.Sprintf("invalid IP prefix for network %q at site %q: expected %q, got %q", seg.VRF, seg.Site, expected, octet))
	}
	return nil
}

func (v *Validator) validateUsableHosts(cidr string) error {
	hosts, err := domain.UsableHosts(cidr)
	if err != nil {
		return badRequest(err.Error())
	}
	if hosts < 2 {
		return badRequest("prefix must provide at least 2 usable host addresses")
	}
	return nil
}

func (v *Validator) validateOverlap(seg *domain.Segment, existing []*domain.Segment) error {
	for _, other := range existing {
		if other.ID == seg.ID {
			continue
		}
		overlap, err := domain.CIDROverlap(seg.Prefix, other.Prefix)
		if err != nil {
			continue
		}
		if overlap {
			return badRequest(fmt.Sprintf("prefix %s overlaps with existing segment %s (vlan %d)", seg.Prefix, other.Prefix, other.VLANID))
		}
	}
	return nil
}

func (v *Validator) validateLabelUniqueness(seg *domain.Segment, existing []*domain.Segment) error {
	for _, other := range existing {
		if other.ID == seg.ID || !strings.EqualFold(other.Site, seg.Site) {
			continue
		}
		if other.EPGName == seg.EPGName && other.VLANID != seg.VLANID {
			return badRequest(fmt.Sprintf("epg_name %q already used with a different vlan_id in this (vrf, site)", seg.EPGName))
		}
		if other.VLANID == seg.VLANID && other.EPGName != seg.EPGName {
			return badRequest(fmt.Sprintf("vlan_id %d already used with a different epg_name in this (vrf, site)", seg.VLANID))
		}
	}
	return nil
}

func (v *Validator) validateFreeText(text, field string) error {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	for _, pattern := range scriptInjectionPatterns {
		if pattern.MatchString(lower) {
			return badRequest(fmt.Sprintf("%s contains disallowed content", field))
		}
	}
	return nil
}

func (v *Validator) validateDescription(description string) error {
	if description == "" {
		return nil
	}
	if len(description) > maxDescriptionLen {
		return badRequest(fmt.Sprintf("description too long (max %d characters, got %d)", maxDescriptionLen, len(description)))
	}
	if controlCharPattern.MatchString(description) {
		return badRequest("description contains invalid control characters")
	}
	return nil
}

func badRequest(msg string) error {
	return domain.NewError(domain.ErrBadRequest, msg, nil)
}
