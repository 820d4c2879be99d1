package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

func newTestValidator(existing []*domain.Segment) *Validator {
	sites := []string{"site1"}
	prefixes := map[string]string{"vrf1:site1": "10"}
	vrfExists := func(ctx context.Context, vrf string) (bool, error) { return vrf == "vrf1", nil }
	existingFn := func(ctx context.Context, vrf string) ([]*domain.Segment, error) { return existing, nil }
	return New(sites, prefixes, vrfExists, existingFn)
}

func validSegment() *domain.Segment {
	return &domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "cluster-a", Prefix: "10.0.0.0/24"}
}

func TestValidateCreateSucceeds(t *testing.T) {
	v := newTestValidator(nil)
	err := v.ValidateCreate(context.Background(), validSegment())
	require.NoError(t, err)
}

func TestValidateCreateUnknownSite(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Site = "nowhere"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateBadEPGName(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.EPGName = "bad name!"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateVLANOutOfRange(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.VLANID = 5000
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateNonCanonicalCIDR(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Prefix = "10.0.0.5/24"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
	assert.Contains(t, err.Error(), "10.0.0.0/24")
}

func TestValidateCreateMaskOutOfRange(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Prefix = "10.0.0.0/30"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateReservedRange(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Prefix = "127.0.0.0/24"
	seg.Site = "site1"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateUnknownVRF(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.VRF = "vrf-unknown"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreatePrefixMismatch(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Prefix = "20.0.0.0/24"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateOverlap(t *testing.T) {
	existing := []*domain.Segment{{ID: "1", Site: "site1", VRF: "vrf1", VLANID: 200, Prefix: "10.0.0.0/25"}}
	v := newTestValidator(existing)
	seg := validSegment()
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateLabelUniqueness(t *testing.T) {
	existing := []*domain.Segment{{ID: "1", Site: "site1", VRF: "vrf1", VLANID: 101, EPGName: "cluster-a", Prefix: "10.0.5.0/24"}}
	v := newTestValidator(existing)
	seg := validSegment()
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateScriptInjection(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	seg.Description = "<script>alert(1)</script>"
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func TestValidateCreateDescriptionTooLong(t *testing.T) {
	v := newTestValidator(nil)
	seg := validSegment()
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	seg.Description = string(long)
	err := v.ValidateCreate(context.Background(), seg)
	assertBadRequest(t, err)
}

func assertBadRequest(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok, "expected *domain.Error, got %T", err)
	assert.Equal(t, domain.ErrBadRequest, de.Code)
}
