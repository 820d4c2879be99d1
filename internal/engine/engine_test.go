package engine

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orhaniscoding/vlanctl/internal/domain"
	"github.com/orhaniscoding/vlanctl/internal/query"
	"github.com/orhaniscoding/vlanctl/internal/store"
)

// fakeStore is an in-memory segmentStore used to test the engine's
// allocate/release logic in isolation from the IPAM gateway.
type fakeStore struct {
	segments map[string]*domain.Segment
	nextID   int
}

func newFakeStore(segs ...*domain.Segment) *fakeStore {
	fs := &fakeStore{segments: map[string]*domain.Segment{}}
	for _, s := range segs {
		fs.nextID++
		s.ID = strconv.Itoa(fs.nextID)
		s.SyncDerivedFields()
		fs.segments[s.ID] = s
	}
	return fs
}

func (f *fakeStore) Find(ctx context.Context, pred query.Predicate) ([]*domain.Segment, error) {
	var out []*domain.Segment
	for _, s := range f.segments {
		if pred.Match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	// Same ascending VLAN id order as store.Store.Find.
	sort.Slice(out, func(i, j int) bool { return out[i].VLANID < out[j].VLANID })
	return out, nil
}

func (f *fakeStore) FindOne(ctx context.Context, pred query.Predicate) (*domain.Segment, error) {
	results, err := f.Find(ctx, pred)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func (f *fakeStore) FindOneAndUpdate(ctx context.Context, pred query.Predicate, upd store.Update) (*domain.Segment, error) {
	return f.UpdateOne(ctx, pred, upd)
}

func (f *fakeStore) UpdateOne(ctx context.Context, pred query.Predicate, upd store.Update) (*domain.Segment, error) {
	seg, err := f.FindOne(ctx, pred)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, domain.NewError(domain.ErrNotFound, "not found", nil)
	}
	target := f.segments[seg.ID]
	if upd.SetCluster {
		target.ClusterName = upd.ClusterName
	}
	if upd.AllocatedAt != nil {
		target.AllocatedAt = upd.AllocatedAt
	}
	if upd.ClearReleasedAt {
		target.ReleasedAt = nil
	} else if upd.ReleasedAt != nil {
		target.ReleasedAt = upd.ReleasedAt
	}
	if upd.Released != nil {
		target.Released = *upd.Released
	}
	target.SyncDerivedFields()
	cp := *target
	return &cp, nil
}

func (f *fakeStore) InsertOne(ctx context.Context, seg *domain.Segment) (*domain.Segment, error) {
	f.nextID++
	seg.ID = strconv.Itoa(f.nextID)
	seg.SyncDerivedFields()
	f.segments[seg.ID] = seg
	return seg, nil
}

func (f *fakeStore) DeleteOne(ctx context.Context, pred query.Predicate) error {
	seg, err := f.FindOne(ctx, pred)
	if err != nil {
		return err
	}
	if seg == nil {
		return domain.NewError(domain.ErrNotFound, "not found", nil)
	}
	delete(f.segments, seg.ID)
	return nil
}

// fakeChecker is an inputChecker fixture with a fixed set of known sites
// and vrfs.
type fakeChecker struct {
	sites map[string]bool
	vrfs  map[string]bool
}

func newFakeChecker(sites, vrfs []string) *fakeChecker {
	c := &fakeChecker{sites: map[string]bool{}, vrfs: map[string]bool{}}
	for _, s := range sites {
		c.sites[s] = true
	}
	for _, v := range vrfs {
		c.vrfs[v] = true
	}
	return c
}

func (c *fakeChecker) SiteExists(site string) bool { return c.sites[site] }
func (c *fakeChecker) VRFExists(ctx context.Context, vrf string) (bool, error) {
	return c.vrfs[vrf], nil
}

func TestAllocatePicksSmallestVLANFirst(t *testing.T) {
	fs := newFakeStore(
		&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 200, EPGName: "b"},
		&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"},
	)
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	seg, err := e.Allocate(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)
	assert.Equal(t, 100, seg.VLANID)
	assert.True(t, seg.HasCluster("cluster-x"))
}

func TestAllocateIsIdempotent(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	first, err := e.Allocate(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)
	second, err := e.Allocate(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAllocatePoolExhausted(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	_, err := e.Allocate(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)
	_, err = e.Allocate(context.Background(), "cluster-y", "site1", "vrf1")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrPoolExhausted, de.Code)
}

func TestAllocateUnknownSiteIsBadRequestBeforeAnyLookup(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	_, err := e.Allocate(context.Background(), "cluster-x", "unknown-site", "vrf1")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrBadRequest, de.Code)
}

func TestAllocateUnknownVRFIsBadRequest(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	_, err := e.Allocate(context.Background(), "cluster-x", "site1", "unknown-vrf")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrBadRequest, de.Code)
}

func TestAllocateMalformedClusterTokenIsBadRequest(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	_, err := e.Allocate(context.Background(), "cluster with spaces", "site1", "vrf1")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrBadRequest, de.Code)
}

func TestReleaseExactMatch(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	_, err := e.Allocate(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)

	err = e.Release(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)

	seg, err := e.findExistingAllocation(context.Background(), "cluster-x", "site1", "vrf1")
	require.NoError(t, err)
	assert.Nil(t, seg)
}

func TestReleaseSharedLeaseKeepsOthers(t *testing.T) {
	shared := "cluster-a,cluster-b"
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a", ClusterName: &shared, Released: false})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)

	err := e.Release(context.Background(), "cluster-a", "site1", "vrf1")
	require.NoError(t, err)

	stillThere, err := e.findExistingAllocation(context.Background(), "cluster-b", "site1", "vrf1")
	require.NoError(t, err)
	require.NotNil(t, stillThere)
	assert.False(t, stillThere.HasCluster("cluster-a"))
	assert.True(t, stillThere.HasCluster("cluster-b"))
}

func TestReleaseNotFound(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	err := e.Release(context.Background(), "cluster-x", "site1", "vrf1")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrNotFound, de.Code)
}

func TestReleaseUnknownSiteIsBadRequest(t *testing.T) {
	fs := newFakeStore(&domain.Segment{Site: "site1", VRF: "vrf1", VLANID: 100, EPGName: "a"})
	e := New(fs, newFakeChecker([]string{"site1"}, []string{"vrf1"}), nil)
	err := e.Release(context.Background(), "cluster-x", "unknown-site", "vrf1")
	require.Error(t, err)
	de, ok := err.(*domain.Error)
	require.True(t, ok)
	assert.Equal(t, domain.ErrBadRequest, de.Code)
}
