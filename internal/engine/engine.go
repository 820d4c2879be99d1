// Package engine implements the Allocation Engine: idempotent allocate,
// atomic claim, and shared-lease release over the Segment Store, with
// per-(site, vrf) serialization through internal/lockset.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/orhaniscoding/vlanctl/internal/domain"
	"github.com/orhaniscoding/vlanctl/internal/lockset"
	"github.com/orhaniscoding/vlanctl/internal/metrics"
	"github.com/orhaniscoding/vlanctl/internal/query"
	"github.com/orhaniscoding/vlanctl/internal/store"
)

// maxClaimRetries bounds the atomic-claim compare-and-retry loop before the
// engine gives up and returns Conflict, per spec.
const maxClaimRetries = 3

// clusterTokenPattern is the wire shape of a single cluster token, per
// 4.5 step 1: "^[A-Za-z0-9_.-]{1,100}$".
var clusterTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

// segmentStore is the subset of *store.Store the engine depends on,
// allowing tests to substitute a fake.
type segmentStore interface {
	Find(ctx context.Context, pred query.Predicate) ([]*domain.Segment, error)
	FindOne(ctx context.Context, pred query.Predicate) (*domain.Segment, error)
	FindOneAndUpdate(ctx context.Context, pred query.Predicate, upd store.Update) (*domain.Segment, error)
	UpdateOne(ctx context.Context, pred query.Predicate, upd store.Update) (*domain.Segment, error)
	InsertOne(ctx context.Context, seg *domain.Segment) (*domain.Segment, error)
	DeleteOne(ctx context.Context, pred query.Predicate) error
}

// inputChecker is the subset of *validate.Validator the engine uses to
// reject an unknown site or vrf before touching the store, per 4.5 step 1.
type inputChecker interface {
	SiteExists(site string) bool
	VRFExists(ctx context.Context, vrf string) (bool, error)
}

// Engine is the Allocation Engine.
type Engine struct {
	store   segmentStore
	checker inputChecker
	locks   *lockset.Set
	log     *slog.Logger
}

// New builds an Engine over s, using checker to validate site/vrf existence
// up front. checker may be nil, in which case that check is skipped (tests
// exercising the claim loop in isolation).
func New(s segmentStore, checker inputChecker, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: s, checker: checker, locks: lockset.New(), log: log}
}

// validateInputs runs 4.5 step 1's up-front checks: cluster token shape,
// known site, known vrf. Returns a BadRequest *domain.Error on the first
// failure, before any store or IPAM lookup.
func (e *Engine) validateInputs(ctx context.Context, cluster, site, vrf string) error {
	if !clusterTokenPattern.MatchString(cluster) {
		return domain.NewError(domain.ErrBadRequest, fmt.Sprintf("cluster_name %q does not match ^[A-Za-z0-9_.-]{1,100}$", cluster), nil)
	}
	if e.checker == nil {
		return nil
	}
	if !e.checker.SiteExists(site) {
		return domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown site %q", site), nil)
	}
	ok, err := e.checker.VRFExists(ctx, vrf)
	if err != nil {
		return fmt.Errorf("engine: vrf existence check: %w", err)
	}
	if !ok {
		return domain.NewError(domain.ErrBadRequest, fmt.Sprintf("unknown vrf %q", vrf), nil)
	}
	return nil
}

func sharedLeaseQuery(cluster string) (query.Predicate, error) {
	return query.Regex(query.FieldClusterName, "(^|,)"+regexp.QuoteMeta(cluster)+"(,|$)")
}

// Allocate leases an available segment in (site, vrf) to cluster. It is
// idempotent: a call repeating an already-granted lease returns the same
// segment without a new IPAM write.
func (e *Engine) Allocate(ctx context.Context, cluster, site, vrf string) (*domain.Segment, error) {
	if err := e.validateInputs(ctx, cluster, site, vrf); err != nil {
		return nil, err
	}

	if existing, err := e.findExistingAllocation(ctx, cluster, site, vrf); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	unlock := e.locks.Lock(lockset.Key(site, vrf))
	defer unlock()

	// Re-check inside the critical section: another task may have granted
	// this exact lease between our lock-free lookup above and acquiring
	// the lock.
	if existing, err := e.findExistingAllocation(ctx, cluster, site, vrf); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	sitePred := query.And(
		query.Eq(query.FieldSite, site),
		query.Eq(query.FieldVRF, vrf),
	)

	var lastErr error
	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		if attempt > 0 {
			metrics.IncClaimRetry(site, vrf)
		}
		candidates, err := e.store.Find(ctx, sitePred)
		if err != nil {
			return nil, fmt.Errorf("engine: allocate: list candidates: %w", err)
		}
		var pick *domain.Segment
		for _, c := range candidates {
			if c.IsAvailable() {
				pick = c
				break
			}
		}
		if pick == nil {
			return nil, domain.NewError(domain.ErrPoolExhausted, fmt.Sprintf("no available segment in site=%s vrf=%s", site, vrf), nil)
		}

		now := time.Now().UTC()
		updated, err := e.store.FindOneAndUpdate(ctx, query.IDEq(pick.ID), store.Update{
			SetCluster:      true,
			ClusterName:     &cluster,
			AllocatedAt:     &now,
			Released:        boolPtr(false),
			ClearReleasedAt: true,
		})
		if err == nil {
			return updated, nil
		}
		lastErr = err
		e.log.Warn("engine: allocate: claim attempt failed, retrying", "site", site, "vrf", vrf, "attempt", attempt, "error", err)
	}
	return nil, domain.NewError(domain.ErrConflict, fmt.Sprintf("engine: allocate: exhausted retries claiming a segment: %v", lastErr), nil)
}

// findExistingAllocation implements the two-phase idempotent lookup:
// exact single-cluster match first, then the shared-lease regex fallback.
func (e *Engine) findExistingAllocation(ctx context.Context, cluster, site, vrf string) (*domain.Segment, error) {
	exactPred := query.And(
		query.Eq(query.FieldClusterName, cluster),
		query.Eq(query.FieldSite, site),
		query.Eq(query.FieldVRF, vrf),
		query.Eq(query.FieldReleased, false),
	)
	seg, err := e.store.FindOne(ctx, exactPred)
	if err != nil {
		return nil, fmt.Errorf("engine: find existing allocation: %w", err)
	}
	if seg != nil {
		return seg, nil
	}

	sharedRegex, err := sharedLeaseQuery(cluster)
	if err != nil {
		return nil, fmt.Errorf("engine: build shared lease query: %w", err)
	}
	sharedPred := query.And(
		sharedRegex,
		query.Eq(query.FieldSite, site),
		query.Eq(query.FieldVRF, vrf),
		query.Eq(query.FieldReleased, false),
	)
	return e.store.FindOne(ctx, sharedPred)
}

// Release removes cluster's lease on its segment in (site, vrf). If the
// segment is shared, only cluster is removed from the cluster list; the
// segment returns to available (and released_at is stamped) only when the
// list becomes empty, matching the documented partial-release semantics.
func (e *Engine) Release(ctx context.Context, cluster, site, vrf string) error {
	if err := e.validateInputs(ctx, cluster, site, vrf); err != nil {
		return err
	}

	unlock := e.locks.Lock(lockset.Key(site, vrf))
	defer unlock()

	sharedRegex, err := sharedLeaseQuery(cluster)
	if err != nil {
		return fmt.Errorf("engine: release: build query: %w", err)
	}
	pred := query.And(
		sharedRegex,
		query.Eq(query.FieldSite, site),
		query.Eq(query.FieldVRF, vrf),
		query.Eq(query.FieldReleased, false),
	)
	seg, err := e.store.FindOne(ctx, pred)
	if err != nil {
		return fmt.Errorf("engine: release: %w", err)
	}
	if seg == nil {
		return domain.NewError(domain.ErrNotFound, fmt.Sprintf("no active allocation for cluster %q in site=%s vrf=%s", cluster, site, vrf), nil)
	}

	clusters := seg.Clusters()
	remaining := make([]string, 0, len(clusters))
	for _, c := range clusters {
		if c != cluster {
			remaining = append(remaining, c)
		}
	}

	if len(remaining) == 0 {
		now := time.Now().UTC()
		_, err = e.store.UpdateOne(ctx, query.IDEq(seg.ID), store.Update{
			SetCluster:  true,
			ClusterName: nil,
			Released:    boolPtr(true),
			ReleasedAt:  &now,
		})
	} else {
		joined := domain.JoinClusters(remaining)
		_, err = e.store.UpdateOne(ctx, query.IDEq(seg.ID), store.Update{
			SetCluster:  true,
			ClusterName: joined,
			Released:    boolPtr(false),
		})
	}
	if err != nil {
		return fmt.Errorf("engine: release: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
