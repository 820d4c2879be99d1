package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orhaniscoding/vlanctl/internal/audit"
	"github.com/orhaniscoding/vlanctl/internal/domain"
	"github.com/orhaniscoding/vlanctl/internal/idempotency"
	"github.com/orhaniscoding/vlanctl/internal/query"
	"github.com/orhaniscoding/vlanctl/internal/store"
)

const gatewayCallTimeout = 30 * time.Second

// Engine is the subset of *engine.Engine the Request Surface depends on,
// allowing tests to substitute a fake.
type Engine interface {
	Allocate(ctx context.Context, cluster, site, vrf string) (*domain.Segment, error)
	Release(ctx context.Context, cluster, site, vrf string) error
}

// SegmentStore is the subset of *store.Store the Request Surface depends
// on for segment CRUD.
type SegmentStore interface {
	Find(ctx context.Context, pred query.Predicate) ([]*domain.Segment, error)
	FindOne(ctx context.Context, pred query.Predicate) (*domain.Segment, error)
	InsertOne(ctx context.Context, seg *domain.Segment) (*domain.Segment, error)
	UpdateOne(ctx context.Context, pred query.Predicate, upd store.Update) (*domain.Segment, error)
	DeleteOne(ctx context.Context, pred query.Predicate) error
}

// Validator is the subset of *validate.Validator the Request Surface
// depends on.
type Validator interface {
	ValidateCreate(ctx context.Context, seg *domain.Segment) error
}

// Handlers wires the Request Surface onto the Allocation Engine, Segment
// Store and Validator.
type Handlers struct {
	engine    Engine
	store     SegmentStore
	validator Validator
	idem      idempotency.Repository
	auditor   audit.Auditor
}

// NewHandlers builds a Handlers value. auditor may be nil, in which case
// audit events go to a stdout auditor (tests, local dev without a sink).
func NewHandlers(e Engine, s SegmentStore, v Validator, idem idempotency.Repository, auditor audit.Auditor) *Handlers {
	if auditor == nil {
		auditor = audit.NewStdoutAuditor()
	}
	return &Handlers{engine: e, store: s, validator: v, idem: idem, auditor: auditor}
}

func (h *Handlers) audit(c *gin.Context, action, actor, object string, details map[string]any) {
	h.auditor.Event(c.Request.Context(), action, actor, object, details)
}

func clientID(c *gin.Context) string {
	if v, ok := c.Get("client_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}

type allocateRequest struct {
	ClusterName string `json:"cluster_name" binding:"required"`
	Site        string `json:"site" binding:"required"`
	VRF         string `json:"vrf" binding:"required"`
}

type releaseRequest struct {
	ClusterName string `json:"cluster_name" binding:"required"`
	Site        string `json:"site" binding:"required"`
	VRF         string `json:"vrf" binding:"required"`
}

// Allocate handles POST /v1/allocate: lease an available segment to a
// cluster, idempotently.
func (h *Handlers) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, domain.NewError(domain.ErrBadRequest, err.Error(), nil))
		return
	}

	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	seg, err := h.engine.Allocate(ctx, req.ClusterName, req.Site, req.VRF)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	h.audit(c, audit.ActionSegmentAllocated, clientID(c), seg.ID, map[string]any{
		"site": req.Site, "vrf": req.VRF,
	})
	c.JSON(http.StatusOK, seg)
}

// Release handles POST /v1/release: drop a cluster's lease on its segment.
func (h *Handlers) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, domain.NewError(domain.ErrBadRequest, err.Error(), nil))
		return
	}

	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	if err := h.engine.Release(ctx, req.ClusterName, req.Site, req.VRF); err != nil {
		writeEngineError(c, err)
		return
	}

	h.audit(c, audit.ActionSegmentReleased, clientID(c), req.ClusterName, map[string]any{
		"site": req.Site, "vrf": req.VRF,
	})
	c.Status(http.StatusNoContent)
}

// ListSegments handles GET /v1/segments?site=&vrf=.
func (h *Handlers) ListSegments(c *gin.Context) {
	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	preds := []query.Predicate{}
	if site := c.Query("site"); site != "" {
		preds = append(preds, query.Eq(query.FieldSite, site))
	}
	if vrf := c.Query("vrf"); vrf != "" {
		preds = append(preds, query.Eq(query.FieldVRF, vrf))
	}

	segs, err := h.store.Find(ctx, query.And(preds...))
	if err != nil {
		errorResponse(c, internalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segs})
}

// GetSegment handles GET /v1/segments/:id.
func (h *Handlers) GetSegment(c *gin.Context) {
	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	seg, err := h.store.FindOne(ctx, query.IDEq(c.Param("id")))
	if err != nil {
		errorResponse(c, internalError(err))
		return
	}
	if seg == nil {
		errorResponse(c, domain.NewError(domain.ErrNotFound, "segment not found", nil))
		return
	}
	c.JSON(http.StatusOK, seg)
}

type createSegmentRequest struct {
	Site        string `json:"site" binding:"required"`
	VRF         string `json:"vrf" binding:"required"`
	VLANID      int    `json:"vlan_id" binding:"required"`
	EPGName     string `json:"epg_name" binding:"required"`
	Prefix      string `json:"prefix" binding:"required"`
	DHCP        bool   `json:"dhcp"`
	Description string `json:"description"`
}

// CreateSegment handles POST /v1/segments, honoring an Idempotency-Key
// header: a repeated key with the same body replays the original response
// instead of issuing a second IPAM write; the same key with a different
// body is a conflict.
func (h *Handlers) CreateSegment(c *gin.Context) {
	var req createSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, domain.NewError(domain.ErrBadRequest, err.Error(), nil))
		return
	}

	bodyHash, err := domain.HashRequestBody(req)
	if err != nil {
		errorResponse(c, internalError(err))
		return
	}

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey != "" {
		idemKey = idempotency.ScopedKey(idempotency.OpCreateSegment, idemKey)
		if cached, hit, conflict := h.checkIdempotency(c, idemKey, bodyHash); conflict {
			errorResponse(c, domain.NewError(domain.ErrConflict, "idempotency key reused with a different request body", nil))
			return
		} else if hit {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	seg := &domain.Segment{
		Site: req.Site, VRF: req.VRF, VLANID: req.VLANID, EPGName: req.EPGName,
		Prefix: req.Prefix, DHCP: req.DHCP, Description: req.Description,
	}

	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	if err := h.validator.ValidateCreate(ctx, seg); err != nil {
		errorResponse(c, asDomainError(err))
		return
	}

	created, err := h.store.InsertOne(ctx, seg)
	if err != nil {
		errorResponse(c, asDomainError(err))
		return
	}

	h.audit(c, audit.ActionSegmentCreated, clientID(c), created.ID, map[string]any{
		"site": created.Site, "vrf": created.VRF,
	})

	if idemKey != "" {
		h.storeIdempotency(c, idemKey, bodyHash, created)
	}
	c.JSON(http.StatusCreated, created)
}

type updateSegmentRequest struct {
	Description *string `json:"description"`
	DHCP        *bool   `json:"dhcp"`
	VLANID      *int    `json:"vlan_id"`
	EPGName     *string `json:"epg_name"`
}

// UpdateSegment handles PATCH /v1/segments/:id.
func (h *Handlers) UpdateSegment(c *gin.Context) {
	var req updateSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, domain.NewError(domain.ErrBadRequest, err.Error(), nil))
		return
	}

	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	upd := store.Update{
		Description: req.Description,
		DHCP:        req.DHCP,
		VLANID:      req.VLANID,
		EPGName:     req.EPGName,
	}
	updated, err := h.store.UpdateOne(ctx, query.IDEq(c.Param("id")), upd)
	if err != nil {
		errorResponse(c, asDomainError(err))
		return
	}

	h.audit(c, audit.ActionSegmentUpdated, clientID(c), updated.ID, nil)
	c.JSON(http.StatusOK, updated)
}

// DeleteSegment handles DELETE /v1/segments/:id.
func (h *Handlers) DeleteSegment(c *gin.Context) {
	ctx, cancel := requestContext(c, gatewayCallTimeout)
	defer cancel()

	id := c.Param("id")
	if err := h.store.DeleteOne(ctx, query.IDEq(id)); err != nil {
		errorResponse(c, asDomainError(err))
		return
	}

	h.audit(c, audit.ActionSegmentDeleted, clientID(c), id, nil)
	c.Status(http.StatusNoContent)
}

// checkIdempotency looks up a prior response for key. conflict is true if
// the stored record's body hash differs from the current request.
func (h *Handlers) checkIdempotency(c *gin.Context, key, bodyHash string) (cached []byte, hit bool, conflict bool) {
	record, err := h.idem.Get(c.Request.Context(), key)
	if err != nil {
		return nil, false, false
	}
	if record.BodyHash != bodyHash {
		return nil, false, true
	}
	return record.Response, true, false
}

func (h *Handlers) storeIdempotency(c *gin.Context, key, bodyHash string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	record := domain.NewIdempotencyRecord(key, bodyHash)
	record.Response = data
	if err := h.idem.Set(c.Request.Context(), record); err != nil {
		h.auditor.Event(c.Request.Context(), "IDEMPOTENCY_STORE_FAILED", clientID(c), key, map[string]any{"error": err.Error()})
	}
}

func writeEngineError(c *gin.Context, err error) {
	errorResponse(c, asDomainError(err))
}

func asDomainError(err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.NewError(domain.ErrInternal, err.Error(), nil)
}

func internalError(err error) *domain.Error {
	return domain.NewError(domain.ErrInternal, err.Error(), nil)
}
