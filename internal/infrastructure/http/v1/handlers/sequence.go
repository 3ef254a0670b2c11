package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/http/v1/dto"
)

// SeriesService manages numbering series.
type SeriesService interface {
	List(ctx context.Context, tenantID string) ([]*numerator.Sequence, error)
	Create(ctx context.Context, tenantID string, in billing.SeriesInput) (*numerator.Sequence, error)
	SetStatus(ctx context.Context, tenantID string, seriesID id.ID, status numerator.Status) (*numerator.Sequence, error)
}

// SequenceHandler serves /billing/sequences.
type SequenceHandler struct {
	*BaseHandler
	service SeriesService
}

func NewSequenceHandler(base *BaseHandler, service SeriesService) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, service: service}
}

// List handles GET /billing/sequences
func (h *SequenceHandler) List(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	list, err := h.service.List(c.Request.Context(), tenantID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromSeriesList(list)))
}

// Create handles POST /billing/sequences
func (h *SequenceHandler) Create(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	var req dto.CreateSeriesRequest
	if !h.BindJSON(c, &req) {
		return
	}
	seq, err := h.service.Create(c.Request.Context(), tenantID, req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromSeries(seq))
}

// SetStatus handles POST /billing/sequences/:id/status
func (h *SequenceHandler) SetStatus(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	seriesID, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.SeriesStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}
	seq, err := h.service.SetStatus(c.Request.Context(), tenantID, seriesID, numerator.Status(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(seq))
}
