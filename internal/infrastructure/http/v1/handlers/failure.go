package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/http/v1/dto"
)

// FailureService is the dead-letter queue as seen by operators.
type FailureService interface {
	ListFailures(ctx context.Context, tenantID string) ([]*billing.Failure, error)
	RetryMany(ctx context.Context, tenantID string, failureIDs []id.ID) ([]billing.RetryOutcome, error)
	Delete(ctx context.Context, tenantID string, failureID id.ID) error
}

// FailureHandler serves /billing/imprenta-failures.
type FailureHandler struct {
	*BaseHandler
	service FailureService
}

func NewFailureHandler(base *BaseHandler, service FailureService) *FailureHandler {
	return &FailureHandler{BaseHandler: base, service: service}
}

// List handles GET /billing/imprenta-failures
func (h *FailureHandler) List(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	rows, err := h.service.ListFailures(c.Request.Context(), tenantID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromFailures(rows)))
}

// Retry handles POST /billing/imprenta-failures/retry
// A batch with failed items still answers 200; the outcome is per item.
func (h *FailureHandler) Retry(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	var req dto.RetryRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids, err := req.IDs()
	if err != nil {
		h.Error(c, err)
		return
	}

	outcomes, err := h.service.RetryMany(c.Request.Context(), tenantID, ids)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewRetryResponse(outcomes))
}

// Delete handles DELETE /billing/imprenta-failures/:id
func (h *FailureHandler) Delete(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	failureID, ok := h.ParamID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), tenantID, failureID); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "failure discarded")
}
