package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/http/v1/dto"
)

// DocumentService is the part of the issuance pipeline the HTTP layer uses.
type DocumentService interface {
	Create(ctx context.Context, tenantID string, in billing.CreateInput) (*billing.Document, error)
	Issue(ctx context.Context, tenantID string, docID id.ID) (*billing.Document, error)
	Get(ctx context.Context, tenantID string, docID id.ID) (*billing.Document, error)
	List(ctx context.Context, tenantID string, filter billing.ListFilter) ([]*billing.Document, error)
	Status(ctx context.Context, tenantID string, docID id.ID) (*billing.StatusView, error)
	ProviderStatus(ctx context.Context, tenantID string, docID id.ID) (*billing.StatusView, error)
	Cancel(ctx context.Context, tenantID string, docID id.ID, reason string) (*billing.StatusView, error)
	Evidence(ctx context.Context, tenantID string, docID id.ID) (*billing.Evidence, error)
	AuditTrail(ctx context.Context, tenantID string, docID id.ID) ([]billing.AuditEntry, error)
	Advance(ctx context.Context, tenantID string, docID id.ID, to billing.Status) (*billing.Document, error)
}

// DocumentHandler serves /billing/documents.
type DocumentHandler struct {
	*BaseHandler
	service DocumentService
}

func NewDocumentHandler(base *BaseHandler, service DocumentService) *DocumentHandler {
	return &DocumentHandler{BaseHandler: base, service: service}
}

// Create handles POST /billing/documents
func (h *DocumentHandler) Create(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	var req dto.CreateDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	doc, err := h.service.Create(c.Request.Context(), tenantID, in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromDocument(doc))
}

// List handles GET /billing/documents
func (h *DocumentHandler) List(c *gin.Context) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return
	}
	var q dto.ListDocumentsQuery
	if !h.BindQuery(c, &q) {
		return
	}

	docs, err := h.service.List(c.Request.Context(), tenantID, q.Filter())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromDocuments(docs)))
}

// Get handles GET /billing/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), tenantID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDocument(doc))
}

// Issue handles POST /billing/documents/:id/issue
func (h *DocumentHandler) Issue(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	doc, err := h.service.Issue(c.Request.Context(), tenantID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDocument(doc))
}

// Status handles GET /billing/documents/:id/status
//
// With ?refresh=true the fiscal provider is asked for its record too.
func (h *DocumentHandler) Status(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	status := h.service.Status
	if c.Query("refresh") == "true" {
		status = h.service.ProviderStatus
	}
	view, err := status(c.Request.Context(), tenantID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromStatus(view))
}

// Advance handles POST /billing/documents/:id/advance
func (h *DocumentHandler) Advance(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.AdvanceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	doc, err := h.service.Advance(c.Request.Context(), tenantID, docID, billing.Status(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDocument(doc))
}

// Cancel handles POST /billing/documents/:id/cancel
func (h *DocumentHandler) Cancel(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.CancelRequest
	if !h.BindJSON(c, &req) {
		return
	}
	view, err := h.service.Cancel(c.Request.Context(), tenantID, docID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromStatus(view))
}

// Audit handles GET /billing/documents/:id/audit
func (h *DocumentHandler) Audit(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(c.Request.Context(), tenantID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromAudit(entries)))
}

// Evidence handles GET /billing/documents/:id/evidence
func (h *DocumentHandler) Evidence(c *gin.Context) {
	tenantID, docID, ok := h.target(c)
	if !ok {
		return
	}
	ev, err := h.service.Evidence(c.Request.Context(), tenantID, docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, ev)
}

func (h *DocumentHandler) target(c *gin.Context) (string, id.ID, bool) {
	tenantID, ok := h.TenantID(c)
	if !ok {
		return "", id.ID{}, false
	}
	docID, ok := h.ParamID(c)
	return tenantID, docID, ok
}
