package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/garyjia/receipt-ledger/internal/domain/entity"
	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/garyjia/receipt-ledger/internal/domain/workflow"
	"github.com/garyjia/receipt-ledger/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	// ActorHeader names the caller recorded on audit events
	ActorHeader = "X-Actor"

	defaultPageSize = 50
	maxPageSize     = 1000
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	drafts service.DraftService
	send   service.SendService
	audit  service.AuditService
	health HealthChecker
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		drafts: services.Drafts,
		send:   services.Send,
		audit:  services.Audit,
		health: services.Health,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Violations lists every failed readiness rule on a 422
	Violations []string `json:"violations,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// DraftRequest is the body of POST /api/drafts and PUT /api/drafts/:id
type DraftRequest struct {
	Receipt  entity.Receipt `json:"receipt"`
	ImageRef string         `json:"image_ref"`
}

// SaveDraftResponse reports whether Save created a new draft
type SaveDraftResponse struct {
	Draft   *entity.Draft `json:"draft"`
	Created bool          `json:"created"`
}

// SendRequest is the body of POST /api/drafts/send
type SendRequest struct {
	DraftIDs []string `json:"draft_ids"`
	Force    bool     `json:"force"`
}

// CountResponse wraps the audit event count
type CountResponse struct {
	Count int64 `json:"count"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{Success: healthy, Data: response})
}

// SaveDraft handles POST /api/drafts. An existing DRAFT for the same image is updated.
func (h *Handlers) SaveDraft(c *gin.Context) {
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	draft, created, err := h.drafts.Save(c.Request.Context(), sanitizeReceipt(req.Receipt), utils.SanitizeString(req.ImageRef), actor(c))
	if err != nil {
		h.fail(c, "Failed to save draft", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, Response{Success: true, Data: SaveDraftResponse{Draft: draft, Created: created}})
}

// UpdateDraft handles PUT /api/drafts/:id
func (h *Handlers) UpdateDraft(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}

	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	draft, err := h.drafts.Update(c.Request.Context(), id, sanitizeReceipt(req.Receipt), actor(c))
	if err != nil {
		h.fail(c, "Failed to update draft", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: draft})
}

// GetDraft handles GET /api/drafts/:id
func (h *Handlers) GetDraft(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}

	draft, err := h.drafts.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get draft", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: draft})
}

// ListDrafts handles GET /api/drafts?status=&location_id=&staff_id=&limit=&offset=
func (h *Handlers) ListDrafts(c *gin.Context) {
	filter := port.DraftFilter{
		Status:     workflow.State(c.Query("status")),
		LocationID: utils.SanitizeString(c.Query("location_id")),
		StaffID:    utils.SanitizeString(c.Query("staff_id")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		h.badRequest(c, "unknown status "+string(filter.Status), nil)
		return
	}

	var err error
	if filter.Limit, err = utils.ParseLimit(c.Query("limit"), defaultPageSize, maxPageSize); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}
	if filter.Offset, err = utils.ParseOffset(c.Query("offset")); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	drafts, err := h.drafts.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list drafts", err)
		return
	}
	if drafts == nil {
		drafts = []*entity.Draft{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: drafts})
}

// DeleteDraft handles DELETE /api/drafts/:id
func (h *Handlers) DeleteDraft(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}

	if _, err := h.drafts.Delete(c.Request.Context(), id, actor(c)); err != nil {
		h.fail(c, "Failed to delete draft", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendDrafts handles POST /api/drafts/send. Per-draft failures are part of the
// report and still answer 200.
func (h *Handlers) SendDrafts(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := utils.ValidateDraftIDs(req.DraftIDs); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	report, err := h.send.Send(c.Request.Context(), req.DraftIDs, service.SendOptions{
		Actor: actor(c),
		Force: req.Force,
	})
	if err != nil {
		h.fail(c, "Bulk send failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: report.FailedCount == 0, Data: report})
}

// RecentEvents handles GET /api/audit/recent
func (h *Handlers) RecentEvents(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	events, err := h.audit.GetRecent(c.Request.Context(), limit)
	h.events(c, events, err)
}

// DraftEvents handles GET /api/audit/drafts/:id
func (h *Handlers) DraftEvents(c *gin.Context) {
	id, ok := h.draftID(c)
	if !ok {
		return
	}
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	events, err := h.audit.GetForDraft(c.Request.Context(), id, limit)
	h.events(c, events, err)
}

// EventsByType handles GET /api/audit/types/:type
func (h *Handlers) EventsByType(c *gin.Context) {
	eventType := event.Type(c.Param("type"))
	if !eventType.IsValid() {
		h.badRequest(c, "unknown event type "+string(eventType), nil)
		return
	}
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	events, err := h.audit.GetByType(c.Request.Context(), eventType, limit)
	h.events(c, events, err)
}

// CountEvents handles GET /api/audit/count
func (h *Handlers) CountEvents(c *gin.Context) {
	count, err := h.audit.Count(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to count audit events", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: CountResponse{Count: count}})
}

func (h *Handlers) events(c *gin.Context, events []*event.Event, err error) {
	if err != nil {
		h.fail(c, "Failed to query audit events", err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

func (h *Handlers) draftID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidateDraftID(id); err != nil {
		h.badRequest(c, err.Error(), err)
		return "", false
	}
	return id, true
}

func (h *Handlers) limit(c *gin.Context) (int, bool) {
	limit, err := utils.ParseLimit(c.Query("limit"), defaultPageSize, maxPageSize)
	if err != nil {
		h.badRequest(c, err.Error(), err)
		return 0, false
	}
	return limit, true
}

func (h *Handlers) badRequest(c *gin.Context, message string, err error) {
	if err != nil {
		h.logger.Error("Invalid request", "path", c.FullPath(), "error", err)
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

// fail maps service errors onto status codes
func (h *Handlers) fail(c *gin.Context, message string, err error) {
	resp := Response{Success: false, Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *entity.ValidationError
	switch {
	case errors.Is(err, entity.ErrDraftNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrImmutable), errors.Is(err, entity.ErrDuplicateImageRef):
		status = http.StatusConflict
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Violations = verr.Violations
	case errors.Is(err, entity.ErrStorageContention):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "error", err, "path", c.FullPath())
	}
	c.JSON(status, resp)
}

func actor(c *gin.Context) string {
	return utils.SanitizeString(c.GetHeader(ActorHeader))
}

func sanitizeReceipt(r entity.Receipt) entity.Receipt {
	r.ReceiptDate = utils.SanitizeString(r.ReceiptDate)
	r.VendorName = utils.SanitizeString(r.VendorName)
	r.InvoiceNumber = utils.SanitizeString(r.InvoiceNumber)
	r.Memo = utils.SanitizeString(r.Memo)
	r.BusinessLocationID = utils.SanitizeString(r.BusinessLocationID)
	r.StaffID = utils.SanitizeString(r.StaffID)
	return r
}
