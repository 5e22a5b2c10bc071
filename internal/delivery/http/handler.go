package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/catalog"
	"github.com/macrolens/larder/internal/domain"
)

const serviceVersion = "1.0.0"

// Completions is the pipeline the handlers drive. usecase.CompletionService
// implements it.
type Completions interface {
	Plan(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error)
	Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	completions Completions
	store       domain.InventoryStore
	catalog     *catalog.Catalog
	metrics     http.Handler
	now         func() time.Time
	log         *zap.Logger
}

// NewHandler creates a new HTTP handler. metrics may be nil, in which case
// /metrics is not served.
func NewHandler(completions Completions, store domain.InventoryStore, cat *catalog.Catalog, metrics http.Handler, log *zap.Logger) *Handler {
	if cat == nil {
		cat = catalog.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		completions: completions,
		store:       store,
		catalog:     cat,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "larder",
		"version": serviceVersion,
	})
}

// PlanCompletion computes allocation plans for a recipe without touching
// inventory.
func (h *Handler) PlanCompletion(c *gin.Context) {
	req, ok := h.bindCompletion(c)
	if !ok {
		return
	}

	resp, err := h.completions.Plan(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CompleteRecipe applies a cooked recipe to inventory. A conflict answers 409
// with the computed plans and the stale record ids.
func (h *Handler) CompleteRecipe(c *gin.Context) {
	req, ok := h.bindCompletion(c)
	if !ok {
		return
	}
	if req.RecipeReference == "" {
		req.RecipeReference = requestid.Get(c)
	}

	resp, err := h.completions.Complete(c.Request.Context(), req)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) && resp != nil {
			h.log.Warn("completion conflict",
				zap.String("recipe_reference", req.RecipeReference),
				zap.Strings("records", conflict.RecordIDs),
			)
			c.JSON(http.StatusConflict, resp)
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) bindCompletion(c *gin.Context) (domain.CompletionRequest, bool) {
	var req domain.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request body: %v", err),
			"code":  "INVALID_REQUEST",
		})
		return req, false
	}
	if len(req.IngredientLines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "ingredientLines must not be empty",
			"code":  "INVALID_REQUEST",
		})
		return req, false
	}
	return req, true
}

// ListInventory returns every record owned by a household.
func (h *Handler) ListInventory(c *gin.Context) {
	householdID := strings.TrimSpace(c.Param("householdId"))
	records, err := h.store.ListRecords(c.Request.Context(), householdID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"householdId": householdID,
		"records":     records,
	})
}

// PutRecord creates or replaces an inventory record. The unit must be
// allowed for the record's category; an empty unit takes the category
// default.
func (h *Handler) PutRecord(c *gin.Context) {
	var record domain.InventoryRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request body: %v", err),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		h.writeError(c, fmt.Errorf("%w: name is required", domain.ErrInvalidRequest))
		return
	}
	if record.Quantity <= 0 {
		h.writeError(c, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidRequest))
		return
	}

	unit, err := h.catalog.ResolveUnit(record.Category, record.Unit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.catalog.ValidateRecordUnit(record.Category, unit.ID); err != nil {
		h.writeError(c, err)
		return
	}
	record.Unit = unit.ID

	status := http.StatusOK
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
		status = http.StatusCreated
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = h.now()
	}

	if err := h.store.PutRecord(c.Request.Context(), record); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(status, record)
}

// RecordAudit returns the completion audit trail of one record, oldest first.
func (h *Handler) RecordAudit(c *gin.Context) {
	recordID := c.Param("recordId")
	entries, err := h.store.ListAudit(c.Request.Context(), recordID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.CompletionAuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recordId": recordID,
		"entries":  entries,
	})
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestid.Get(c)),
		)
	}
	_ = c.Error(err)

	body := gin.H{"error": err.Error(), "code": code}
	var overrideErr *domain.OverrideError
	if errors.As(err, &overrideErr) {
		body["ingredient"] = overrideErr.Ingredient
		if overrideErr.RecordID != "" {
			body["recordId"] = overrideErr.RecordID
		}
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		body["conflicts"] = conflict.RecordIDs
	}
	c.JSON(status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnknownUnit),
		errors.Is(err, domain.ErrUnitNotAllowed):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrInvalidOverride):
		return http.StatusUnprocessableEntity, "INVALID_OVERRIDE"
	case errors.Is(err, domain.ErrOverAllocation):
		return http.StatusUnprocessableEntity, "OVER_ALLOCATION"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "REQUEST_TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
