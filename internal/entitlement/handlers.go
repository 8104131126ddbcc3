package entitlement

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for entitlement and resume access.
type Handler struct {
	service *Service
}

// NewHandler creates a new entitlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up routes for the authenticated caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/entitlement", h.GetEntitlement)
	r.GET("/entitlement/usage", h.GetUsage)
	r.POST("/resumes/:id/access", h.AccessResume)
}

// RegisterAdminRoutes sets up operator-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/entitlement", h.GetAccountEntitlement)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNoEntitlement):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_entitlement", "message": err.Error()})
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidResource):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transient_error", "message": err.Error()})
	}
}

// GetEntitlement handles GET /v1/entitlement
func (h *Handler) GetEntitlement(c *gin.Context) {
	ent, err := h.service.Resolve(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlement": ent})
}

// GetAccountEntitlement handles GET /v1/admin/accounts/:id/entitlement
func (h *Handler) GetAccountEntitlement(c *gin.Context) {
	usage, err := h.service.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

// GetUsage handles GET /v1/entitlement/usage
func (h *Handler) GetUsage(c *gin.Context) {
	usage, err := h.service.Usage(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

// AccessResume handles POST /v1/resumes/:id/access.
// A denial is 403 with the decision body; system failures are 5xx.
func (h *Handler) AccessResume(c *gin.Context) {
	d, err := h.service.CheckAndLog(c.Request.Context(), c.GetString("authAccountID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !d.Allowed {
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"decision": d, "remaining": d.Remaining()})
}
