package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/idgen"
)

// Handler provides operator endpoints for account and key management.
type Handler struct {
	manager   *Manager
	directory account.Directory
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager, dir account.Directory) *Handler {
	return &Handler{manager: m, directory: dir}
}

// RegisterAdminRoutes sets up operator-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.CreateAccount)
	r.POST("/accounts/:id/verification", h.SetVerification)
	r.POST("/accounts/:id/keys", h.IssueKey)
	r.GET("/accounts/:id/keys", h.ListKeys)
	r.DELETE("/accounts/:id/keys/:keyId", h.RevokeKey)
}

// CreateAccountRequest is the request body for registering an account.
type CreateAccountRequest struct {
	ID       string `json:"id"`
	Role     string `json:"role" binding:"required,oneof=jobseeker business operator"`
	Verified bool   `json:"verified"`
}

// CreateAccount handles POST /v1/admin/accounts and returns the first API key.
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	role, err := account.ParseRole(req.Role, req.Verified)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = idgen.WithPrefix("acct_")
	}

	acct := &account.Account{ID: req.ID, Role: role, CreatedAt: time.Now()}
	if err := h.directory.Create(c.Request.Context(), acct); err != nil {
		if errors.Is(err, account.ErrAccountExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), acct.ID, "default")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"account": gin.H{"id": acct.ID, "role": account.RoleName(role), "verified": account.IsVerified(role)},
		"apiKey":  rawKey,
		"keyId":   key.ID,
	})
}

// SetVerificationRequest carries the business verification fact.
type SetVerificationRequest struct {
	Verified bool `json:"verified"`
}

// SetVerification handles POST /v1/admin/accounts/:id/verification
func (h *Handler) SetVerification(c *gin.Context) {
	var req SetVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	err := h.directory.SetVerified(c.Request.Context(), c.Param("id"), req.Verified)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "verified": req.Verified})
	case errors.Is(err, account.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, account.ErrNotAdvertiser):
		c.JSON(http.StatusConflict, gin.H{"error": "not_business", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}

// IssueKey handles POST /v1/admin/accounts/:id/keys
func (h *Handler) IssueKey(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.directory.Get(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), id, c.DefaultQuery("name", "default"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"apiKey": rawKey, "keyId": key.ID})
}

// ListKeys handles GET /v1/admin/accounts/:id/keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// RevokeKey handles DELETE /v1/admin/accounts/:id/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.manager.RevokeKey(c.Request.Context(), c.Param("keyId"), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"keyId": c.Param("keyId"), "revoked": true})
	case errors.Is(err, ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
