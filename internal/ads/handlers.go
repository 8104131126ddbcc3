package ads

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/pricing"
)

// Handler provides HTTP endpoints for ad operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new ads handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public catalog and pricing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/catalog/tiers", h.ListTiers)
	r.GET("/catalog/add-ons", h.ListAddOns)
	r.POST("/pricing/quote", h.Quote)
}

// RegisterProtectedRoutes sets up advertiser routes (auth required).
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/ads", h.CreateAd)
	r.GET("/ads", h.ListMine)
	r.GET("/ads/:id", h.GetAd)
	r.PATCH("/ads/:id", h.EditAd)
	r.POST("/ads/:id/jump", h.JumpAd)
	r.GET("/payments/:orderId", h.GetPayment)
	r.GET("/credits", h.GetCredits)
}

// RegisterAdminRoutes sets up operator-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:orderId/confirm", h.ConfirmPayment)
	r.POST("/payments/:orderId/cancel", h.CancelPayment)
	r.POST("/accounts/:id/credits", h.GrantCredits)
	r.POST("/ads/expire", h.ExpireDue)
}

func respondError(c *gin.Context, err error) {
	code, status := Classify(err)
	body := gin.H{"error": code, "message": err.Error()}
	var ve *ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

type tierView struct {
	ID                catalog.TierID `json:"id"`
	Name              string         `json:"name"`
	Rank              int            `json:"rank"`
	AutoJumpsPerDay   int            `json:"autoJumpsPerDay"`
	ManualJumpsPerDay int            `json:"manualJumpsPerDay"`
	MaxRegions        int            `json:"maxRegions"`
	MaxEdits          int            `json:"maxEdits"`
	ResumeViews       catalog.Limit  `json:"resumeViewsPerDay"`
	IconIncluded      bool           `json:"iconIncluded"`
	NationalScope     bool           `json:"nationalScope"`
	Prices            map[int]int64  `json:"prices"`
}

// ListTiers handles GET /v1/catalog/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers := catalog.Tiers()
	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		prices := make(map[int]int64)
		if !t.IsFree() {
			for _, d := range catalog.PaidDurations {
				prices[d] = catalog.LineRates[d] + t.Upgrade[d]
			}
		}
		out = append(out, tierView{
			ID: t.ID, Name: t.Name, Rank: t.Rank,
			AutoJumpsPerDay: t.AutoJumpsPerDay, ManualJumpsPerDay: t.ManualJumpsPerDay,
			MaxRegions: t.MaxRegions, MaxEdits: t.MaxEdits, ResumeViews: t.ResumeViews,
			IconIncluded: t.IconIncluded, NationalScope: t.NationalScope, Prices: prices,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

// ListAddOns handles GET /v1/catalog/add-ons
func (h *Handler) ListAddOns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"addOns": catalog.AddOns()})
}

// Quote handles POST /v1/pricing/quote
func (h *Handler) Quote(c *gin.Context) {
	var q pricing.Quote
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	b, err := h.service.Price(q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakdown": b})
}

// CreateAd handles POST /v1/ads
func (h *Handler) CreateAd(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	ad, payment, err := h.service.CreateAd(c.Request.Context(), c.GetString("authAccountID"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"ad": ad}
	if payment != nil {
		resp["payment"] = payment
	}
	c.JSON(http.StatusCreated, resp)
}

// ListMine handles GET /v1/ads
func (h *Handler) ListMine(c *gin.Context) {
	ads, err := h.service.ListByAccount(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if ads == nil {
		ads = []*Advertisement{}
	}
	c.JSON(http.StatusOK, gin.H{"ads": ads, "count": len(ads)})
}

// GetAd handles GET /v1/ads/:id
func (h *Handler) GetAd(c *gin.Context) {
	ad, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if ad.AccountID != c.GetString("authAccountID") {
		respondError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ad": ad})
}

// EditAd handles PATCH /v1/ads/:id
func (h *Handler) EditAd(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	ad, err := h.service.Edit(c.Request.Context(), c.GetString("authAccountID"), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ad": ad})
}

// JumpAd handles POST /v1/ads/:id/jump
func (h *Handler) JumpAd(c *gin.Context) {
	res, err := h.service.Jump(c.Request.Context(), c.GetString("authAccountID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetPayment handles GET /v1/payments/:orderId
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if p.AccountID != c.GetString("authAccountID") {
		respondError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// GetCredits handles GET /v1/credits
func (h *Handler) GetCredits(c *gin.Context) {
	balance, err := h.service.CreditBalance(c.Request.Context(), c.GetString("authAccountID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// ConfirmPayment handles POST /v1/admin/payments/:orderId/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	ad, err := h.service.ConfirmPayment(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ad": ad})
}

// CancelPayment handles POST /v1/admin/payments/:orderId/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	failed := c.Query("failed") == "true"
	ad, err := h.service.CancelPayment(c.Request.Context(), c.Param("orderId"), failed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ad": ad})
}

// GrantCreditsRequest is the body of a credit grant.
type GrantCreditsRequest struct {
	Count int `json:"count" binding:"required"`
}

// GrantCredits handles POST /v1/admin/accounts/:id/credits
func (h *Handler) GrantCredits(c *gin.Context) {
	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	balance, err := h.service.GrantCredits(c.Request.Context(), c.Param("id"), req.Count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountId": c.Param("id"), "balance": balance})
}

// ExpireDue handles POST /v1/admin/ads/expire
func (h *Handler) ExpireDue(c *gin.Context) {
	n, err := h.service.ExpireDue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
