package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type purchaseRequest struct {
	PhoneNumber string `json:"phone_number"`
	Country     string `json:"country"`
	AreaCode    string `json:"area_code"`
}

type selectRequest struct {
	ID string `json:"id"`
}

func (h Handlers) ListNumbers(c *gin.Context) {
	owned := h.Numbers.Owned()
	if len(owned) == 0 {
		var err error
		if owned, err = h.Numbers.Refresh(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	body := gin.H{"numbers": owned}
	if sel, ok := h.Numbers.Selected(); ok {
		body["selected_id"] = sel.ID
	}
	c.JSON(http.StatusOK, body)
}

func (h Handlers) RefreshNumbers(c *gin.Context) {
	owned, err := h.Numbers.Refresh(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": owned})
}

func (h Handlers) SearchNumbers(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	country := c.DefaultQuery("country", "US")
	found, err := h.Numbers.Search(c.Request.Context(), c.Query("area_code"), country, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": found})
}

// PurchaseNumber buys a number. RBAC: owner or super_admin.
func (h Handlers) PurchaseNumber(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}
	n, err := h.Numbers.Purchase(c.Request.Context(), req.PhoneNumber, req.Country, req.AreaCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// ReleaseNumber gives a number back. RBAC: owner or super_admin.
func (h Handlers) ReleaseNumber(c *gin.Context) {
	if err := h.Numbers.Release(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) SelectNumber(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	n, err := h.Numbers.Select(req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}
