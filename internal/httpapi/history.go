package httpapi

import (
	"net/http"

	"voice-console/internal/history"
	"voice-console/internal/reporting"

	"github.com/gin-gonic/gin"
)

func bindFilters(c *gin.Context) (history.Filters, bool) {
	var f history.Filters
	if err := c.ShouldBindQuery(&f); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid filters"})
		return f, false
	}
	return f, true
}

func (h Handlers) ListCalls(c *gin.Context) {
	at, _ := h.History.RefreshedAt()
	c.JSON(http.StatusOK, gin.H{"calls": h.History.Calls(), "refreshed_at": at})
}

func (h Handlers) RefreshCalls(c *gin.Context) {
	f, ok := bindFilters(c)
	if !ok {
		return
	}
	out, err := h.History.RefreshCalls(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCallRecord(c *gin.Context) {
	rec, err := h.History.GetCall(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListRecordings(c *gin.Context) {
	_, at := h.History.RefreshedAt()
	c.JSON(http.StatusOK, gin.H{"recordings": h.History.Recordings(), "refreshed_at": at})
}

func (h Handlers) RefreshRecordings(c *gin.Context) {
	f, ok := bindFilters(c)
	if !ok {
		return
	}
	out, err := h.History.RefreshRecordings(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out})
}

// DeleteRecording removes a recording. RBAC: owner or super_admin.
func (h Handlers) DeleteRecording(c *gin.Context) {
	if err := h.History.DeleteRecording(c.Request.Context(), c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CallsSummary aggregates the synchronized call history.
func (h Handlers) CallsSummary(c *gin.Context) {
	f, ok := bindFilters(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:         reporting.TimeRange{From: f.From, To: f.To},
		Direction:     f.Direction,
		PhoneNumberID: f.PhoneNumberID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
