package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itinera/backend/internal/api/respond"
	"github.com/itinera/backend/internal/services"
)

// AuditLogHandler is the read-only view of the audit trail. There is no write route.
type AuditLogHandler struct {
	audit *services.AuditService
}

func NewAuditLogHandler(audit *services.AuditService) *AuditLogHandler {
	return &AuditLogHandler{audit: audit}
}

func (h *AuditLogHandler) List(c *gin.Context) {
	f := services.AuditFilter{
		Username:   c.Query("username"),
		Action:     c.Query("action"),
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Status:     c.Query("status"),
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		respond.Validation(c, "from must be RFC 3339")
		return
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		respond.Validation(c, "to must be RFC 3339")
		return
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		respond.Validation(c, "limit must be an integer")
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		respond.Validation(c, "offset must be an integer")
		return
	}

	rows, total, err := h.audit.List(c.Request.Context(), f)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", gin.H{"items": rows, "total": total})
}

func (h *AuditLogHandler) Get(c *gin.Context) {
	rec, err := h.audit.Get(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "OK", rec)
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
