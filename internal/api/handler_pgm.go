package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/jablonet"
	"github.com/hranicka/ha-jablotron/internal/model"
)

type controlRequest struct {
	On *bool `json:"on" binding:"required"`
}

// ControlPGM switches a PGM output on or off. The path parameter is the
// portal's device identifier as reported in the device list; output n is
// addressed upstream as section PGM_n, so the client's zero-based index
// is n-1.
func (h *Handler) ControlPGM(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid PGM id"})
		return
	}

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must carry an \"on\" flag"})
		return
	}

	result, err := h.client.ControlPGM(c.Request.Context(), id-1, *req.On)
	if err != nil {
		writeClientError(c, err)
		return
	}

	// Key the toggle by the same UID the poll path observes, so the
	// reconciler can match the next snapshot against it.
	uid := model.DeviceUID(string(devices.KindPGM), strconv.Itoa(id))
	h.toggles.NotePending(uid, *req.On)

	c.JSON(http.StatusOK, gin.H{
		"section":   result.Section,
		"value":     result.Value,
		"timestamp": result.Timestamp,
	})
}

// GetPGMHistory lists the recorded state periods of one PGM output,
// newest first. The path parameter is the portal's device identifier,
// the same one the store keys its rows by.
func (h *Handler) GetPGMHistory(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid PGM id"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	uid := model.DeviceUID(string(devices.KindPGM), strconv.Itoa(id))

	var history []model.PGMStateHistory
	err = h.store.DB().WithContext(c.Request.Context()).
		Where("device_uid = ?", uid).
		Order("period_start DESC").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"device_uid": uid, "history": history})
}

// ResetClient drops the portal session and clears any armed cooldown,
// forcing a fresh login on the next request.
func (h *Handler) ResetClient(c *gin.Context) {
	h.client.ResetAndClearRetry()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// writeClientError maps the jablonet error taxonomy onto HTTP statuses.
// Credential problems and transport faults surface as bad gateway, an
// armed cooldown as service unavailable with a Retry-After hint, and a
// portal refusal of the control code as a conflict.
func writeClientError(c *gin.Context, err error) {
	var authErr *jablonet.AuthError
	if errors.As(err, &authErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": authErr.Error()})
		return
	}

	var sessErr *jablonet.SessionError
	if errors.As(err, &sessErr) {
		if sessErr.RetryAfter > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", int(sessErr.RetryAfter.Seconds())))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": sessErr.Error()})
			return
		}
		if !sessErr.Recoverable {
			c.JSON(http.StatusConflict, gin.H{"error": sessErr.Error()})
			return
		}
	}

	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
