package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hranicka/ha-jablotron/internal/devices"
	"github.com/hranicka/ha-jablotron/internal/model"
	"github.com/hranicka/ha-jablotron/internal/poller"
)

// deviceResponse augments a decoded device with the toggle state of an
// in-flight control command, when there is one.
type deviceResponse struct {
	devices.Device
	Toggle string `json:"toggle,omitempty"`
}

// GetDevices returns the device list from the most recent poll.
func (h *Handler) GetDevices(c *gin.Context) {
	devs, observedAt := h.source.Latest()
	if observedAt.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot available yet"})
		return
	}

	resp := make([]deviceResponse, 0, len(devs))
	for _, d := range devs {
		dr := deviceResponse{Device: d}
		if d.Kind == devices.KindPGM {
			uid := model.DeviceUID(string(d.Kind), d.ID)
			dr.Toggle = toggleName(h.toggles.State(uid).State)
		}
		resp = append(resp, dr)
	}

	c.JSON(http.StatusOK, gin.H{
		"observed_at": observedAt.Format(time.RFC3339),
		"devices":     resp,
	})
}

// GetStatus returns a short health summary: snapshot age, device counts
// and the client's cooldown, if one is armed.
func (h *Handler) GetStatus(c *gin.Context) {
	devs, observedAt := h.source.Latest()

	var pgmsOn, sectionsActive int
	for _, d := range devs {
		switch d.Kind {
		case devices.KindPGM:
			if d.On {
				pgmsOn++
			}
		case devices.KindSection:
			if d.Active {
				sectionsActive++
			}
		}
	}

	resp := gin.H{
		"devices":         len(devs),
		"pgms_on":         pgmsOn,
		"sections_active": sectionsActive,
	}
	if !observedAt.IsZero() {
		resp["observed_at"] = observedAt.Format(time.RFC3339)
	}
	if next := h.client.NextRetryTime(); next != nil {
		resp["next_retry"] = next.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

func toggleName(s poller.ToggleState) string {
	switch s {
	case poller.TogglePending:
		return "pending"
	case poller.ToggleReconciled:
		return "reconciled"
	default:
		return "idle"
	}
}
