package handlers

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/pkg/dto"
)

// SettingsHandler pushes runtime settings to kiosks over the control subject.
type SettingsHandler struct {
	control ControlPublisher
}

func NewSettingsHandler(control ControlPublisher) *SettingsHandler {
	return &SettingsHandler{control: control}
}

func (h *SettingsHandler) Update(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSettings(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmds := req.Commands()
	if len(cmds) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings supplied"})
		return
	}
	h.publish(c, cmds)
}

// ReloadGallery tells kiosks to reload embeddings from the database.
func (h *SettingsHandler) ReloadGallery(c *gin.Context) {
	h.publish(c, []dto.ControlCommand{{Command: dto.CmdReloadGallery, KioskID: c.Query("kiosk_id")}})
}

func (h *SettingsHandler) publish(c *gin.Context, cmds []dto.ControlCommand) {
	if h.control == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "control channel not configured"})
		return
	}
	for _, cmd := range cmds {
		if err := h.control.PublishControl(cmd); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publish control command: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusAccepted, dto.SettingsResponse{Published: cmds})
}

// validateSettings rejects values kiosks would refuse anyway, so the caller
// gets the error synchronously.
func validateSettings(r dto.UpdateSettingsRequest) error {
	unit := func(name string, v *float64) error {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
		return nil
	}
	if err := unit("tolerance", r.Tolerance); err != nil {
		return err
	}
	if err := unit("anti_spoof_threshold", r.AntiSpoofThreshold); err != nil {
		return err
	}
	if r.MinConfidence != nil && (math.IsNaN(*r.MinConfidence) || *r.MinConfidence < 0 || *r.MinConfidence > 100) {
		return fmt.Errorf("min_confidence must be in [0,100]")
	}
	if r.LatePenalty != nil && *r.LatePenalty < 0 {
		return fmt.Errorf("late_penalty must not be negative")
	}
	if r.LateCutoff != "" {
		if _, err := config.ParseTimeOfDay(r.LateCutoff); err != nil {
			return err
		}
	}
	if r.RFIDTimeout != "" {
		if d, err := time.ParseDuration(r.RFIDTimeout); err != nil || d <= 0 {
			return fmt.Errorf("rfid_timeout must be a positive duration")
		}
	}
	if r.Cooldown != "" {
		if d, err := time.ParseDuration(r.Cooldown); err != nil || d < 0 {
			return fmt.Errorf("cooldown must be a non-negative duration")
		}
	}
	return nil
}
