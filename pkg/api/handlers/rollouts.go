// pkg/api/handlers/rollouts.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
)

type RolloutsHandler struct {
	ctrl   *orchestrator.Controller
	logger *zap.Logger
}

func NewRolloutsHandler(ctrl *orchestrator.Controller, logger *zap.Logger) *RolloutsHandler {
	return &RolloutsHandler{ctrl: ctrl, logger: logger}
}

type startRolloutRequest struct {
	DeploymentID      string  `json:"deploymentId" binding:"required"`
	FlagKey           string  `json:"flagKey" binding:"required"`
	FlagName          string  `json:"flagName"`
	InitialPercentage float64 `json:"initialPercentage"`
}

func (h *RolloutsHandler) Start(c *gin.Context) {
	var req startRolloutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	rolloutID, err := h.ctrl.StartRollout(c.Request.Context(), req.DeploymentID, req.FlagKey, req.FlagName, req.InitialPercentage)
	if err != nil {
		h.logger.Error("rollout creation failed",
			zap.String("flag_key", req.FlagKey),
			zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rolloutId": rolloutID})
}

func (h *RolloutsHandler) Status(c *gin.Context) {
	state, err := h.ctrl.RolloutStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *RolloutsHandler) Pause(c *gin.Context) {
	if err := h.ctrl.PauseRollout(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *RolloutsHandler) Resume(c *gin.Context) {
	if err := h.ctrl.ResumeRollout(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}
