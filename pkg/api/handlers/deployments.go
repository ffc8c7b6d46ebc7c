// pkg/api/handlers/deployments.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
	"github.com/releasegate/releasegate/pkg/types"
)

type DeploymentsHandler struct {
	ctrl   *orchestrator.Controller
	logger *zap.Logger
}

func NewDeploymentsHandler(ctrl *orchestrator.Controller, logger *zap.Logger) *DeploymentsHandler {
	return &DeploymentsHandler{ctrl: ctrl, logger: logger}
}

type registerDeploymentRequest struct {
	ID              string   `json:"id" binding:"required"`
	App             string   `json:"app" binding:"required"`
	Environment     string   `json:"environment"`
	Version         string   `json:"version" binding:"required"`
	PreviousVersion string   `json:"previousVersion"`
	FlagKeys        []string `json:"flagKeys"`
}

func (h *DeploymentsHandler) Register(c *gin.Context) {
	var req registerDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	dep := &types.Deployment{
		ID:              req.ID,
		App:             req.App,
		Environment:     req.Environment,
		Version:         req.Version,
		PreviousVersion: req.PreviousVersion,
		FlagKeys:        req.FlagKeys,
	}
	if err := h.ctrl.RegisterDeployment(c.Request.Context(), dep); err != nil {
		h.logger.Error("deployment registration failed",
			zap.String("deployment_id", req.ID),
			zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dep)
}

func (h *DeploymentsHandler) List(c *gin.Context) {
	deployments, err := h.ctrl.ListDeployments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": deployments})
}

func (h *DeploymentsHandler) Get(c *gin.Context) {
	dep, err := h.ctrl.GetDeployment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dep)
}

func (h *DeploymentsHandler) Retire(c *gin.Context) {
	if err := h.ctrl.RetireDeployment(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retired"})
}

func (h *DeploymentsHandler) Revert(c *gin.Context) {
	if err := h.ctrl.RevertDeployment(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reverted"})
}

func (h *DeploymentsHandler) Triggers(c *gin.Context) {
	states, err := h.ctrl.TriggerStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": states})
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *DeploymentsHandler) Rollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	exec, err := h.ctrl.TriggerRollback(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.logger.Error("rollback request failed",
			zap.String("deployment_id", c.Param("id")),
			zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

func (h *DeploymentsHandler) RollbackHistory(c *gin.Context) {
	execs, err := h.ctrl.RollbackHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}
