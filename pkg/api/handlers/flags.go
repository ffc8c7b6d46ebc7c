// pkg/api/handlers/flags.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
	"github.com/releasegate/releasegate/pkg/types"
)

type FlagsHandler struct {
	ctrl   *orchestrator.Controller
	logger *zap.Logger
}

func NewFlagsHandler(ctrl *orchestrator.Controller, logger *zap.Logger) *FlagsHandler {
	return &FlagsHandler{ctrl: ctrl, logger: logger}
}

func (h *FlagsHandler) Create(c *gin.Context) {
	var flag types.FeatureFlag
	if err := c.ShouldBindJSON(&flag); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag: " + err.Error()})
		return
	}
	if flag.Key == "" || len(flag.Variations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flag key and variations are required"})
		return
	}

	if err := h.ctrl.CreateFlag(c.Request.Context(), &flag); err != nil {
		h.logger.Error("flag creation failed", zap.String("flag_key", flag.Key), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, flag)
}

func (h *FlagsHandler) Update(c *gin.Context) {
	var flag types.FeatureFlag
	if err := c.ShouldBindJSON(&flag); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag: " + err.Error()})
		return
	}
	flag.Key = c.Param("key")
	if len(flag.Variations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flag variations are required"})
		return
	}

	if err := h.ctrl.UpdateFlag(c.Request.Context(), &flag); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *FlagsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flags": h.ctrl.ListFlags()})
}

func (h *FlagsHandler) Get(c *gin.Context) {
	flag, err := h.ctrl.GetFlag(c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

func (h *FlagsHandler) Delete(c *gin.Context) {
	if err := h.ctrl.DeleteFlag(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Evaluate resolves a flag for the posted user context.
func (h *FlagsHandler) Evaluate(c *gin.Context) {
	var evalCtx types.EvalContext
	if err := c.ShouldBindJSON(&evalCtx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid evaluation context: " + err.Error()})
		return
	}
	if evalCtx.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	result, err := h.ctrl.EvaluateFlag(c.Param("key"), &evalCtx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"flagKey":   c.Param("key"),
		"value":     result.Value,
		"variation": result.Variation,
		"reason":    result.Reason,
	})
}
