package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/domain/risk"
	"github.com/victoralfred/varlab/internal/scheduler"
)

// Scheduler is the part of scheduler.Scheduler the HTTP layer depends on
type Scheduler interface {
	Statuses() []scheduler.Status
	RunNow(ctx context.Context, name string) (*risk.RunResult, error)
}

// ScheduleHandler exposes the scheduled analyses
type ScheduleHandler struct {
	scheduler Scheduler
	logger    *zap.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(s Scheduler, logger *zap.Logger) *ScheduleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleHandler{scheduler: s, logger: logger}
}

// List returns the status of every scheduled analysis
func (h *ScheduleHandler) List(c *gin.Context) {
	statuses := h.scheduler.Statuses()
	respondOK(c, http.StatusOK, gin.H{"schedules": statuses, "count": len(statuses)})
}

// Run triggers a scheduled analysis immediately
func (h *ScheduleHandler) Run(c *gin.Context) {
	name := c.Param("name")

	result, err := h.scheduler.RunNow(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "no scheduled analysis named "+name, nil)
			return
		}
		respondRiskError(c, h.logger, err)
		return
	}

	h.logger.Info("Scheduled analysis triggered manually", zap.String("schedule", name), zap.String("run_id", result.ID.String()))
	respondOK(c, http.StatusOK, result)
}
