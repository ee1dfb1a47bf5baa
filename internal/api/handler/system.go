package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/tendersync/internal/api/middleware"
	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/runlog"
)

// RunHistory is the read side of the run history.
type RunHistory interface {
	List(limit int) ([]domain.RunRecord, error)
	Latest() (*domain.RunRecord, error)
}

// SystemHandler exposes sync run history and freshness.
type SystemHandler struct {
	history   RunHistory
	threshold time.Duration
	now       func() time.Time
}

// NewSystemHandler creates a system handler. threshold is the default
// freshness window for health checks.
func NewSystemHandler(history RunHistory, threshold time.Duration) *SystemHandler {
	return &SystemHandler{history: history, threshold: threshold, now: time.Now}
}

// UpdateLogs handles GET /api/v1/system/update-logs.
func (h *SystemHandler) UpdateLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	logs, err := h.history.List(limit)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to read run history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}
	if logs == nil {
		logs = []domain.RunRecord{}
	}

	resp := gin.H{
		"logs":               logs,
		"latest_status":      nil,
		"last_run_age_hours": nil,
	}
	if len(logs) > 0 {
		health := runlog.Evaluate(&logs[0], h.threshold, h.now())
		resp["latest_status"] = logs[0].Status
		resp["last_run_age_hours"] = health.AgeHours
	}
	c.JSON(http.StatusOK, resp)
}

// Health handles GET /api/v1/system/health. Anything but healthy answers 503
// so that uptime probes alert on it.
func (h *SystemHandler) Health(c *gin.Context) {
	threshold := h.threshold
	if v := c.Query("threshold_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold_hours must be a positive number"})
			return
		}
		threshold = time.Duration(hours * float64(time.Hour))
	}

	latest, err := h.history.Latest()
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to read run history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}
	health := runlog.Evaluate(latest, threshold, h.now())

	code := http.StatusOK
	if health.Status != domain.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":             health.Status,
		"latest":             health.Latest,
		"last_run_age_hours": health.AgeHours,
		"threshold_hours":    threshold.Hours(),
	})
}
