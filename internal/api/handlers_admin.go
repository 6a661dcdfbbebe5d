package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cronix/internal/task"
)

func (s *Server) listNotifications(c *gin.Context) {
	list, err := s.store.ListNotifications(c.Request.Context())
	if err != nil {
		s.storeErr(c, err, "notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": len(list)})
}

func (s *Server) updateNotification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		Config map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Config == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	n, err := s.store.GetNotification(c.Request.Context(), id)
	if err != nil {
		s.storeErr(c, err, "notification")
		return
	}
	if err := task.ValidateNotificationConfig(n.Type, body.Config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateNotificationConfig(c.Request.Context(), id, body.Config); err != nil {
		s.storeErr(c, err, "notification")
		return
	}
	n.Config = body.Config
	c.JSON(http.StatusOK, n)
}

// statsSummary aggregates task counts, execution outcomes and the live run
// set for the dashboard.
func (s *Server) statsSummary(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context())
	if err != nil {
		s.storeErr(c, err, "tasks")
		return
	}
	active := 0
	for _, t := range tasks {
		if t.IsActive {
			active++
		}
	}

	byStatus, err := s.store.CountExecutionsByStatus(c.Request.Context())
	if err != nil {
		s.storeErr(c, err, "executions")
		return
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	successRate := 0.0
	if finished := byStatus[task.StatusSuccess] + byStatus[task.StatusFailed] +
		byStatus[task.StatusTimeout] + byStatus[task.StatusCancelled]; finished > 0 {
		successRate = float64(byStatus[task.StatusSuccess]) / float64(finished) * 100
	}

	scriptStats, err := s.scripts.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": gin.H{
			"total":    len(tasks),
			"active":   active,
			"inactive": len(tasks) - active,
			"running":  len(s.reg.RunningIDs()),
		},
		"executions": gin.H{
			"total":        total,
			"by_status":    byStatus,
			"success_rate": successRate,
		},
		"scripts":         scriptStats,
		"skipped_firings": s.sched.SkippedFirings(),
	})
}

func (s *Server) recentActivity(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	items := s.feed.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}
