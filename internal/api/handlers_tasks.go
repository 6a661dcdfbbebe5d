package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cronix/internal/cronspec"
	"cronix/internal/scheduler"
	"cronix/internal/storage"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) storeErr(c *gin.Context, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	s.log.Error("store operation failed", logx.String("what", what), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// taskBody is the write shape for create and update.
type taskBody struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	CronExpression string           `json:"cron_expression"`
	ExecutionType  task.ExecType    `json:"execution_type"`
	Command        string           `json:"command"`
	IsActive       *bool            `json:"is_active"`
	Timeout        int              `json:"timeout"`
	RetryCount     int              `json:"retry_count"`
	RetryInterval  int              `json:"retry_interval"`
	Notifications  []task.NotifyRef `json:"notifications"`
}

func (b *taskBody) apply(t *task.Task) {
	t.Description = b.Description
	t.CronExpression = b.CronExpression
	t.ExecutionType = b.ExecutionType
	t.Command = b.Command
	if b.IsActive != nil {
		t.IsActive = *b.IsActive
	}
	t.Timeout = b.Timeout
	t.RetryCount = b.RetryCount
	t.RetryInterval = b.RetryInterval
	t.Notifications = b.Notifications
}

// validateTask runs domain validation plus cron parsing and notification
// reference checks. Malformed cron fails here, at save time.
func (s *Server) validateTask(c *gin.Context, t *task.Task) bool {
	if err := t.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := cronspec.Validate(t.CronExpression); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	for _, ref := range t.Notifications {
		if !ref.Policy.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid notification policy %q", ref.Policy)})
			return false
		}
		if _, err := s.store.GetNotification(c.Request.Context(), ref.NotificationID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("notification %d not found", ref.NotificationID)})
				return false
			}
			s.storeErr(c, err, "notification")
			return false
		}
	}
	return true
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context())
	if err != nil {
		s.storeErr(c, err, "tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": tasks, "total": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	t, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.storeErr(c, err, "task")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) createTask(c *gin.Context) {
	var body taskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	t := &task.Task{Name: body.Name, IsActive: true}
	body.apply(t)
	if !s.validateTask(c, t) {
		return
	}
	if _, err := s.store.GetTaskByName(c.Request.Context(), t.Name); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("task %q already exists", t.Name)})
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.storeErr(c, err, "task")
		return
	}
	if err := s.store.CreateTask(c.Request.Context(), t); err != nil {
		s.storeErr(c, err, "task")
		return
	}
	s.log.Info("task created", logx.Int64("task_id", t.ID), logx.String("task", t.Name))
	c.JSON(http.StatusCreated, t)
}

func (s *Server) updateTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body taskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	t, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.storeErr(c, err, "task")
		return
	}
	// Name is identity: once created it never changes.
	if body.Name != "" && body.Name != t.Name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task name is immutable"})
		return
	}
	body.apply(t)
	if !s.validateTask(c, t) {
		return
	}
	if err := s.store.UpdateTask(c.Request.Context(), t); err != nil {
		s.storeErr(c, err, "task")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	// A live run keeps going; its task row disappearing only stops future
	// firings. Cancel first if the run should die too.
	if err := s.store.DeleteTask(c.Request.Context(), id); err != nil {
		s.storeErr(c, err, "task")
		return
	}
	s.log.Info("task deleted", logx.Int64("task_id", id))
	c.Status(http.StatusNoContent)
}

func (s *Server) runTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	switch err := s.sched.RunNow(c.Request.Context(), id); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"message": "execution started"})
	case errors.Is(err, scheduler.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, scheduler.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "task already running"})
	default:
		s.storeErr(c, err, "task")
	}
}

func (s *Server) cancelTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if !s.sched.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running execution for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

func (s *Server) listRunning(c *gin.Context) {
	ids := s.reg.RunningIDs()
	c.JSON(http.StatusOK, ids)
}
