package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cronix/internal/storage"
	"cronix/internal/task"
)

func executionFilter(c *gin.Context) (storage.ExecutionFilter, bool) {
	var f storage.ExecutionFilter
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if raw := c.Query("task_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
			return f, false
		}
		f.TaskID = &id
	}
	if raw := c.Query("status"); raw != "" {
		st := task.ExecutionStatus(raw)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return f, false
		}
		f.Status = &st
	}
	return f, true
}

func (s *Server) listExecutions(c *gin.Context) {
	f, ok := executionFilter(c)
	if !ok {
		return
	}
	page, err := s.store.ListExecutions(c.Request.Context(), f)
	if err != nil {
		s.storeErr(c, err, "executions")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getExecution(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	e, err := s.store.GetExecution(c.Request.Context(), id)
	if err != nil {
		s.storeErr(c, err, "execution")
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) listTaskExecutions(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if _, err := s.store.GetTask(c.Request.Context(), id); err != nil {
		s.storeErr(c, err, "task")
		return
	}
	f, ok := executionFilter(c)
	if !ok {
		return
	}
	f.TaskID = &id
	page, err := s.store.ListExecutions(c.Request.Context(), f)
	if err != nil {
		s.storeErr(c, err, "executions")
		return
	}
	c.JSON(http.StatusOK, page)
}
