package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cronix/internal/scripts"
)

type scriptBody struct {
	Name    string       `json:"name"`
	Type    scripts.Type `json:"type"`
	Content string       `json:"content"`
}

func scriptErr(c *gin.Context, err error) {
	var nerr *scripts.NameError
	switch {
	case errors.Is(err, scripts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scripts.ErrExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &nerr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) listScripts(c *gin.Context) {
	infos, err := s.scripts.List()
	if err != nil {
		scriptErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": infos, "total": len(infos)})
}

func (s *Server) getScript(c *gin.Context) {
	sc, err := s.scripts.Get(c.Param("name"))
	if err != nil {
		scriptErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) createScript(c *gin.Context) {
	var body scriptBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sc, err := s.scripts.Create(body.Name, body.Type, body.Content)
	if err != nil {
		scriptErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (s *Server) updateScript(c *gin.Context) {
	var body scriptBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sc, err := s.scripts.Update(c.Param("name"), body.Name, body.Type, body.Content)
	if err != nil {
		scriptErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) deleteScript(c *gin.Context) {
	if err := s.scripts.Delete(c.Param("name")); err != nil {
		scriptErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
