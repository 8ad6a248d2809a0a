package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	studydomain "github.com/learnify/learnify/internal/study/domain"
)

func (s *Server) RecordSession(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req studydomain.RecordSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OwnerID = ownerID

	session, err := s.studySvc.RecordSession(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (s *Server) ListSessions(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sessions, err := s.studySvc.ListSessions(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) SaveQuizResult(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req studydomain.SaveQuizResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OwnerID = ownerID

	result, err := s.studySvc.SaveQuizResult(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListQuizResults(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	results, err := s.studySvc.ListQuizResults(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quiz_results": results})
}

func (s *Server) GetProgress(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	progress, err := s.studySvc.Progress(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

func (s *Server) CreateSubject(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, newValidationError("name", "invalid_name", "name is required"))
		return
	}

	created, err := s.subjectSvc.Create(c.Request.Context(), ownerID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListSubjects(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subjects, err := s.subjectSvc.List(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}
