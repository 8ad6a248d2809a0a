package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListModels(c *gin.Context) {
	table := s.pricingSvc
	c.JSON(http.StatusOK, gin.H{
		"models":        table.Models(),
		"default_model": table.DefaultModel().ID,
		"quiz_credits":  table.QuizCost(),
	})
}

func (s *Server) ListPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": s.pricingSvc.Packages()})
}
