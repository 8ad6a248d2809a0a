package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	"github.com/learnify/learnify/internal/quiz"
	tutordomain "github.com/learnify/learnify/internal/tutor/domain"
	"go.uber.org/zap"
)

const (
	featureTutorChat  = "tutor_chat"
	featureTutorNotes = "tutor_notes"
	featureQuiz       = "quiz_generation"
)

func (s *Server) TutorChat(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tutordomain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Messages) == 0 {
		AbortWithError(c, newValidationError("messages", "invalid_messages", "at least one message is required"))
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.pricingSvc.DefaultModel().ID
	}
	req.Model = model
	cost := s.pricingSvc.ModelCost(model)
	c.Set("feature", featureTutorChat)

	result, err := s.creditSvc.ReserveAndExecute(c.Request.Context(), creditdomain.ReserveRequest{
		OwnerID: ownerID,
		Amount:  cost,
		Feature: featureTutorChat,
		Model:   model,
	}, func(ctx context.Context) (any, error) {
		return s.tutorSvc.Chat(ctx, req)
	})
	s.recordTutorOutcome(c.Request.Context(), model, err)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	completion, ok := result.(*tutordomain.Completion)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"completion":      completion,
		"credits_charged": cost,
	})
}

func (s *Server) TutorNotes(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tutordomain.StudyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.pricingSvc.DefaultModel().ID
	}
	req.Model = model
	cost := s.pricingSvc.ModelCost(model)
	c.Set("feature", featureTutorNotes)

	result, err := s.creditSvc.ReserveAndExecute(c.Request.Context(), creditdomain.ReserveRequest{
		OwnerID: ownerID,
		Amount:  cost,
		Feature: featureTutorNotes,
		Model:   model,
	}, func(ctx context.Context) (any, error) {
		return s.tutorSvc.GenerateNotes(ctx, req)
	})
	s.recordTutorOutcome(c.Request.Context(), model, err)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	completion, ok := result.(*tutordomain.Completion)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notes":           completion,
		"credits_charged": cost,
	})
}

// TutorQuiz always runs on the cheapest model. The quiz cost is flat, so
// letting callers pick an expensive model would undercharge them.
func (s *Server) TutorQuiz(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tutordomain.StudyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	model := s.pricingSvc.BasicModel().ID
	req.Model = model
	cost := s.pricingSvc.QuizCost()
	c.Set("feature", featureQuiz)

	result, err := s.creditSvc.ReserveAndExecute(c.Request.Context(), creditdomain.ReserveRequest{
		OwnerID: ownerID,
		Amount:  cost,
		Feature: featureQuiz,
		Model:   model,
	}, func(ctx context.Context) (any, error) {
		return s.tutorSvc.GenerateQuiz(ctx, req)
	})
	s.recordTutorOutcome(c.Request.Context(), model, err)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	completion, ok := result.(*tutordomain.Completion)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// The provider answered, so the billable call completed and the charge
	// stands. Extraction failure is a response-quality problem, not an
	// action failure.
	generated, err := quiz.Parse(completion.Content)
	if err != nil {
		s.log.Warn("quiz response unparseable",
			zap.String("model", completion.Model),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz":            generated,
		"credits_charged": cost,
	})
}

func (s *Server) recordTutorOutcome(ctx context.Context, model string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.obsMetrics.RecordTutorRequest(ctx, model, outcome)
}
