package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/learnify/learnify/internal/clock"
	studydomain "github.com/learnify/learnify/internal/study/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) studydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("study.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) RecordSession(ctx context.Context, req studydomain.RecordSessionRequest) (*studydomain.StudySession, error) {
	if req.OwnerID == 0 || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Topic) == "" {
		return nil, studydomain.ErrInvalidSession
	}

	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = s.clock.Now()
	}
	duration := endedAt.Sub(req.StartedAt)
	if req.StartedAt.IsZero() || duration < 0 {
		return nil, studydomain.ErrInvalidSession
	}
	if duration < studydomain.MinSessionDuration {
		return nil, studydomain.ErrSessionTooShort
	}

	session := &studydomain.StudySession{
		ID:              s.genID.Generate(),
		OwnerID:         req.OwnerID,
		Subject:         strings.TrimSpace(req.Subject),
		Topic:           strings.TrimSpace(req.Topic),
		Level:           strings.TrimSpace(req.Level),
		DurationSeconds: int64(duration / time.Second),
		StartedAt:       req.StartedAt.UTC(),
		EndedAt:         endedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) SaveQuizResult(ctx context.Context, req studydomain.SaveQuizResultRequest) (*studydomain.QuizResult, error) {
	if req.OwnerID == 0 || strings.TrimSpace(req.Subject) == "" {
		return nil, studydomain.ErrInvalidQuiz
	}
	if req.TotalQuestions <= 0 || req.Score < 0 || req.Score > req.TotalQuestions {
		return nil, studydomain.ErrInvalidQuiz
	}

	result := &studydomain.QuizResult{
		ID:             s.genID.Generate(),
		OwnerID:        req.OwnerID,
		Subject:        strings.TrimSpace(req.Subject),
		Topic:          strings.TrimSpace(req.Topic),
		Level:          strings.TrimSpace(req.Level),
		Score:          req.Score,
		TotalQuestions: req.TotalQuestions,
		TakenAt:        s.clock.Now(),
	}
	if len(req.Results) > 0 {
		result.Results = []byte(req.Results)
	}
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ListSessions(ctx context.Context, ownerID snowflake.ID) ([]studydomain.StudySession, error) {
	var sessions []studydomain.StudySession
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("started_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Service) ListQuizResults(ctx context.Context, ownerID snowflake.ID) ([]studydomain.QuizResult, error) {
	var results []studydomain.QuizResult
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("taken_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Progress aggregates sessions and quiz scores per subject.
func (s *Service) Progress(ctx context.Context, ownerID snowflake.ID) ([]studydomain.SubjectProgress, error) {
	type sessionRow struct {
		Subject  string
		Sessions int64
		Duration int64
	}
	var sessionRows []sessionRow
	err := s.db.WithContext(ctx).
		Model(&studydomain.StudySession{}).
		Select("subject, COUNT(*) AS sessions, COALESCE(SUM(duration_seconds), 0) AS duration").
		Where("owner_id = ?", ownerID).
		Group("subject").
		Scan(&sessionRows).Error
	if err != nil {
		return nil, err
	}

	type quizRow struct {
		Subject string
		Quizzes int64
		Scored  int64
		Asked   int64
	}
	var quizRows []quizRow
	err = s.db.WithContext(ctx).
		Model(&studydomain.QuizResult{}).
		Select("subject, COUNT(*) AS quizzes, COALESCE(SUM(score), 0) AS scored, COALESCE(SUM(total_questions), 0) AS asked").
		Where("owner_id = ?", ownerID).
		Group("subject").
		Scan(&quizRows).Error
	if err != nil {
		return nil, err
	}

	bySubject := make(map[string]*studydomain.SubjectProgress)
	order := make([]string, 0, len(sessionRows))
	for _, row := range sessionRows {
		bySubject[row.Subject] = &studydomain.SubjectProgress{
			Subject:              row.Subject,
			Sessions:             row.Sessions,
			TotalDurationSeconds: row.Duration,
		}
		order = append(order, row.Subject)
	}
	for _, row := range quizRows {
		progress, ok := bySubject[row.Subject]
		if !ok {
			progress = &studydomain.SubjectProgress{Subject: row.Subject}
			bySubject[row.Subject] = progress
			order = append(order, row.Subject)
		}
		progress.Quizzes = row.Quizzes
		if row.Asked > 0 {
			progress.AverageScorePercent = float64(row.Scored) / float64(row.Asked) * 100
		}
	}

	result := make([]studydomain.SubjectProgress, 0, len(order))
	for _, subject := range order {
		result = append(result, *bySubject[subject])
	}
	return result, nil
}
