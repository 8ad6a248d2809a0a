// Package domain holds the study-tracking records: sessions spent on a
// topic and the quiz results that close them out.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidSession  = errors.New("invalid_study_session")
	ErrInvalidQuiz     = errors.New("invalid_quiz_result")
	ErrSessionTooShort = errors.New("session_too_short")
)

// MinSessionDuration filters out accidental page visits.
const MinSessionDuration = 15 * time.Second

type StudySession struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID         snowflake.ID `gorm:"not null;index" json:"owner_id"`
	Subject         string       `gorm:"type:text;not null" json:"subject"`
	Topic           string       `gorm:"type:text;not null" json:"topic"`
	Level           string       `gorm:"type:text" json:"level,omitempty"`
	DurationSeconds int64        `gorm:"not null" json:"duration_seconds"`
	StartedAt       time.Time    `gorm:"not null;index" json:"started_at"`
	EndedAt         time.Time    `gorm:"not null" json:"ended_at"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (StudySession) TableName() string { return "study_sessions" }

type QuizResult struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	OwnerID        snowflake.ID   `gorm:"not null;index" json:"owner_id"`
	Subject        string         `gorm:"type:text;not null" json:"subject"`
	Topic          string         `gorm:"type:text;not null" json:"topic"`
	Level          string         `gorm:"type:text" json:"level,omitempty"`
	Score          int64          `gorm:"not null" json:"score"`
	TotalQuestions int64          `gorm:"not null" json:"total_questions"`
	// Results holds the per-question answers as submitted by the client.
	Results   datatypes.JSON `gorm:"type:jsonb" json:"results,omitempty"`
	TakenAt   time.Time      `gorm:"not null" json:"taken_at"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

func (QuizResult) TableName() string { return "quiz_results" }

type RecordSessionRequest struct {
	OwnerID   snowflake.ID `json:"-"`
	Subject   string       `json:"subject"`
	Topic     string       `json:"topic"`
	Level     string       `json:"level"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

type SaveQuizResultRequest struct {
	OwnerID        snowflake.ID    `json:"-"`
	Subject        string          `json:"subject"`
	Topic          string          `json:"topic"`
	Level          string          `json:"level"`
	Score          int64           `json:"score"`
	TotalQuestions int64           `json:"total_questions"`
	Results        json.RawMessage `json:"results"`
}

// SubjectProgress aggregates an owner's history for one subject.
type SubjectProgress struct {
	Subject              string  `json:"subject"`
	Sessions             int64   `json:"sessions"`
	TotalDurationSeconds int64   `json:"total_duration_seconds"`
	Quizzes              int64   `json:"quizzes"`
	AverageScorePercent  float64 `json:"average_score_percent"`
}

type Service interface {
	// RecordSession stores a study session. Sessions shorter than
	// MinSessionDuration return ErrSessionTooShort and are not stored.
	RecordSession(ctx context.Context, req RecordSessionRequest) (*StudySession, error)
	SaveQuizResult(ctx context.Context, req SaveQuizResultRequest) (*QuizResult, error)
	ListSessions(ctx context.Context, ownerID snowflake.ID) ([]StudySession, error)
	ListQuizResults(ctx context.Context, ownerID snowflake.ID) ([]QuizResult, error)
	Progress(ctx context.Context, ownerID snowflake.ID) ([]SubjectProgress, error)
}
