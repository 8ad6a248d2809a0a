package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/learnify/learnify/internal/clock"
	studydomain "github.com/learnify/learnify/internal/study/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupStudyService(t *testing.T) (studydomain.Service, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&studydomain.StudySession{}, &studydomain.QuizResult{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fake})
	return svc, fake, node
}

func TestRecordSession(t *testing.T) {
	svc, fake, node := setupStudyService(t)
	owner := node.Generate()
	start := fake.Now().Add(-25 * time.Minute)

	session, err := svc.RecordSession(context.Background(), studydomain.RecordSessionRequest{
		OwnerID:   owner,
		Subject:   "Mathematics",
		Topic:     "Derivatives",
		Level:     "intermediate",
		StartedAt: start,
		EndedAt:   fake.Now(),
	})
	if err != nil {
		t.Fatalf("record session: %v", err)
	}
	if session.DurationSeconds != 25*60 {
		t.Fatalf("expected 1500s duration, got %d", session.DurationSeconds)
	}

	sessions, err := svc.ListSessions(context.Background(), owner)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestRecordSessionTooShort(t *testing.T) {
	svc, fake, node := setupStudyService(t)

	_, err := svc.RecordSession(context.Background(), studydomain.RecordSessionRequest{
		OwnerID:   node.Generate(),
		Subject:   "Mathematics",
		Topic:     "Derivatives",
		StartedAt: fake.Now().Add(-10 * time.Second),
		EndedAt:   fake.Now(),
	})
	if !errors.Is(err, studydomain.ErrSessionTooShort) {
		t.Fatalf("expected ErrSessionTooShort, got %v", err)
	}
}

func TestSaveQuizResultValidation(t *testing.T) {
	svc, _, node := setupStudyService(t)
	owner := node.Generate()

	if _, err := svc.SaveQuizResult(context.Background(), studydomain.SaveQuizResultRequest{
		OwnerID: owner, Subject: "Math", Score: 6, TotalQuestions: 5,
	}); !errors.Is(err, studydomain.ErrInvalidQuiz) {
		t.Fatalf("expected ErrInvalidQuiz for score > total, got %v", err)
	}

	result, err := svc.SaveQuizResult(context.Background(), studydomain.SaveQuizResultRequest{
		OwnerID:        owner,
		Subject:        "Math",
		Topic:          "Derivatives",
		Score:          4,
		TotalQuestions: 5,
		Results:        []byte(`[{"question":"q1","correct":true}]`),
	})
	if err != nil {
		t.Fatalf("save quiz result: %v", err)
	}
	if result.Score != 4 || result.TotalQuestions != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProgressAggregatesPerSubject(t *testing.T) {
	svc, fake, node := setupStudyService(t)
	owner := node.Generate()

	for i, subject := range []string{"Math", "Math", "History"} {
		start := fake.Now().Add(time.Duration(-(i + 1)) * time.Hour)
		if _, err := svc.RecordSession(context.Background(), studydomain.RecordSessionRequest{
			OwnerID:   owner,
			Subject:   subject,
			Topic:     "t",
			StartedAt: start,
			EndedAt:   start.Add(10 * time.Minute),
		}); err != nil {
			t.Fatalf("record session: %v", err)
		}
	}

	if _, err := svc.SaveQuizResult(context.Background(), studydomain.SaveQuizResultRequest{
		OwnerID: owner, Subject: "Math", Topic: "t", Score: 3, TotalQuestions: 5,
	}); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	if _, err := svc.SaveQuizResult(context.Background(), studydomain.SaveQuizResultRequest{
		OwnerID: owner, Subject: "Math", Topic: "t", Score: 5, TotalQuestions: 5,
	}); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	progress, err := svc.Progress(context.Background(), owner)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	byName := map[string]studydomain.SubjectProgress{}
	for _, p := range progress {
		byName[p.Subject] = p
	}

	math := byName["Math"]
	if math.Sessions != 2 || math.Quizzes != 2 {
		t.Fatalf("unexpected math progress: %+v", math)
	}
	if math.TotalDurationSeconds != 2*10*60 {
		t.Fatalf("unexpected math duration: %d", math.TotalDurationSeconds)
	}
	if math.AverageScorePercent != 80 {
		t.Fatalf("expected 80%% average, got %v", math.AverageScorePercent)
	}

	history := byName["History"]
	if history.Sessions != 1 || history.Quizzes != 0 {
		t.Fatalf("unexpected history progress: %+v", history)
	}
}
