// Package domain defines the AI tutoring contracts. The tutor never touches
// the credits ledger; callers gate every completion behind a reservation.
package domain

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable means the upstream model provider could not be
	// reached or answered with a server error.
	ErrProviderUnavailable = errors.New("provider_unavailable")
	// ErrEmptyCompletion means the provider answered but returned no usable
	// content.
	ErrEmptyCompletion = errors.New("empty_completion")
	ErrInvalidRequest  = errors.New("invalid_tutor_request")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type Completion struct {
	Model            string `json:"model"`
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// StudyRequest parameterizes the generated prompts.
type StudyRequest struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
	Level   string `json:"level"`
	Model   string `json:"model"`
}

type Service interface {
	Chat(ctx context.Context, req ChatRequest) (*Completion, error)
	// GenerateNotes produces structured study notes for a topic.
	GenerateNotes(ctx context.Context, req StudyRequest) (*Completion, error)
	// GenerateQuiz requests a five-question multiple-choice quiz and returns
	// the raw completion. Callers extract the quiz from it; a completion the
	// provider delivered successfully is a completed billable call whether
	// or not it parses.
	GenerateQuiz(ctx context.Context, req StudyRequest) (*Completion, error)
}
