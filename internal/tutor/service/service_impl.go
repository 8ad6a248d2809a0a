package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/learnify/learnify/internal/config"
	"github.com/learnify/learnify/internal/pricing"
	tutordomain "github.com/learnify/learnify/internal/tutor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Pricing *pricing.Service
	Log     *zap.Logger
}

type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
	pricing *pricing.Service
	log     *zap.Logger
}

func NewService(p Params) tutordomain.Service {
	timeout := p.Cfg.Tutor.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		baseURL: strings.TrimRight(strings.TrimSpace(p.Cfg.Tutor.BaseURL), "/"),
		apiKey:  strings.TrimSpace(p.Cfg.Tutor.APIKey),
		client:  &http.Client{Timeout: timeout},
		pricing: p.Pricing,
		log:     p.Log.Named("tutor.service"),
	}
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) Chat(ctx context.Context, req tutordomain.ChatRequest) (*tutordomain.Completion, error) {
	if len(req.Messages) == 0 {
		return nil, tutordomain.ErrInvalidRequest
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.pricing.DefaultModel().ID
	}

	messages := make([]tutordomain.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, tutordomain.ChatMessage{Role: "system", Content: tutorSystemPrompt})
	messages = append(messages, req.Messages...)

	return s.complete(ctx, model, messages)
}

func (s *Service) GenerateNotes(ctx context.Context, req tutordomain.StudyRequest) (*tutordomain.Completion, error) {
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Topic) == "" {
		return nil, tutordomain.ErrInvalidRequest
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.pricing.DefaultModel().ID
	}
	return s.complete(ctx, model, []tutordomain.ChatMessage{
		{Role: "user", Content: notesPrompt(req.Subject, req.Topic, req.Level)},
	})
}

func (s *Service) GenerateQuiz(ctx context.Context, req tutordomain.StudyRequest) (*tutordomain.Completion, error) {
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Topic) == "" {
		return nil, tutordomain.ErrInvalidRequest
	}

	return s.complete(ctx, s.pricing.BasicModel().ID, []tutordomain.ChatMessage{
		{Role: "user", Content: quizPrompt(req.Subject, req.Topic, req.Level)},
	})
}

func (s *Service) complete(ctx context.Context, model string, messages []tutordomain.ChatMessage) (*tutordomain.Completion, error) {
	body, err := json.Marshal(tutordomain.ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tutordomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var provErr errorResponse
		message := "provider_request_failed"
		if err := json.NewDecoder(resp.Body).Decode(&provErr); err == nil {
			if m := strings.TrimSpace(provErr.Error.Message); m != "" {
				message = m
			}
		}
		return nil, fmt.Errorf("%w: %s (status %d)", tutordomain.ErrProviderUnavailable, message, resp.StatusCode)
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", tutordomain.ErrProviderUnavailable, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, tutordomain.ErrEmptyCompletion
	}

	respModel := decoded.Model
	if respModel == "" {
		respModel = model
	}
	return &tutordomain.Completion{
		Model:            respModel,
		Content:          decoded.Choices[0].Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}
