// Package quiz parses model-generated quiz payloads. Models do not reliably
// return bare JSON, so parsing falls back from the raw text to fenced code
// blocks to the outermost brace span.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnparseable = errors.New("quiz_unparseable")

type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Quiz struct {
	Questions []Question `json:"questions"`
}

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFence  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// Parse extracts a quiz from raw model output. Strategies are tried in
// order: the whole text as JSON, a ```json fence, any fence, then the
// outermost {...} span.
func Parse(raw string) (*Quiz, error) {
	candidates := extractCandidates(raw)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no json found in response", ErrUnparseable)
	}

	var lastErr error
	for _, candidate := range candidates {
		quiz, err := decode(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return quiz, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnparseable, lastErr)
}

func extractCandidates(raw string) []string {
	var candidates []string
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := anyFence.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if open := strings.Index(raw, "{"); open >= 0 {
		if close := strings.LastIndex(raw, "}"); close > open {
			candidates = append(candidates, raw[open:close+1])
		}
	}
	return candidates
}

func decode(candidate string) (*Quiz, error) {
	var quiz Quiz
	if err := json.Unmarshal([]byte(candidate), &quiz); err != nil {
		return nil, err
	}
	if err := validate(&quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func validate(quiz *Quiz) error {
	if len(quiz.Questions) == 0 {
		return errors.New("quiz has no questions")
	}
	for i, q := range quiz.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d has no text", i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d has %d options", i, len(q.Options))
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.CorrectAnswer {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("question %d correct answer not among options", i)
		}
	}
	return nil
}
