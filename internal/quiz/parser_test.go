package quiz

import (
	"errors"
	"testing"
)

const validQuizJSON = `{
  "questions": [
    {
      "question": "What is the derivative of x^2?",
      "options": ["x", "2x", "x^2", "2"],
      "correctAnswer": "2x",
      "explanation": "Apply the power rule."
    }
  ]
}`

func TestParseBareJSON(t *testing.T) {
	quiz, err := Parse(validQuizJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(quiz.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(quiz.Questions))
	}
	if quiz.Questions[0].CorrectAnswer != "2x" {
		t.Fatalf("unexpected answer: %q", quiz.Questions[0].CorrectAnswer)
	}
}

func TestParseJSONFence(t *testing.T) {
	raw := "Here is your quiz:\n```json\n" + validQuizJSON + "\n```\nGood luck!"
	quiz, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if len(quiz.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(quiz.Questions))
	}
}

func TestParsePlainFence(t *testing.T) {
	raw := "```\n" + validQuizJSON + "\n```"
	if _, err := Parse(raw); err != nil {
		t.Fatalf("parse plain fence: %v", err)
	}
}

func TestParseBraceSpan(t *testing.T) {
	raw := "Sure! The quiz follows. " + validQuizJSON + " Let me know if you need more."
	if _, err := Parse(raw); err != nil {
		t.Fatalf("parse brace span: %v", err)
	}
}

func TestParseRejectsProse(t *testing.T) {
	_, err := Parse("I cannot generate a quiz right now.")
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestParseRejectsAnswerNotInOptions(t *testing.T) {
	raw := `{"questions":[{"question":"Q?","options":["a","b"],"correctAnswer":"c","explanation":""}]}`
	if _, err := Parse(raw); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestParseRejectsEmptyQuestions(t *testing.T) {
	if _, err := Parse(`{"questions":[]}`); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}
