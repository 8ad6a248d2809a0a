package service

import "fmt"

const tutorSystemPrompt = "You are a patient, encouraging tutor. Explain concepts step by step, " +
	"ask guiding questions instead of giving answers away, and adapt your language to the student's level."

func notesPrompt(subject, topic, level string) string {
	return fmt.Sprintf(
		"Create concise study notes for %s level %s on the topic %q. "+
			"Structure the notes with headings, key definitions, worked examples, and a short summary of common mistakes.",
		level, subject, topic,
	)
}

func quizPrompt(subject, topic, level string) string {
	return fmt.Sprintf(
		"Create a 5-question multiple-choice quiz for %s level %s on the topic %q. "+
			"For each question, provide 4 options with only one correct answer. "+
			"Also include a brief explanation for each correct answer that will help the student understand the concept better. "+
			"Format the response as a JSON object with a \"questions\" array, where each question has "+
			"\"question\", \"options\" (array), \"correctAnswer\" (one of the options), and \"explanation\" fields.",
		level, subject, topic,
	)
}
