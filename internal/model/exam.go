package model

import (
	"github.com/google/uuid"
)

// ExamQuestion is one entry of an exam's answer key.
type ExamQuestion struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
	Points int    `json:"points"` // defaults to 1 if zero
}

// Exam is the descriptor the integrity engine needs about an exam:
// duration, question count, and the answer key for grading. Exam content
// management itself lives outside this service.
type Exam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration_minutes"`
	QuestionCount   int            `json:"question_count"`
	Questions       []ExamQuestion `json:"questions,omitempty"`
}
