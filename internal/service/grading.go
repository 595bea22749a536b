package service

import (
	"github.com/stemsi/examguard-backend/internal/model"
)

// GradeFunc computes per-question results and totals for a set of answers.
// Grading is a pure function so lecturers can swap the strategy without
// touching the lifecycle or reconciler.
type GradeFunc func(exam *model.Exam, answers map[string]string) (results []model.QuestionResult, awarded int, possible int)

// GradeByAnswerKey is the default grader: exact answer-key comparison with
// per-question points (1 if unset).
func GradeByAnswerKey(exam *model.Exam, answers map[string]string) ([]model.QuestionResult, int, int) {
	results := make([]model.QuestionResult, 0, len(exam.Questions))
	awarded, possible := 0, 0

	for _, q := range exam.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		possible += points

		r := model.QuestionResult{
			QuestionID:     q.ID,
			PointsPossible: points,
		}

		ans, ok := answers[q.ID]
		switch {
		case !ok || ans == "":
			r.Outcome = model.OutcomeEmpty
		case ans == q.Answer:
			r.Outcome = model.OutcomeCorrect
			r.Answer = ans
			r.PointsAwarded = points
			awarded += points
		default:
			r.Outcome = model.OutcomeWrong
			r.Answer = ans
		}

		results = append(results, r)
	}

	return results, awarded, possible
}

// disqualifiedResults marks every exam question disqualified with zero award.
func disqualifiedResults(exam *model.Exam) ([]model.QuestionResult, int) {
	results := make([]model.QuestionResult, 0, len(exam.Questions))
	possible := 0
	for _, q := range exam.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		possible += points
		results = append(results, model.QuestionResult{
			QuestionID:     q.ID,
			Outcome:        model.OutcomeDisqualified,
			PointsAwarded:  0,
			PointsPossible: points,
		})
	}
	return results, possible
}

// emptyResults produces the all-empty zero-score result set used by
// placeholder submissions.
func emptyResults(exam *model.Exam) ([]model.QuestionResult, int) {
	results := make([]model.QuestionResult, 0, len(exam.Questions))
	possible := 0
	for _, q := range exam.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		possible += points
		results = append(results, model.QuestionResult{
			QuestionID:     q.ID,
			Outcome:        model.OutcomeEmpty,
			PointsAwarded:  0,
			PointsPossible: points,
		})
	}
	return results, possible
}
