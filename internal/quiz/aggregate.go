package quiz

import (
	"time"

	"github.com/pavelanni/readingquiz/internal/model"
)

// Aggregate builds the final report from per-question outcomes. A question
// without an outcome counts as incorrect. Score is the number of correct
// questions and Total the number of questions.
func Aggregate(info model.StudentInfo, questions []model.Question, answers model.Answers, outcomes map[int]model.GradingOutcome, now time.Time) model.QuizResult {
	res := model.QuizResult{
		StudentInfo:    info,
		SubmissionDate: now.Format(model.SubmissionTimeLayout),
		SubmittedAt:    now,
		Questions:      questions,
		StudentAnswers: answers.Clone(),
		Correctness:    make(map[int]bool, len(questions)),
		Corrections:    make(map[int]string),
		Total:          len(questions),
	}

	for _, q := range questions {
		out := outcomes[q.ID]
		res.Correctness[q.ID] = out.IsCorrect
		if out.IsCorrect {
			res.Score++
			if out.CorrectedSpelling != "" {
				res.Corrections[q.ID] = out.CorrectedSpelling
			}
		}
		if out.Err != "" {
			if res.GradingErrors == nil {
				res.GradingErrors = make(map[int]string)
			}
			res.GradingErrors[q.ID] = out.Err
		}
	}
	return res
}
