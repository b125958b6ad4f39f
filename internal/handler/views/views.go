// Package views holds the templ components of the quiz pages.
package views

//go:generate templ generate

import (
	"context"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/readingquiz/internal/i18n"
	"github.com/pavelanni/readingquiz/internal/model"
)

// FormView is the data of the start form.
type FormView struct {
	Info        model.StudentInfo
	Error       string
	MaxUploadMB int
}

// QuizView is the data of the quiz page.
type QuizView struct {
	Info      model.StudentInfo
	Questions []model.Question
	Answers   model.Answers
	Error     string
}

// ResultsView is the data of the results page.
type ResultsView struct {
	Result model.QuizResult
}

func path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func answerField(id int) string {
	return "answer-" + strconv.Itoa(id)
}

func optionID(id, i int) string {
	return answerField(id) + "-" + strconv.Itoa(i)
}

func answered(questions []model.Question, answers model.Answers) int {
	n := 0
	for _, q := range questions {
		if strings.TrimSpace(answers[q.ID]) != "" {
			n++
		}
	}
	return n
}

func scoreLine(ctx context.Context, res model.QuizResult) string {
	return appI18n.Td(ctx, "ScoreLine", map[string]any{"Score": res.Score, "Total": res.Total})
}

func verdict(ctx context.Context, correct bool) string {
	if correct {
		return "(" + appI18n.T(ctx, "Correct") + ")"
	}
	return "(" + appI18n.T(ctx, "Incorrect") + ")"
}
