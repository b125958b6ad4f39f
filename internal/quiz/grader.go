package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/llm/prompts"
	"github.com/pavelanni/readingquiz/internal/model"
)

// GraderConfig tunes fill-in-the-blank grading.
type GraderConfig struct {
	Model   string
	Variant prompts.PromptVariant
	Policy  model.GradingPolicy
	// Timeout bounds each grading call. Zero means no local timeout.
	Timeout time.Duration
}

// Grader grades a submitted quiz. Multiple-choice answers are checked
// locally; fill-in-the-blank answers are judged by the AI service.
type Grader struct {
	backend llm.Backend
	cfg     GraderConfig
}

// NewGrader creates a Grader. Unset config fields fall back to the lenient
// prompt and the all-or-nothing policy.
func NewGrader(b llm.Backend, cfg GraderConfig) *Grader {
	if cfg.Variant == "" {
		cfg.Variant = prompts.PromptLenient
	}
	if cfg.Policy == "" {
		cfg.Policy = model.PolicyAllOrNothing
	}
	return &Grader{backend: b, cfg: cfg}
}

// Policy returns the configured failure policy.
func (g *Grader) Policy() model.GradingPolicy {
	return g.cfg.Policy
}

// GradeMultipleChoice compares answers ignoring case and surrounding whitespace.
func GradeMultipleChoice(studentAnswer, correctAnswer string) bool {
	return strings.EqualFold(strings.TrimSpace(studentAnswer), strings.TrimSpace(correctAnswer))
}

type gradingResponse struct {
	IsCorrect         *bool  `json:"isCorrect"`
	CorrectedSpelling string `json:"correctedSpelling"`
}

// GradeFillInBlank asks the AI service whether the student's answer matches
// the correct one. A blank answer is incorrect and never sent.
func (g *Grader) GradeFillInBlank(ctx context.Context, studentAnswer, correctAnswer string) (model.GradingOutcome, error) {
	if strings.TrimSpace(studentAnswer) == "" {
		return model.GradingOutcome{IsCorrect: false}, nil
	}

	instruction, err := prompts.BuildGradePrompt(g.cfg.Variant, studentAnswer, correctAnswer)
	if err != nil {
		return model.GradingOutcome{}, &model.GradingError{Reason: "build prompt", Wrapped: err}
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	raw, err := g.backend.GenerateJSON(ctx, llm.Request{
		Operation:   "grade",
		Model:       g.cfg.Model,
		Instruction: instruction,
		SchemaName:  "grading",
		Schema:      gradingSchema(),
		Temperature: 0.1,
	})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return model.GradingOutcome{}, &model.GradingError{Reason: "empty grading response"}
		}
		return model.GradingOutcome{}, &model.GradingError{Reason: "AI service call failed", Wrapped: err}
	}

	return decodeGrading(raw)
}

func decodeGrading(raw string) (model.GradingOutcome, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.GradingOutcome{}, &model.GradingError{Reason: "empty grading response"}
	}
	var resp gradingResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		slog.Error("failed to parse grading response", "raw", raw, "error", err)
		return model.GradingOutcome{}, &model.GradingError{Reason: "could not determine correctness from AI response", Wrapped: err}
	}
	if resp.IsCorrect == nil {
		return model.GradingOutcome{}, &model.GradingError{Reason: "could not determine correctness from AI response: isCorrect missing"}
	}

	out := model.GradingOutcome{IsCorrect: *resp.IsCorrect}
	if out.IsCorrect {
		out.CorrectedSpelling = strings.TrimSpace(resp.CorrectedSpelling)
	}
	return out, nil
}

// GradeAll grades every question. Fill-in-the-blank calls run concurrently.
// Under the all-or-nothing policy the first failure aborts the whole
// grading and no outcomes are returned. Under the partial policy a failed
// question is recorded as incorrect with its error message.
func (g *Grader) GradeAll(ctx context.Context, questions []model.Question, answers model.Answers) (map[int]model.GradingOutcome, error) {
	outcomes := make([]model.GradingOutcome, len(questions))

	var eg *errgroup.Group
	gctx := ctx
	if g.cfg.Policy == model.PolicyPartial {
		eg = &errgroup.Group{}
	} else {
		eg, gctx = errgroup.WithContext(ctx)
	}

	for i, q := range questions {
		answer := answers[q.ID]

		if q.Kind != model.KindFillInBlank {
			outcomes[i] = model.GradingOutcome{IsCorrect: GradeMultipleChoice(answer, q.CorrectAnswer)}
			continue
		}
		if strings.TrimSpace(answer) == "" {
			outcomes[i] = model.GradingOutcome{IsCorrect: false}
			continue
		}

		eg.Go(func() error {
			out, err := g.GradeFillInBlank(gctx, answer, q.CorrectAnswer)
			if err != nil {
				var gerr *model.GradingError
				if errors.As(err, &gerr) {
					gerr.QuestionID = q.ID
				}
				if g.cfg.Policy == model.PolicyPartial {
					slog.Warn("grading failed, marking question incorrect", "question_id", q.ID, "error", err)
					outcomes[i] = model.GradingOutcome{IsCorrect: false, Err: err.Error()}
					return nil
				}
				return err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int]model.GradingOutcome, len(questions))
	for i, q := range questions {
		byID[q.ID] = outcomes[i]
	}
	return byID, nil
}
