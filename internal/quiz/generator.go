package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/llm/prompts"
	"github.com/pavelanni/readingquiz/internal/model"
)

// placeholderOptions pad a multiple-choice question that arrived without options.
var placeholderOptions = []string{"A", "B", "C"}

// Generator asks the AI service for a question set built from a document.
type Generator struct {
	backend llm.Backend
	model   string
}

// NewGenerator creates a Generator. An empty model name uses the backend default.
func NewGenerator(b llm.Backend, modelName string) *Generator {
	return &Generator{backend: b, model: modelName}
}

// Generate sends the document to the AI service and returns the decoded
// question set. Any failure is a *model.GenerationError.
func (g *Generator) Generate(ctx context.Context, doc model.Document) ([]model.Question, error) {
	instruction, err := prompts.BuildGeneratePrompt()
	if err != nil {
		return nil, &model.GenerationError{Reason: "build prompt", Wrapped: err}
	}

	raw, err := g.backend.GenerateJSON(ctx, llm.Request{
		Operation:   "generate",
		Model:       g.model,
		Instruction: instruction,
		Document:    &doc,
		SchemaName:  "quiz",
		Schema:      quizSchema(),
		Temperature: 0.2,
	})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, &model.GenerationError{Reason: "empty response from AI"}
		}
		return nil, &model.GenerationError{Reason: "AI service call failed", Wrapped: err}
	}

	questions, err := DecodeQuestions(raw)
	if err != nil {
		return nil, err
	}
	checkComposition(questions)
	return questions, nil
}

type rawQuiz struct {
	Questions json.RawMessage `json:"questions"`
}

type rawQuestion struct {
	ID            *float64  `json:"id"`
	Type          string    `json:"type"`
	Question      string    `json:"question"`
	Options       *[]string `json:"options"`
	CorrectAnswer *string   `json:"correctAnswer"`
}

// DecodeQuestions strictly decodes a quiz response body. It fails on an empty
// body, invalid JSON, a missing or non-array "questions" field, and on any
// question with an unknown type, a missing or duplicate id, or missing text
// or answer. A multiple-choice question without an "options" field gets
// placeholder options; see fillMissingOptions.
func DecodeQuestions(raw string) ([]model.Question, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &model.GenerationError{Reason: "empty response from AI"}
	}

	var rq rawQuiz
	if err := json.Unmarshal([]byte(raw), &rq); err != nil {
		return nil, &model.GenerationError{Reason: "response is not valid JSON", Wrapped: err}
	}
	body := bytes.TrimSpace(rq.Questions)
	if len(body) == 0 || body[0] != '[' {
		return nil, &model.GenerationError{Reason: "invalid quiz format: missing or non-array questions field"}
	}

	var items []rawQuestion
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &model.GenerationError{Reason: "invalid quiz format", Wrapped: err}
	}
	if len(items) == 0 {
		return nil, &model.GenerationError{Reason: "quiz contains no questions"}
	}

	seen := make(map[int]bool, len(items))
	questions := make([]model.Question, 0, len(items))
	for i, it := range items {
		q, err := decodeQuestion(i, it)
		if err != nil {
			return nil, err
		}
		if seen[q.ID] {
			return nil, &model.GenerationError{Reason: fmt.Sprintf("duplicate question id %d", q.ID)}
		}
		seen[q.ID] = true
		questions = append(questions, q)
	}
	return questions, nil
}

func decodeQuestion(index int, it rawQuestion) (model.Question, error) {
	fail := func(reason string) (model.Question, error) {
		return model.Question{}, &model.GenerationError{Reason: fmt.Sprintf("question %d: %s", index+1, reason)}
	}

	kind := model.QuestionKind(it.Type)
	if !kind.Valid() {
		return fail(fmt.Sprintf("unknown type %q", it.Type))
	}
	if it.ID == nil {
		return fail("missing id")
	}
	id := *it.ID
	if id < 1 || id != math.Trunc(id) || id > math.MaxInt32 {
		return fail(fmt.Sprintf("id %v is not a positive integer", id))
	}
	if strings.TrimSpace(it.Question) == "" {
		return fail("missing question text")
	}
	if it.CorrectAnswer == nil || strings.TrimSpace(*it.CorrectAnswer) == "" {
		return fail("missing correctAnswer")
	}

	q := model.Question{
		ID:            int(id),
		Kind:          kind,
		Text:          it.Question,
		CorrectAnswer: *it.CorrectAnswer,
	}

	if kind == model.KindFillInBlank {
		if !strings.Contains(q.Text, model.BlankMarker) {
			slog.Warn("fill-in-the-blank question has no blank marker", "id", q.ID)
		}
		return q, nil
	}

	if it.Options == nil {
		q.Options = fillMissingOptions(q.CorrectAnswer)
		slog.Warn("multiple-choice question arrived without options, using placeholders", "id", q.ID)
		return q, nil
	}
	if len(*it.Options) == 0 {
		return fail("multiple-choice question has an empty options list")
	}
	q.Options = *it.Options
	return q, nil
}

// fillMissingOptions is a tolerance fallback, not a normal path: the service
// is expected to always send options. It returns the correct answer plus
// placeholder distractors in random order.
func fillMissingOptions(correct string) []string {
	opts := append(append([]string(nil), placeholderOptions...), correct)
	rand.Shuffle(len(opts), func(i, j int) {
		opts[i], opts[j] = opts[j], opts[i]
	})
	return opts
}

// checkComposition logs when the question set differs from the requested
// 6 multiple-choice + 4 fill-in-the-blank. The set is still accepted.
func checkComposition(questions []model.Question) {
	mc, fib := 0, 0
	for _, q := range questions {
		switch q.Kind {
		case model.KindMultipleChoice:
			mc++
		case model.KindFillInBlank:
			fib++
		}
	}
	if len(questions) != model.QuestionCount || mc != model.MultipleChoiceCount || fib != model.FillInBlankCount {
		slog.Warn("generated quiz differs from requested composition",
			"total", len(questions),
			"multiple_choice", mc,
			"fill_in_blank", fib,
		)
	}
}
