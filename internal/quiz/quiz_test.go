package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/model"
)

// fakeBackend records calls and answers from a script function.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(req llm.Request) (string, error)
}

func (f *fakeBackend) GenerateJSON(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeBackend) Ping(context.Context) error { return nil }

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// exactMatch grades like a service that affirms exact matches only.
func exactMatch(req llm.Request) (string, error) {
	start := strings.Index(req.Instruction, "<student-answer>\n") + len("<student-answer>\n")
	end := strings.Index(req.Instruction, "\n</student-answer>")
	answer := req.Instruction[start:end]
	if strings.Contains(req.Instruction, fmt.Sprintf("%q", answer)) {
		return `{"isCorrect": true}`, nil
	}
	return `{"isCorrect": false}`, nil
}

const sampleQuiz = `{"questions": [
  {"id": 1, "type": "MULTIPLE_CHOICE", "question": "Capital of France?", "options": ["Paris", "Rome", "Berlin", "Madrid"], "correctAnswer": "Paris"},
  {"id": 2, "type": "MULTIPLE_CHOICE", "question": "Color of the sky?", "options": ["Green", "Blue", "Red", "Black"], "correctAnswer": "Blue"},
  {"id": 3, "type": "MULTIPLE_CHOICE", "question": "2 + 2?", "options": ["3", "4", "5", "6"], "correctAnswer": "4"},
  {"id": 4, "type": "MULTIPLE_CHOICE", "question": "Largest ocean?", "options": ["Pacific", "Atlantic", "Indian", "Arctic"], "correctAnswer": "Pacific"},
  {"id": 5, "type": "MULTIPLE_CHOICE", "question": "Hero of the story?", "options": ["Tom", "Huck", "Jim", "Becky"], "correctAnswer": "Tom"},
  {"id": 6, "type": "MULTIPLE_CHOICE", "question": "Where does it happen?", "options": ["River", "Desert", "City", "Sea"], "correctAnswer": "River"},
  {"id": 7, "type": "FILL_IN_THE_BLANK", "question": "Plants make food by _____.", "correctAnswer": "photosynthesis"},
  {"id": 8, "type": "FILL_IN_THE_BLANK", "question": "The powerhouse of the cell is the _____.", "correctAnswer": "mitochondria"},
  {"id": 9, "type": "FILL_IN_THE_BLANK", "question": "Water freezes at _____ degrees.", "correctAnswer": "zero"},
  {"id": 10, "type": "FILL_IN_THE_BLANK", "question": "The author is _____.", "correctAnswer": "Twain"}
]}`

func sampleQuestions(t *testing.T) []model.Question {
	t.Helper()
	qs, err := DecodeQuestions(sampleQuiz)
	require.NoError(t, err)
	return qs
}

func correctAnswers(qs []model.Question) model.Answers {
	a := make(model.Answers, len(qs))
	for _, q := range qs {
		a[q.ID] = q.CorrectAnswer
	}
	return a
}

func TestGenerate(t *testing.T) {
	fb := &fakeBackend{respond: func(llm.Request) (string, error) { return sampleQuiz, nil }}
	g := NewGenerator(fb, "gemini-test")
	doc := model.Document{Name: "a.pdf", MediaType: model.PDFMediaType, Data: []byte("%PDF-1.4")}

	qs, err := g.Generate(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, qs, model.QuestionCount)

	require.Equal(t, 1, fb.callCount())
	req := fb.calls[0]
	assert.Equal(t, "generate", req.Operation)
	assert.Equal(t, "gemini-test", req.Model)
	assert.Equal(t, "quiz", req.SchemaName)
	require.NotNil(t, req.Document)
	assert.Equal(t, doc.Data, req.Document.Data)
	require.NotNil(t, req.Schema)

	assert.Equal(t, model.KindMultipleChoice, qs[0].Kind)
	assert.Equal(t, []string{"Paris", "Rome", "Berlin", "Madrid"}, qs[0].Options)
	assert.Equal(t, model.KindFillInBlank, qs[6].Kind)
	assert.Empty(t, qs[6].Options)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		respond func(llm.Request) (string, error)
	}{
		{"service failure", func(llm.Request) (string, error) { return "", errors.New("connection refused") }},
		{"empty response", func(llm.Request) (string, error) { return "", llm.ErrEmptyResponse }},
		{"malformed", func(llm.Request) (string, error) { return "this is not json", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&fakeBackend{respond: tt.respond}, "")
			qs, err := g.Generate(context.Background(), model.Document{Data: []byte("x")})
			assert.Nil(t, qs)
			var gerr *model.GenerationError
			require.ErrorAs(t, err, &gerr)
			assert.NotEmpty(t, gerr.Error())
		})
	}
}

func TestDecodeQuestionsRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty body", "   "},
		{"not json", "<html>"},
		{"missing questions", `{"items": []}`},
		{"questions not array", `{"questions": {"id": 1}}`},
		{"questions null", `{"questions": null}`},
		{"no questions", `{"questions": []}`},
		{"unknown type", `{"questions": [{"id": 1, "type": "ESSAY", "question": "q", "correctAnswer": "a"}]}`},
		{"missing id", `{"questions": [{"type": "FILL_IN_THE_BLANK", "question": "q _____", "correctAnswer": "a"}]}`},
		{"fractional id", `{"questions": [{"id": 1.5, "type": "FILL_IN_THE_BLANK", "question": "q _____", "correctAnswer": "a"}]}`},
		{"zero id", `{"questions": [{"id": 0, "type": "FILL_IN_THE_BLANK", "question": "q _____", "correctAnswer": "a"}]}`},
		{"missing text", `{"questions": [{"id": 1, "type": "FILL_IN_THE_BLANK", "correctAnswer": "a"}]}`},
		{"missing answer", `{"questions": [{"id": 1, "type": "FILL_IN_THE_BLANK", "question": "q _____"}]}`},
		{"empty options", `{"questions": [{"id": 1, "type": "MULTIPLE_CHOICE", "question": "q", "options": [], "correctAnswer": "a"}]}`},
		{"duplicate id", `{"questions": [
			{"id": 1, "type": "FILL_IN_THE_BLANK", "question": "q _____", "correctAnswer": "a"},
			{"id": 1, "type": "FILL_IN_THE_BLANK", "question": "r _____", "correctAnswer": "b"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQuestions(tt.raw)
			var gerr *model.GenerationError
			assert.ErrorAs(t, err, &gerr)
		})
	}
}

func TestDecodeQuestionsOptionsFallback(t *testing.T) {
	t.Run("absent options are synthesized", func(t *testing.T) {
		qs, err := DecodeQuestions(`{"questions": [{"id": 1, "type": "MULTIPLE_CHOICE", "question": "q", "correctAnswer": "Paris"}]}`)
		require.NoError(t, err)
		require.Len(t, qs, 1)
		assert.Len(t, qs[0].Options, model.OptionCount)
		assert.ElementsMatch(t, []string{"A", "B", "C", "Paris"}, qs[0].Options)
	})

	t.Run("null options are synthesized", func(t *testing.T) {
		qs, err := DecodeQuestions(`{"questions": [{"id": 1, "type": "MULTIPLE_CHOICE", "question": "q", "options": null, "correctAnswer": "Paris"}]}`)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B", "C", "Paris"}, qs[0].Options)
	})

	t.Run("present options pass through", func(t *testing.T) {
		qs, err := DecodeQuestions(`{"questions": [{"id": 1, "type": "MULTIPLE_CHOICE", "question": "q", "options": ["x", "y", "z", "Paris"], "correctAnswer": "Paris"}]}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y", "z", "Paris"}, qs[0].Options)
	})

	t.Run("fill-in-the-blank never gets options", func(t *testing.T) {
		qs, err := DecodeQuestions(`{"questions": [{"id": 1, "type": "FILL_IN_THE_BLANK", "question": "q _____", "options": ["x"], "correctAnswer": "a"}]}`)
		require.NoError(t, err)
		assert.Nil(t, qs[0].Options)
	})
}

func TestDecodeQuestionsAcceptsOddComposition(t *testing.T) {
	qs, err := DecodeQuestions(`{"questions": [{"id": 3, "type": "FILL_IN_THE_BLANK", "question": "q _____", "correctAnswer": "a"}]}`)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
	assert.Equal(t, 3, qs[0].ID)
}

func TestGradeMultipleChoice(t *testing.T) {
	for _, in := range []string{"Paris", " paris ", "PARIS", "\tParis\n"} {
		assert.True(t, GradeMultipleChoice(in, "Paris"), in)
	}
	assert.False(t, GradeMultipleChoice("Rome", "Paris"))
	assert.False(t, GradeMultipleChoice("", "Paris"))
}

func TestGradeFillInBlank(t *testing.T) {
	t.Run("empty answer makes no call", func(t *testing.T) {
		fb := &fakeBackend{respond: func(llm.Request) (string, error) { return `{"isCorrect": true}`, nil }}
		g := NewGrader(fb, GraderConfig{})
		for _, in := range []string{"", "   ", "\n"} {
			out, err := g.GradeFillInBlank(context.Background(), in, "photosynthesis")
			require.NoError(t, err)
			assert.False(t, out.IsCorrect)
		}
		assert.Equal(t, 0, fb.callCount())
	})

	t.Run("correct with spelling fix", func(t *testing.T) {
		fb := &fakeBackend{respond: func(llm.Request) (string, error) {
			return `{"isCorrect": true, "correctedSpelling": "photosynthesis"}`, nil
		}}
		g := NewGrader(fb, GraderConfig{Model: "grader"})
		out, err := g.GradeFillInBlank(context.Background(), "fotosynthesis", "photosynthesis")
		require.NoError(t, err)
		assert.True(t, out.IsCorrect)
		assert.Equal(t, "photosynthesis", out.CorrectedSpelling)
		require.Equal(t, 1, fb.callCount())
		assert.Equal(t, "grade", fb.calls[0].Operation)
		assert.Equal(t, "grader", fb.calls[0].Model)
		assert.Nil(t, fb.calls[0].Document)
		assert.Contains(t, fb.calls[0].Instruction, "Be very lenient")
	})

	t.Run("spelling dropped when incorrect", func(t *testing.T) {
		fb := &fakeBackend{respond: func(llm.Request) (string, error) {
			return `{"isCorrect": false, "correctedSpelling": "respiration"}`, nil
		}}
		out, err := NewGrader(fb, GraderConfig{}).GradeFillInBlank(context.Background(), "respiraton", "photosynthesis")
		require.NoError(t, err)
		assert.False(t, out.IsCorrect)
		assert.Empty(t, out.CorrectedSpelling)
	})

	failures := []struct {
		name    string
		respond func(llm.Request) (string, error)
	}{
		{"service failure", func(llm.Request) (string, error) { return "", errors.New("boom") }},
		{"empty body", func(llm.Request) (string, error) { return "", llm.ErrEmptyResponse }},
		{"non-json", func(llm.Request) (string, error) { return "yes", nil }},
		{"missing verdict", func(llm.Request) (string, error) { return `{"correctedSpelling": "x"}`, nil }},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrader(&fakeBackend{respond: tt.respond}, GraderConfig{}).
				GradeFillInBlank(context.Background(), "answer", "answer")
			var gerr *model.GradingError
			assert.ErrorAs(t, err, &gerr)
		})
	}
}

func TestGradeFillInBlankTimeout(t *testing.T) {
	g := NewGrader(blockingBackend{}, GraderConfig{Timeout: 10 * time.Millisecond})
	_, err := g.GradeFillInBlank(context.Background(), "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingBackend waits for the context to end.
type blockingBackend struct{}

func (blockingBackend) GenerateJSON(ctx context.Context, _ llm.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingBackend) Ping(context.Context) error { return nil }

func TestGradeAllRoundTrip(t *testing.T) {
	qs := sampleQuestions(t)
	fb := &fakeBackend{respond: exactMatch}
	g := NewGrader(fb, GraderConfig{})

	answers := correctAnswers(qs)
	outcomes, err := g.GradeAll(context.Background(), qs, answers)
	require.NoError(t, err)
	assert.Equal(t, model.FillInBlankCount, fb.callCount())

	res := Aggregate(model.StudentInfo{Name: "Ann"}, qs, answers, outcomes, time.Now())
	assert.Equal(t, res.Total, res.Score)
	assert.Equal(t, model.QuestionCount, res.Total)
	assert.True(t, res.Passed())
}

func TestGradeAllSkipsEmptyFillInBlank(t *testing.T) {
	qs := sampleQuestions(t)
	fb := &fakeBackend{respond: exactMatch}
	answers := correctAnswers(qs)
	answers[7] = "  "
	delete(answers, 8)

	outcomes, err := NewGrader(fb, GraderConfig{}).GradeAll(context.Background(), qs, answers)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.callCount())
	assert.False(t, outcomes[7].IsCorrect)
	assert.False(t, outcomes[8].IsCorrect)
	assert.True(t, outcomes[9].IsCorrect)
}

func TestGradeAllOneFailure(t *testing.T) {
	qs := sampleQuestions(t)
	respond := func(req llm.Request) (string, error) {
		if strings.Contains(req.Instruction, "mitochondria") {
			return "", errors.New("upstream 503")
		}
		return exactMatch(req)
	}

	t.Run("all-or-nothing fails the whole grading", func(t *testing.T) {
		g := NewGrader(&fakeBackend{respond: respond}, GraderConfig{})
		outcomes, err := g.GradeAll(context.Background(), qs, correctAnswers(qs))
		assert.Nil(t, outcomes)
		var gerr *model.GradingError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, 8, gerr.QuestionID)
	})

	t.Run("partial marks only the failed question", func(t *testing.T) {
		g := NewGrader(&fakeBackend{respond: respond}, GraderConfig{Policy: model.PolicyPartial})
		outcomes, err := g.GradeAll(context.Background(), qs, correctAnswers(qs))
		require.NoError(t, err)
		require.Len(t, outcomes, len(qs))
		assert.False(t, outcomes[8].IsCorrect)
		assert.NotEmpty(t, outcomes[8].Err)

		res := Aggregate(model.StudentInfo{}, qs, correctAnswers(qs), outcomes, time.Now())
		assert.Equal(t, 9, res.Score)
		assert.Contains(t, res.GradingErrors, 8)
	})
}

func TestAggregate(t *testing.T) {
	qs := sampleQuestions(t)
	outcomes := map[int]model.GradingOutcome{
		1: {IsCorrect: true},
		2: {IsCorrect: false},
		7: {IsCorrect: true, CorrectedSpelling: "photosynthesis"},
		8: {IsCorrect: false},
	}
	answers := model.Answers{1: "Paris", 2: "Red", 7: "fotosynthesis"}
	now := time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

	res := Aggregate(model.StudentInfo{Name: "Ann", BookTitle: "Biology", PageRange: "1-10"}, qs, answers, outcomes, now)

	assert.Equal(t, "03/05/2024, 2:07:09 PM", res.SubmissionDate)
	assert.Equal(t, len(qs), res.Total)
	assert.Len(t, res.Correctness, len(qs))
	assert.Equal(t, map[int]string{7: "photosynthesis"}, res.Corrections)
	assert.Nil(t, res.GradingErrors)

	correct := 0
	for _, ok := range res.Correctness {
		if ok {
			correct++
		}
	}
	assert.Equal(t, correct, res.Score)
	assert.Equal(t, 2, res.Score)
	assert.False(t, res.Passed())

	answers[1] = "changed"
	assert.Equal(t, "Paris", res.StudentAnswers[1])
}

func TestValidateStudentInfo(t *testing.T) {
	valid := model.StudentInfo{Name: "Ann", BookTitle: "Biology", PageRange: "1-10"}
	require.NoError(t, ValidateStudentInfo(valid))

	tests := []struct {
		name  string
		info  model.StudentInfo
		field string
	}{
		{"no name", model.StudentInfo{BookTitle: "B", PageRange: "1"}, "name"},
		{"blank title", model.StudentInfo{Name: "A", BookTitle: "  ", PageRange: "1"}, "bookTitle"},
		{"no pages", model.StudentInfo{Name: "A", BookTitle: "B"}, "pageRange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStudentInfo(tt.info)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, MsgFormIncomplete, verr.MessageID)
		})
	}
}

func TestValidateForm(t *testing.T) {
	info := model.StudentInfo{Name: "Ann", BookTitle: "Biology", PageRange: "1-10"}
	pdf := &model.Document{MediaType: model.PDFMediaType, Data: []byte("%PDF")}

	require.NoError(t, ValidateForm(info, pdf))

	var verr *model.ValidationError
	require.ErrorAs(t, ValidateForm(info, nil), &verr)
	assert.Equal(t, MsgDocumentMissing, verr.MessageID)

	require.ErrorAs(t, ValidateForm(info, &model.Document{MediaType: "text/plain", Data: []byte("x")}), &verr)
	assert.Equal(t, MsgInvalidDocument, verr.MessageID)
}

func TestValidateAnswers(t *testing.T) {
	qs := sampleQuestions(t)
	full := correctAnswers(qs)
	require.NoError(t, ValidateAnswers(qs, full))

	for n := 0; n < len(qs); n++ {
		partial := full.Clone()
		delete(partial, qs[n].ID)
		var verr *model.ValidationError
		require.ErrorAs(t, ValidateAnswers(qs, partial), &verr, "missing %d", qs[n].ID)
		assert.Equal(t, MsgAnswersIncomplete, verr.MessageID)
	}

	blank := full.Clone()
	blank[9] = "   "
	assert.Error(t, ValidateAnswers(qs, blank))

	extra := full.Clone()
	extra[99] = "x"
	var verr *model.ValidationError
	require.ErrorAs(t, ValidateAnswers(qs, extra), &verr)
	assert.Equal(t, MsgUnknownQuestion, verr.MessageID)
}
