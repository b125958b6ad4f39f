package model

import (
	"context"
	"encoding/base64"
	"time"
)

const (
	// QuestionCount is the number of questions requested per quiz.
	QuestionCount = 10
	// MultipleChoiceCount is the number of multiple-choice questions requested.
	MultipleChoiceCount = 6
	// FillInBlankCount is the number of fill-in-the-blank questions requested.
	FillInBlankCount = 4
	// OptionCount is the number of options per multiple-choice question.
	OptionCount = 4
	// BlankMarker marks the gap in a fill-in-the-blank question.
	BlankMarker = "_____"
	// SubmissionTimeLayout renders the submission timestamp (en-US, 12 hour clock).
	SubmissionTimeLayout = "01/02/2006, 3:04:05 PM"
	// PDFMediaType is the only accepted document type.
	PDFMediaType = "application/pdf"
)

// Phase is one step of the quiz lifecycle.
type Phase string

const (
	PhaseForm       Phase = "form"
	PhaseGenerating Phase = "generating"
	PhaseQuiz       Phase = "quiz"
	PhaseGrading    Phase = "grading"
	PhaseResults    Phase = "results"
)

// QuestionKind discriminates the two question variants.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "MULTIPLE_CHOICE"
	KindFillInBlank    QuestionKind = "FILL_IN_THE_BLANK"
)

// Valid reports whether k is a known question kind.
func (k QuestionKind) Valid() bool {
	return k == KindMultipleChoice || k == KindFillInBlank
}

// StudentInfo is captured once from the submission form.
type StudentInfo struct {
	Name      string `json:"name" validate:"required"`
	BookTitle string `json:"bookTitle" validate:"required"`
	PageRange string `json:"pageRange" validate:"required"`
}

// Question is a quiz question. Options is only set for multiple-choice questions.
type Question struct {
	ID            int          `json:"id"`
	Kind          QuestionKind `json:"type"`
	Text          string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
}

// Answers maps a question ID to the student's raw response.
type Answers map[int]string

// Clone returns an independent copy of a.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// GradingOutcome is the verdict for a single question.
type GradingOutcome struct {
	IsCorrect         bool   `json:"isCorrect"`
	CorrectedSpelling string `json:"correctedSpelling,omitempty"`
	// Err is set only under the partial grading policy when the question
	// could not be graded.
	Err string `json:"error,omitempty"`
}

// QuizResult is the final graded report.
type QuizResult struct {
	StudentInfo    StudentInfo    `json:"studentInfo"`
	SubmissionDate string         `json:"submissionDate"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Questions      []Question     `json:"questions"`
	StudentAnswers Answers        `json:"studentAnswers"`
	Correctness    map[int]bool   `json:"correctness"`
	Corrections    map[int]string `json:"corrections"`
	GradingErrors  map[int]string `json:"gradingErrors,omitempty"`
	Score          int            `json:"score"`
	Total          int            `json:"total"`
}

// Passed reports whether the score reaches 70% of the total.
func (r QuizResult) Passed() bool {
	if r.Total == 0 {
		return false
	}
	return float64(r.Score)/float64(r.Total) >= 0.7
}

// Document is an uploaded reading assignment.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// Base64 returns the transport encoding of the document.
func (d Document) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Data)
}

// GradingPolicy selects how grading failures of single questions are handled.
type GradingPolicy string

const (
	// PolicyAllOrNothing fails the whole grading phase on the first error.
	PolicyAllOrNothing GradingPolicy = "all-or-nothing"
	// PolicyPartial marks failed questions as incorrect and keeps going.
	PolicyPartial GradingPolicy = "partial"
)

// AppConfig holds runtime options used by the HTTP layer.
type AppConfig struct {
	BasePath      string // URL prefix for sub-path deployments
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadMB   int
	Metrics       bool
}

type sessionCtxKey struct{}

// ContextWithSessionID stores the quiz session ID in the request context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext retrieves the quiz session ID from context, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
