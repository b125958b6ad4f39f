// Package session holds the quiz lifecycle for one student: the five-phase
// state machine and an in-memory registry of machines keyed by cookie id.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/readingquiz/internal/model"
	"github.com/pavelanni/readingquiz/internal/quiz"
)

// Message IDs for phase errors shown to the student.
const (
	MsgGenerateFailed = "ErrGenerateFailed"
	MsgGradeFailed    = "ErrGradeFailed"
)

// Generator produces a question set for a document.
type Generator interface {
	Generate(ctx context.Context, doc model.Document) ([]model.Question, error)
}

// Grader grades a full answer set.
type Grader interface {
	GradeAll(ctx context.Context, questions []model.Question, answers model.Answers) (map[int]model.GradingOutcome, error)
}

// TransitionFunc observes every phase change.
type TransitionFunc func(sessionID string, from, to model.Phase)

// PhaseError is the failure left on the session by the last external call.
type PhaseError struct {
	MessageID string // ErrGenerateFailed or ErrGradeFailed
	Message   string // English text, "Failed to ... quiz." plus the cause
	Cause     string
}

// Snapshot is a read-only copy of the machine state for rendering.
type Snapshot struct {
	ID        string
	Phase     model.Phase
	Info      model.StudentInfo
	Questions []model.Question
	Answers   model.Answers
	Result    *model.QuizResult
	Error     *PhaseError
}

// Machine is the quiz lifecycle of one session. Events are serialized:
// while GENERATING or GRADING any other event fails with
// model.ErrTransitionInProgress. External calls run without holding the lock.
type Machine struct {
	mu sync.Mutex

	id           string
	gen          Generator
	grader       Grader
	now          func() time.Time
	onTransition TransitionFunc

	phase     model.Phase
	info      model.StudentInfo
	questions []model.Question
	answers   model.Answers
	result    *model.QuizResult
	err       *PhaseError
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTransitionHook registers fn to be called after every phase change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// NewMachine creates a machine in the FORM phase.
func NewMachine(id string, gen Generator, grader Grader, opts ...Option) *Machine {
	m := &Machine{
		id:     id,
		gen:    gen,
		grader: grader,
		now:    time.Now,
		phase:  model.PhaseForm,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ID returns the session id.
func (m *Machine) ID() string {
	return m.id
}

// Phase returns the current phase.
func (m *Machine) Phase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Busy reports whether an external call is in flight.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy()
}

func (m *Machine) busy() bool {
	return m.phase == model.PhaseGenerating || m.phase == model.PhaseGrading
}

// setPhase must be called with mu held.
func (m *Machine) setPhase(to model.Phase) {
	from := m.phase
	m.phase = to
	if m.onTransition != nil && from != to {
		m.onTransition(m.id, from, to)
	}
}

// Start handles the form submission. Invalid input returns a
// *model.ValidationError and leaves the machine in FORM without calling the
// generator. A generation failure returns the machine to FORM with the error
// recorded and the student info discarded.
func (m *Machine) Start(ctx context.Context, info model.StudentInfo, doc *model.Document) error {
	m.mu.Lock()
	if m.busy() {
		m.mu.Unlock()
		return model.ErrTransitionInProgress
	}
	if m.phase != model.PhaseForm {
		m.mu.Unlock()
		return model.ErrInvalidTransition
	}
	if err := quiz.ValidateForm(info, doc); err != nil {
		m.mu.Unlock()
		return err
	}
	m.info = quiz.NormalizeStudentInfo(info)
	m.err = nil
	m.setPhase(model.PhaseGenerating)
	m.mu.Unlock()

	questions, err := m.gen.Generate(ctx, *doc)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		slog.Error("quiz generation failed", "session", m.id, "error", err)
		m.info = model.StudentInfo{}
		m.err = newPhaseError(MsgGenerateFailed, "Failed to generate quiz.", err)
		m.setPhase(model.PhaseForm)
		return err
	}
	m.questions = questions
	m.answers = make(model.Answers, len(questions))
	m.setPhase(model.PhaseQuiz)
	return nil
}

// SaveDraft stores partially entered answers while in QUIZ so they survive a
// rejected submission or a page reload. Unknown question ids are dropped.
func (m *Machine) SaveDraft(answers model.Answers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return model.ErrTransitionInProgress
	}
	if m.phase != model.PhaseQuiz {
		return model.ErrInvalidTransition
	}
	draft := make(model.Answers, len(m.questions))
	for _, q := range m.questions {
		if v, ok := answers[q.ID]; ok {
			draft[q.ID] = v
		}
	}
	m.answers = draft
	return nil
}

// Submit handles the quiz submission. Incomplete answers return a
// *model.ValidationError and leave the machine in QUIZ unchanged. A grading
// failure returns the machine to QUIZ with the submitted answers kept.
func (m *Machine) Submit(ctx context.Context, answers model.Answers) error {
	m.mu.Lock()
	if m.busy() {
		m.mu.Unlock()
		return model.ErrTransitionInProgress
	}
	if m.phase != model.PhaseQuiz {
		m.mu.Unlock()
		return model.ErrInvalidTransition
	}
	if err := quiz.ValidateAnswers(m.questions, answers); err != nil {
		m.mu.Unlock()
		return err
	}
	m.answers = answers.Clone()
	m.err = nil
	questions := m.questions
	submitted := m.answers.Clone()
	info := m.info
	m.setPhase(model.PhaseGrading)
	m.mu.Unlock()

	outcomes, err := m.grader.GradeAll(ctx, questions, submitted)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		slog.Error("quiz grading failed", "session", m.id, "error", err)
		m.err = newPhaseError(MsgGradeFailed, "Failed to grade quiz.", err)
		m.setPhase(model.PhaseQuiz)
		return err
	}
	res := quiz.Aggregate(info, questions, submitted, outcomes, m.now())
	m.result = &res
	m.setPhase(model.PhaseResults)
	return nil
}

// Retake discards the whole session state and returns to FORM.
func (m *Machine) Retake() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return model.ErrTransitionInProgress
	}
	if m.phase != model.PhaseResults {
		return model.ErrInvalidTransition
	}
	m.info = model.StudentInfo{}
	m.questions = nil
	m.answers = nil
	m.result = nil
	m.err = nil
	m.setPhase(model.PhaseForm)
	return nil
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ID:        m.id,
		Phase:     m.phase,
		Info:      m.info,
		Questions: append([]model.Question(nil), m.questions...),
		Answers:   m.answers.Clone(),
	}
	if m.result != nil {
		r := *m.result
		s.Result = &r
	}
	if m.err != nil {
		e := *m.err
		s.Error = &e
	}
	return s
}

func newPhaseError(messageID, prefix string, err error) *PhaseError {
	cause := describe(err)
	return &PhaseError{
		MessageID: messageID,
		Message:   prefix + " " + cause,
		Cause:     cause,
	}
}

// describe turns an external failure into one readable sentence.
func describe(err error) string {
	var gen *model.GenerationError
	if errors.As(err, &gen) {
		return gen.Reason
	}
	var grade *model.GradingError
	if errors.As(err, &grade) {
		if errors.Is(err, context.DeadlineExceeded) {
			return grade.Reason + ": timed out"
		}
		return grade.Reason
	}
	return err.Error()
}
