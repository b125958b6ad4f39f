package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/readingquiz/internal/document"
	"github.com/pavelanni/readingquiz/internal/handler/views"
	appI18n "github.com/pavelanni/readingquiz/internal/i18n"
	"github.com/pavelanni/readingquiz/internal/metrics"
	"github.com/pavelanni/readingquiz/internal/model"
	"github.com/pavelanni/readingquiz/internal/quiz"
	"github.com/pavelanni/readingquiz/internal/session"
)

const answerFieldPrefix = "answer-"

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Registry
	config   model.AppConfig
}

// New creates a new Handler.
func New(sessions *session.Registry, cfg model.AppConfig) *Handler {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = document.DefaultMaxBytes >> 20
	}
	return &Handler{sessions: sessions, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.config.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Use(h.limitBody)
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Post("/quiz/start", h.handleStart)
		r.Post("/quiz/submit", h.handleSubmit)
		r.Post("/quiz/retake", h.handleRetake)
	})
}

func (h *Handler) maxUploadBytes() int64 {
	return int64(h.config.MaxUploadMB) << 20
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	if m == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}
	h.renderPhase(w, r, m.Snapshot(), http.StatusOK, "")
}

// renderPhase renders the view of the current phase. A non-empty msgID
// replaces the stored phase error with a local validation message.
func (h *Handler) renderPhase(w http.ResponseWriter, r *http.Request, snap session.Snapshot, status int, msgID string) {
	ctx := r.Context()
	msg := phaseErrorText(ctx, snap.Error)
	if msgID != "" {
		msg = appI18n.T(ctx, msgID)
	}

	var page templ.Component
	switch snap.Phase {
	case model.PhaseQuiz:
		page = views.QuizPage(views.QuizView{
			Info:      snap.Info,
			Questions: snap.Questions,
			Answers:   snap.Answers,
			Error:     msg,
		})
	case model.PhaseResults:
		if snap.Result == nil {
			http.Error(w, "missing result", http.StatusInternalServerError)
			return
		}
		page = views.ResultsPage(views.ResultsView{Result: *snap.Result})
	case model.PhaseGenerating, model.PhaseGrading:
		page = views.BusyPage(appI18n.T(ctx, "ErrBusy"))
	default:
		page = views.FormPage(views.FormView{
			Info:        snap.Info,
			Error:       msg,
			MaxUploadMB: h.config.MaxUploadMB,
		})
	}
	h.render(w, r, status, page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) renderBusy(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusConflict, views.BusyPage(appI18n.T(r.Context(), "ErrBusy")))
}

func phaseErrorText(ctx context.Context, e *session.PhaseError) string {
	if e == nil {
		return ""
	}
	return appI18n.Td(ctx, e.MessageID, map[string]any{"Cause": e.Cause})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	if m == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}
	if m.Busy() {
		h.renderBusy(w, r)
		return
	}
	// A stale form post must not replace the quiz or results page.
	if m.Phase() != model.PhaseForm {
		h.redirectHome(w, r)
		return
	}

	info := quiz.NormalizeStudentInfo(model.StudentInfo{
		Name:      r.FormValue("name"),
		BookTitle: r.FormValue("book_title"),
		PageRange: r.FormValue("page_range"),
	})
	// Keep what the student typed when the form is shown again.
	formSnap := session.Snapshot{Phase: model.PhaseForm, Info: info}

	if err := quiz.ValidateStudentInfo(info); err != nil {
		h.renderValidation(w, r, formSnap, err)
		return
	}

	doc, err := h.readDocument(r)
	if err != nil {
		h.renderValidation(w, r, formSnap, err)
		return
	}

	// The generation call outlives a closed browser tab; its result drives
	// the session either way.
	ctx := context.WithoutCancel(r.Context())
	err = m.Start(ctx, info, doc)
	var verr *model.ValidationError
	var gerr *model.GenerationError
	switch {
	case err == nil, errors.As(err, &gerr):
		h.redirectHome(w, r)
	case errors.As(err, &verr):
		h.renderValidation(w, r, formSnap, err)
	case errors.Is(err, model.ErrTransitionInProgress):
		h.renderBusy(w, r)
	case errors.Is(err, model.ErrInvalidTransition):
		h.redirectHome(w, r)
	default:
		slog.Error("start quiz failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// readDocument returns the uploaded PDF, or a *model.ValidationError.
func (h *Handler) readDocument(r *http.Request) (*model.Document, error) {
	file, header, err := r.FormFile("document")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, &model.ValidationError{Field: "document", MessageID: quiz.MsgDocumentMissing}
		}
		return nil, err
	}
	defer file.Close()

	doc, err := document.Read(file, header.Filename, header.Header.Get("Content-Type"), h.maxUploadBytes())
	switch {
	case err == nil:
		return &doc, nil
	case errors.Is(err, document.ErrEmpty):
		return nil, &model.ValidationError{Field: "document", MessageID: quiz.MsgDocumentMissing}
	case errors.Is(err, document.ErrTooLarge):
		return nil, &model.ValidationError{Field: "document", MessageID: quiz.MsgDocumentTooLarge}
	case errors.Is(err, document.ErrUnsupportedType):
		slog.Info("rejected upload", "file", header.Filename, "error", err)
		return nil, &model.ValidationError{Field: "document", MessageID: quiz.MsgInvalidDocument}
	default:
		return nil, err
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	if m == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}

	answers := parseAnswers(r)
	if err := m.SaveDraft(answers); errors.Is(err, model.ErrTransitionInProgress) {
		h.renderBusy(w, r)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	err := m.Submit(ctx, answers)
	var verr *model.ValidationError
	var gerr *model.GradingError
	switch {
	case err == nil, errors.As(err, &gerr):
		h.redirectHome(w, r)
	case errors.As(err, &verr):
		snap := m.Snapshot()
		h.renderPhase(w, r, snap, http.StatusUnprocessableEntity, verr.MessageID)
	case errors.Is(err, model.ErrTransitionInProgress):
		h.renderBusy(w, r)
	case errors.Is(err, model.ErrInvalidTransition):
		h.redirectHome(w, r)
	default:
		slog.Error("submit quiz failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseAnswers collects the answer-<id> form fields. Malformed ids are ignored.
func parseAnswers(r *http.Request) model.Answers {
	answers := make(model.Answers)
	for key, values := range r.Form {
		idStr, ok := strings.CutPrefix(key, answerFieldPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		answers[id] = values[0]
	}
	return answers
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	if m == nil {
		http.Error(w, "session not found", http.StatusInternalServerError)
		return
	}
	if err := m.Retake(); errors.Is(err, model.ErrTransitionInProgress) {
		h.renderBusy(w, r)
		return
	}
	h.redirectHome(w, r)
}

func (h *Handler) renderValidation(w http.ResponseWriter, r *http.Request, snap session.Snapshot, err error) {
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		slog.Error("read upload failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.renderPhase(w, r, snap, http.StatusUnprocessableEntity, verr.MessageID)
}

func (h *Handler) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

// path prefixes p with the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}
