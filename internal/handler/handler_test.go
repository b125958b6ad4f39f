package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/pavelanni/readingquiz/internal/i18n"
	"github.com/pavelanni/readingquiz/internal/model"
	"github.com/pavelanni/readingquiz/internal/quiz"
	"github.com/pavelanni/readingquiz/internal/session"
)

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(context.Context, model.Document) ([]model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []model.Question{
		{ID: 1, Kind: model.KindMultipleChoice, Text: "Capital of France?", Options: []string{"Rome", "Paris", "Oslo", "Bern"}, CorrectAnswer: "Paris"},
		{ID: 2, Kind: model.KindFillInBlank, Text: "Plants make food by _____.", CorrectAnswer: "photosynthesis"},
	}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubGrader struct {
	err error
}

func (g *stubGrader) GradeAll(_ context.Context, qs []model.Question, answers model.Answers) (map[int]model.GradingOutcome, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[int]model.GradingOutcome, len(qs))
	for _, q := range qs {
		out[q.ID] = model.GradingOutcome{IsCorrect: quiz.GradeMultipleChoice(answers[q.ID], q.CorrectAnswer)}
	}
	return out, nil
}

type testApp struct {
	srv    *httptest.Server
	client *http.Client
	gen    *stubGenerator
	grader *stubGrader
	base   string
}

func newTestApp(t *testing.T, basePath string) *testApp {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	app := &testApp{gen: &stubGenerator{}, grader: &stubGrader{}, base: basePath}
	reg := session.NewRegistry(0, func(id string) *session.Machine {
		return session.NewMachine(id, app.gen, app.grader)
	})
	h := New(reg, model.AppConfig{BasePath: basePath, MaxUploadMB: 1, Metrics: true})
	app.srv = httptest.NewServer(h.Router("en"))
	t.Cleanup(app.srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	app.client = &http.Client{Jar: jar}
	return app
}

func (a *testApp) url(p string) string {
	return a.srv.URL + a.base + p
}

func (a *testApp) get(t *testing.T, p string) (int, string) {
	t.Helper()
	resp, err := a.client.Get(a.url(p))
	require.NoError(t, err)
	return readBody(t, resp)
}

func (a *testApp) csrf(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(a.url("/"))
	require.NoError(t, err)
	for _, c := range a.client.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	t.Fatal("no csrf cookie")
	return ""
}

func (a *testApp) postForm(t *testing.T, p string, form url.Values) (int, string) {
	t.Helper()
	if form.Get(csrfFieldName) == "" {
		form.Set(csrfFieldName, a.csrf(t))
	}
	resp, err := a.client.PostForm(a.url(p), form)
	require.NoError(t, err)
	return readBody(t, resp)
}

func (a *testApp) start(t *testing.T, fields map[string]string, fileType string, data []byte) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField(csrfFieldName, a.csrf(t)))
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="document"; filename="chapter.pdf"`)
		hdr.Set("Content-Type", fileType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := a.client.Post(a.url("/quiz/start"), mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

var studentFields = map[string]string{"name": "Ann", "book_title": "Biology <Basics>", "page_range": "10-20"}

func answersForm(answers map[int]string) url.Values {
	form := url.Values{}
	for id, v := range answers {
		form.Set(answerFieldPrefix+strconv.Itoa(id), v)
	}
	return form
}

func TestFullQuizFlow(t *testing.T) {
	app := newTestApp(t, "")

	status, body := app.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Reading Quiz Generator")
	assert.Contains(t, body, `name="csrf_token"`)

	status, body = app.start(t, studentFields, model.PDFMediaType, minimalPDF)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Biology &lt;Basics&gt;")
	assert.NotContains(t, body, "Biology <Basics>")
	assert.Contains(t, body, "Capital of France?")
	assert.Contains(t, body, `name="answer-1"`)
	assert.Contains(t, body, `<span class="blank"></span>`)
	assert.Equal(t, 1, app.gen.callCount())

	status, body = app.postForm(t, "/quiz/submit", answersForm(map[int]string{1: "Paris", 2: "photosynthesis"}))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Quiz Results")
	assert.Contains(t, body, "Your score: 2 / 2")
	assert.Contains(t, body, `class="pass"`)
	assert.Contains(t, body, "Take Another Quiz")

	// Reloading keeps the results.
	_, body = app.get(t, "/")
	assert.Contains(t, body, "Your score: 2 / 2")

	status, body = app.postForm(t, "/quiz/retake", url.Values{})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Reading Quiz Generator")
	assert.NotContains(t, body, `value="Ann"`)
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		fileType string
		data     []byte
		want     string
	}{
		{"missing name", map[string]string{"book_title": "B", "page_range": "1"}, model.PDFMediaType, minimalPDF, "Please fill in all fields"},
		{"blank pages", map[string]string{"name": "A", "book_title": "B", "page_range": "  "}, model.PDFMediaType, minimalPDF, "Please fill in all fields"},
		{"no file", studentFields, "", nil, "Please upload a PDF file."},
		{"declared text", studentFields, "text/plain", []byte("hello"), "Please upload a valid PDF file."},
		{"not really a pdf", studentFields, model.PDFMediaType, []byte("hello world"), "Please upload a valid PDF file."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, "")
			app.get(t, "/")

			status, body := app.start(t, tt.fields, tt.fileType, tt.data)
			assert.Equal(t, http.StatusUnprocessableEntity, status)
			assert.Contains(t, body, tt.want)
			assert.Contains(t, body, "Reading Quiz Generator")
			assert.Equal(t, 0, app.gen.callCount())
		})
	}
}

func TestStartTooLarge(t *testing.T) {
	app := newTestApp(t, "")
	app.get(t, "/")

	big := append(append([]byte(nil), minimalPDF...), bytes.Repeat([]byte("x"), 3<<19)...)
	status, body := app.start(t, studentFields, model.PDFMediaType, big)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "The file is too large.")
	assert.Equal(t, 0, app.gen.callCount())
}

func TestGenerationFailure(t *testing.T) {
	app := newTestApp(t, "")
	app.gen.err = &model.GenerationError{Reason: "response is not valid JSON"}
	app.get(t, "/")

	status, body := app.start(t, studentFields, model.PDFMediaType, minimalPDF)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Failed to generate quiz. response is not valid JSON")
	assert.Contains(t, body, "Reading Quiz Generator")
	assert.NotContains(t, body, `value="Ann"`)
}

func TestStartIgnoredOutsideForm(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"invalid form", map[string]string{"book_title": "B", "page_range": "1"}},
		{"valid form", studentFields},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, "")
			app.get(t, "/")
			_, body := app.start(t, studentFields, model.PDFMediaType, minimalPDF)
			require.Contains(t, body, "Capital of France?")

			status, body := app.start(t, tt.fields, model.PDFMediaType, minimalPDF)
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, "Capital of France?")
			assert.NotContains(t, body, "Please fill in all fields")
			assert.Equal(t, 1, app.gen.callCount())
		})
	}
}

func TestSubmitIncomplete(t *testing.T) {
	app := newTestApp(t, "")
	app.get(t, "/")
	app.start(t, studentFields, model.PDFMediaType, minimalPDF)

	status, body := app.postForm(t, "/quiz/submit", answersForm(map[int]string{1: "Paris"}))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "Please answer all questions before submitting.")
	assert.Contains(t, body, `value="Paris" checked`)
}

func TestGradingFailureKeepsAnswers(t *testing.T) {
	app := newTestApp(t, "")
	app.grader.err = &model.GradingError{QuestionID: 2, Reason: "AI service call failed", Wrapped: errors.New("503")}
	app.get(t, "/")
	app.start(t, studentFields, model.PDFMediaType, minimalPDF)

	status, body := app.postForm(t, "/quiz/submit", answersForm(map[int]string{1: "Paris", 2: "fotosynthesis"}))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Failed to grade quiz. AI service call failed")
	assert.Contains(t, body, `value="fotosynthesis"`)
	assert.Contains(t, body, `value="Paris" checked`)
}

func TestCSRFRequired(t *testing.T) {
	app := newTestApp(t, "")
	app.get(t, "/")

	status, _ := app.postForm(t, "/quiz/retake", url.Values{csrfFieldName: {"forged"}})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, "")

	status, body := app.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)

	status, _ = app.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
}

func TestBasePath(t *testing.T) {
	app := newTestApp(t, "/quiz")

	status, body := app.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `action="/quiz/quiz/start"`)

	status, body = app.start(t, studentFields, model.PDFMediaType, minimalPDF)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `action="/quiz/quiz/submit"`)
}

func TestParseAnswers(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/quiz/submit",
		strings.NewReader("answer-1=Paris&answer-2=+cell+&answer-x=bad&other=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, req.ParseForm())

	assert.Equal(t, model.Answers{1: "Paris", 2: " cell "}, parseAnswers(req))
}
