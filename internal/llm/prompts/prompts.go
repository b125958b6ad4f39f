package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/readingquiz/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes bounds a fill-in-the-blank answer sent for grading.
const maxAnswerRunes = 500

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict accepts only exact answers and close synonyms.
	PromptStrict PromptVariant = "strict"
	// PromptStandard accepts answers with the same meaning.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is the default: spelling and grammar are forgiven.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	generateTmpl   *template.Template
	gradeTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GenerateData holds template data for the quiz generation prompt.
type GenerateData struct {
	DocumentKind   string
	Total          int
	MultipleChoice int
	FillInBlank    int
	Options        int
	Blank          string
}

// GradeData holds template data for fill-in-the-blank grading prompts.
type GradeData struct {
	CorrectAnswer string
	Answer        string
}

// Load parses the embedded prompt templates once.
func Load() error {
	loadOnce.Do(func() {
		gradeTemplates = make(map[PromptVariant]*template.Template)

		content, err := templateFS.ReadFile("templates/generate.txt")
		if err != nil {
			loadErr = errors.New("failed to read prompt file generate.txt: " + err.Error())
			return
		}
		generateTmpl, err = template.New("generate").Parse(string(content))
		if err != nil {
			loadErr = errors.New("failed to parse prompt template generate.txt: " + err.Error())
			return
		}

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			gradeFile := "templates/grade_" + string(v) + ".txt"

			gradeContent, err := templateFS.ReadFile(gradeFile)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + gradeFile + ": " + err.Error())
				return
			}

			gradeTmpl, err := template.New("grade").Parse(string(gradeContent))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + gradeFile + ": " + err.Error())
				return
			}
			gradeTemplates[v] = gradeTmpl
		}
	})
	return loadErr
}

// BuildGeneratePrompt builds the quiz generation instruction.
func BuildGeneratePrompt() (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}

	data := GenerateData{
		DocumentKind:   "PDF",
		Total:          model.QuestionCount,
		MultipleChoice: model.MultipleChoiceCount,
		FillInBlank:    model.FillInBlankCount,
		Options:        model.OptionCount,
		Blank:          model.BlankMarker,
	}

	var buf bytes.Buffer
	if err := generateTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGradePrompt builds a fill-in-the-blank grading instruction using the
// specified variant.
func BuildGradePrompt(variant PromptVariant, studentAnswer, correctAnswer string) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradeData{
		CorrectAnswer: strings.TrimSpace(correctAnswer),
		Answer:        sanitizeAnswer(studentAnswer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + " [truncated]"
	}

	return answer
}
