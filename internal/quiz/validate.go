package quiz

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/readingquiz/internal/model"
)

// Message IDs for validation errors. They are translation keys.
const (
	MsgFormIncomplete    = "ErrFormIncomplete"
	MsgDocumentMissing   = "ErrDocumentMissing"
	MsgInvalidDocument   = "ErrInvalidPDF"
	MsgDocumentTooLarge  = "ErrDocumentTooLarge"
	MsgAnswersIncomplete = "ErrAnswersIncomplete"
	MsgUnknownQuestion   = "ErrUnknownQuestion"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// NormalizeStudentInfo trims every field.
func NormalizeStudentInfo(info model.StudentInfo) model.StudentInfo {
	return model.StudentInfo{
		Name:      strings.TrimSpace(info.Name),
		BookTitle: strings.TrimSpace(info.BookTitle),
		PageRange: strings.TrimSpace(info.PageRange),
	}
}

// ValidateStudentInfo checks that no field is empty after trimming. The
// returned error names the first missing field.
func ValidateStudentInfo(info model.StudentInfo) error {
	info = NormalizeStudentInfo(info)
	err := formValidator().Struct(info)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &model.ValidationError{Field: verrs[0].Field(), MessageID: MsgFormIncomplete}
	}
	return &model.ValidationError{MessageID: MsgFormIncomplete}
}

// ValidateForm checks the whole start form: the student fields and a
// present PDF document.
func ValidateForm(info model.StudentInfo, doc *model.Document) error {
	if err := ValidateStudentInfo(info); err != nil {
		return err
	}
	if doc == nil || len(doc.Data) == 0 {
		return &model.ValidationError{Field: "document", MessageID: MsgDocumentMissing}
	}
	if doc.MediaType != model.PDFMediaType {
		return &model.ValidationError{Field: "document", MessageID: MsgInvalidDocument}
	}
	return nil
}

// ValidateAnswers accepts answers only if its key set equals the question ids
// and every answer is non-empty after trimming.
func ValidateAnswers(questions []model.Question, answers model.Answers) error {
	ids := make(map[int]bool, len(questions))
	for _, q := range questions {
		ids[q.ID] = true
		if strings.TrimSpace(answers[q.ID]) == "" {
			return &model.ValidationError{Field: "answer-" + strconv.Itoa(q.ID), MessageID: MsgAnswersIncomplete}
		}
	}
	for id := range answers {
		if !ids[id] {
			return &model.ValidationError{Field: "answer-" + strconv.Itoa(id), MessageID: MsgUnknownQuestion}
		}
	}
	return nil
}
