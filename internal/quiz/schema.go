package quiz

import (
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/readingquiz/internal/model"
)

// Schemas are built per call; see llm.Request.Schema.

func quizSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"questions": {
				Type: jsonschema.Array,
				Description: fmt.Sprintf("An array of %d quiz questions: %d multiple-choice and %d fill-in-the-blank.",
					model.QuestionCount, model.MultipleChoiceCount, model.FillInBlankCount),
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"id": {
							Type:        jsonschema.Number,
							Description: fmt.Sprintf("A unique ID for the question, from 1 to %d.", model.QuestionCount),
						},
						"type": {
							Type: jsonschema.String,
							Enum: []string{string(model.KindMultipleChoice), string(model.KindFillInBlank)},
						},
						"question": {
							Type:        jsonschema.String,
							Description: fmt.Sprintf("The question text. For fill-in-the-blank, it must include '%s' as a placeholder.", model.BlankMarker),
						},
						"options": {
							Type:        jsonschema.Array,
							Description: fmt.Sprintf("An array of %d possible answers. Required only for MULTIPLE_CHOICE.", model.OptionCount),
							Items:       &jsonschema.Definition{Type: jsonschema.String},
						},
						"correctAnswer": {
							Type:        jsonschema.String,
							Description: "The correct answer to the question.",
						},
					},
					Required: []string{"id", "type", "question", "correctAnswer"},
				},
			},
		},
		Required: []string{"questions"},
	}
}

func gradingSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"isCorrect": {
				Type:        jsonschema.Boolean,
				Description: "True if the student's answer is considered correct, false otherwise.",
			},
			"correctedSpelling": {
				Type:        jsonschema.String,
				Description: "If the student's answer is correct but misspelled, the correctly spelled answer. Otherwise omit this field.",
			},
		},
		Required: []string{"isCorrect"},
	}
}
