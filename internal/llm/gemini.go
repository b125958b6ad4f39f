package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/option"

	"github.com/pavelanni/readingquiz/internal/metrics"
	"github.com/pavelanni/readingquiz/internal/model"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini talks to the Google Generative Language API. It accepts inline
// document attachments.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini backend. The API key is required.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &model.ConfigurationError{Key: "api-key", Reason: "AI service credential is not set"}
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: modelName}, nil
}

// Close releases the underlying connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// GenerateJSON sends the optional document followed by the instruction.
func (g *Gemini) GenerateJSON(ctx context.Context, req Request) (raw string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM(req.Operation, start, err) }()

	modelName := req.Model
	if modelName == "" {
		modelName = g.model
	}

	// A fresh model per call: GenerativeModel carries mutable config.
	m := g.client.GenerativeModel(modelName)
	m.ResponseMIMEType = "application/json"
	if req.Schema != nil {
		m.ResponseSchema = toGenaiSchema(req.Schema)
	}
	m.SetTemperature(req.Temperature)

	var parts []genai.Part
	if req.Document != nil {
		parts = append(parts, genai.Blob{MIMEType: req.Document.MediaType, Data: req.Document.Data})
	}
	parts = append(parts, genai.Text(req.Instruction))

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("Gemini API call: %w", err)
	}
	if resp.UsageMetadata != nil {
		slog.Debug("Gemini token usage",
			"operation", req.Operation,
			"prompt", resp.UsageMetadata.PromptTokenCount,
			"candidates", resp.UsageMetadata.CandidatesTokenCount,
			"total", resp.UsageMetadata.TotalTokenCount,
		)
	}

	raw = strings.TrimSpace(responseText(resp))
	slog.Debug("LLM response", "operation", req.Operation, "model", modelName, "raw", raw)
	if raw == "" {
		return "", ErrEmptyResponse
	}
	return raw, nil
}

// Ping fetches the default model's metadata.
func (g *Gemini) Ping(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.model).Info(ctx); err != nil {
		return fmt.Errorf("model info: %w", err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// toGenaiSchema converts a JSON schema definition to the Gemini schema type.
func toGenaiSchema(d *jsonschema.Definition) *genai.Schema {
	if d == nil {
		return nil
	}
	s := &genai.Schema{
		Type:        genaiType(d.Type),
		Description: d.Description,
		Nullable:    d.Nullable,
		Enum:        d.Enum,
		Required:    d.Required,
	}
	if d.Items != nil {
		s.Items = toGenaiSchema(d.Items)
	}
	if len(d.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(d.Properties))
		for name, prop := range d.Properties {
			s.Properties[name] = toGenaiSchema(&prop)
		}
	}
	return s
}

func genaiType(t jsonschema.DataType) genai.Type {
	switch t {
	case jsonschema.Object:
		return genai.TypeObject
	case jsonschema.Array:
		return genai.TypeArray
	case jsonschema.String:
		return genai.TypeString
	case jsonschema.Number:
		return genai.TypeNumber
	case jsonschema.Integer:
		return genai.TypeInteger
	case jsonschema.Boolean:
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}
