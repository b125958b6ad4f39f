package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/readingquiz/internal/metrics"
)

// OpenAI talks to any OpenAI-compatible chat completion endpoint
// (OpenAI, Ollama, vLLM, LM Studio). It only handles text requests.
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a new OpenAI-compatible backend.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// GenerateJSON sends the instruction as a single user message and asks for
// a JSON response, constrained by the schema when one is given.
func (c *OpenAI) GenerateJSON(ctx context.Context, req Request) (raw string, err error) {
	if req.Document != nil {
		return "", ErrDocumentUnsupported
	}

	start := time.Now()
	defer func() { metrics.ObserveLLM(req.Operation, start, err) }()

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	if req.Schema != nil {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Instruction},
		},
		ResponseFormat: format,
		Temperature:    req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw = strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "operation", req.Operation, "model", modelName, "raw", raw)
	if raw == "" {
		return "", ErrEmptyResponse
	}
	return raw, nil
}

// Ping checks that the endpoint is reachable by listing its models.
func (c *OpenAI) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
