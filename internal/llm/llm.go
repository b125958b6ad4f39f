package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/readingquiz/internal/model"
)

var (
	// ErrDocumentUnsupported is returned by backends that cannot attach documents.
	ErrDocumentUnsupported = errors.New("backend does not accept document attachments")
	// ErrEmptyResponse is returned when the service answers with no content.
	ErrEmptyResponse = errors.New("AI service returned an empty response")
)

// Provider names an AI backend implementation.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// Request is a single structured-output call.
type Request struct {
	// Operation labels the call in logs and metrics (e.g. "generate", "grade").
	Operation   string
	Model       string // empty means the backend default
	Instruction string
	Document    *model.Document
	// SchemaName must match [a-zA-Z0-9_-]+.
	SchemaName string
	// Schema must not be shared between concurrent requests: marshaling
	// fills in nil property maps.
	Schema      *jsonschema.Definition
	Temperature float32
}

// Backend is the external AI service. It returns the raw JSON text of the
// response; decoding and validation belong to the caller.
type Backend interface {
	GenerateJSON(ctx context.Context, req Request) (string, error)
	Ping(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string // openai-compatible endpoint
	Model    string
}

// New creates the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderGemini, "":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, &model.ConfigurationError{Key: "provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// IsValidProvider checks if a provider name is known.
func IsValidProvider(p string) bool {
	switch Provider(strings.ToLower(p)) {
	case ProviderGemini, ProviderOpenAI:
		return true
	}
	return false
}
