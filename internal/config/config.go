// Package config collects the server settings from flags, environment,
// an optional config file and a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/llm/prompts"
	"github.com/pavelanni/readingquiz/internal/model"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "READINGQUIZ"

// Config holds all values the server needs. Field tags name the flag a
// value comes from so validation errors point at it.
type Config struct {
	Addr string `flag:"addr" validate:"required"`
	// APIKey is the Gemini credential used for quiz generation and, with the
	// gemini grading provider, for grading.
	APIKey          string `flag:"api-key" validate:"required"`
	GenerationModel string `flag:"generation-model" validate:"required"`

	GradingProvider llm.Provider `flag:"grading-provider" validate:"oneof=gemini openai"`
	GradingModel    string       `flag:"grading-model"`
	LLMURL          string       `flag:"llm-url" validate:"required_if=GradingProvider openai"`
	LLMKey          string       `flag:"llm-key"`

	GradingPolicy  model.GradingPolicy   `flag:"grading-policy" validate:"oneof=all-or-nothing partial"`
	GradingTimeout time.Duration         `flag:"grading-timeout" validate:"min=0"`
	PromptVariant  prompts.PromptVariant `flag:"prompt-variant" validate:"oneof=strict standard lenient"`

	Lang          string        `flag:"lang" validate:"oneof=en ru"`
	BasePath      string        `flag:"base-path"`
	SecureCookies bool          `flag:"secure-cookies"`
	MaxUploadMB   int           `flag:"max-upload-mb" validate:"min=1,max=100"`
	SessionTTL    time.Duration `flag:"session-ttl" validate:"min=0"`
	Metrics       bool          `flag:"metrics"`
}

// AddServeFlags registers the server flags with their defaults.
func AddServeFlags(f *pflag.FlagSet) {
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	AddLLMFlags(f)
	f.String("grading-provider", string(llm.ProviderGemini), "AI backend for grading (gemini, openai)")
	f.String("grading-model", "", "Model used for grading (default: the generation model for gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL for the openai grading provider")
	f.String("llm-key", "ollama", "API key for the OpenAI-compatible endpoint")
	f.String("grading-policy", string(model.PolicyAllOrNothing), "What a failed grading call does (all-or-nothing, partial)")
	f.Duration("grading-timeout", 0, "Timeout for each grading call (0 = none)")
	f.String("prompt-variant", string(prompts.PromptLenient), "Grading prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /quiz)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Int("max-upload-mb", 10, "Maximum document size in MB")
	f.Duration("session-ttl", 2*time.Hour, "How long an idle quiz session is kept in memory")
	f.Bool("metrics", true, "Expose Prometheus metrics on /metrics")
}

// AddLLMFlags registers the flags shared by every command that talks to Gemini.
func AddLLMFlags(f *pflag.FlagSet) {
	f.String("api-key", "", "Gemini API key (or set READINGQUIZ_API_KEY or GEMINI_API_KEY)")
	f.String("generation-model", llm.DefaultGeminiModel, "Gemini model used for quiz generation")
}

// AddLogFlags registers the logging flags.
func AddLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("env-file", ".env", "Dotenv file loaded before reading the environment")
}

// LoadEnvFile loads variables from a dotenv file. Variables already set in
// the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

// NewViper binds a flag set and the environment to a fresh viper instance
// and reads the optional readingquiz config file.
func NewViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api-key", EnvPrefix+"_API_KEY", "GEMINI_API_KEY")

	v.SetConfigName("readingquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/readingquiz")
	v.AddConfigPath("/etc/readingquiz")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// FromViper builds a Config from a bound viper instance and validates it.
func FromViper(v *viper.Viper) (Config, error) {
	c := Config{
		Addr:            v.GetString("addr"),
		APIKey:          strings.TrimSpace(v.GetString("api-key")),
		GenerationModel: v.GetString("generation-model"),
		GradingProvider: llm.Provider(strings.ToLower(strings.TrimSpace(v.GetString("grading-provider")))),
		GradingModel:    v.GetString("grading-model"),
		LLMURL:          v.GetString("llm-url"),
		LLMKey:          v.GetString("llm-key"),
		GradingPolicy:   model.GradingPolicy(strings.ToLower(strings.TrimSpace(v.GetString("grading-policy")))),
		GradingTimeout:  v.GetDuration("grading-timeout"),
		PromptVariant:   prompts.PromptVariant(strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))),
		Lang:            strings.ToLower(v.GetString("lang")),
		BasePath:        NormalizeBasePath(v.GetString("base-path")),
		SecureCookies:   v.GetBool("secure-cookies"),
		MaxUploadMB:     v.GetInt("max-upload-mb"),
		SessionTTL:      v.GetDuration("session-ttl"),
		Metrics:         v.GetBool("metrics"),
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.GenerationModel == "" {
		c.GenerationModel = llm.DefaultGeminiModel
	}
	if c.GradingProvider == "" {
		c.GradingProvider = llm.ProviderGemini
	}
	if c.GradingModel == "" && c.GradingProvider == llm.ProviderGemini {
		c.GradingModel = c.GenerationModel
	}
	if c.GradingPolicy == "" {
		c.GradingPolicy = model.PolicyAllOrNothing
	}
	if c.PromptVariant == "" {
		c.PromptVariant = prompts.PromptLenient
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 10
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("flag")
	})
	return v
}

// Validate reports the first invalid setting as a *model.ConfigurationError.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.GradingProvider == llm.ProviderOpenAI && c.GradingModel == "" {
			return &model.ConfigurationError{Key: "grading-model", Reason: "required for the openai grading provider"}
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &model.ConfigurationError{Key: "config", Reason: err.Error()}
	}
	fe := verrs[0]
	return &model.ConfigurationError{Key: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "api-key" {
			return "missing AI access credential: set --api-key, READINGQUIZ_API_KEY or GEMINI_API_KEY"
		}
		return "required"
	case "required_if":
		return "required for the openai grading provider"
	case "oneof":
		return fmt.Sprintf("%q is not one of: %s", fmt.Sprint(fe.Value()), fe.Param())
	case "min", "max":
		return fmt.Sprintf("%v is out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param())
	default:
		return fe.Error()
	}
}

// NormalizeBasePath returns "" or a path with a leading and no trailing slash.
func NormalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// AppConfig returns the options the HTTP layer needs.
func (c Config) AppConfig() model.AppConfig {
	return model.AppConfig{
		BasePath:      c.BasePath,
		SecureCookies: c.SecureCookies,
		MaxUploadMB:   c.MaxUploadMB,
		Metrics:       c.Metrics,
	}
}

// LogLevel parses a log level name; unknown names mean info.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
