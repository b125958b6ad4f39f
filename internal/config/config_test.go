package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/llm/prompts"
	"github.com/pavelanni/readingquiz/internal/model"
)

func newTestViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("READINGQUIZ_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddServeFlags(fs)
	AddLogFlags(fs)
	require.NoError(t, fs.Parse(args))
	return NewViper(fs)
}

func TestFromViperDefaults(t *testing.T) {
	v := newTestViper(t, "--api-key", "secret")

	c, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "secret", c.APIKey)
	assert.Equal(t, llm.DefaultGeminiModel, c.GenerationModel)
	assert.Equal(t, llm.ProviderGemini, c.GradingProvider)
	assert.Equal(t, c.GenerationModel, c.GradingModel)
	assert.Equal(t, model.PolicyAllOrNothing, c.GradingPolicy)
	assert.Equal(t, prompts.PromptLenient, c.PromptVariant)
	assert.Equal(t, "en", c.Lang)
	assert.Equal(t, 10, c.MaxUploadMB)
	assert.Equal(t, 2*time.Hour, c.SessionTTL)
	assert.Zero(t, c.GradingTimeout)
	assert.True(t, c.SecureCookies)
}

func TestMissingCredentialIsFatal(t *testing.T) {
	v := newTestViper(t)

	_, err := FromViper(v)
	var cerr *model.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "api-key", cerr.Key)
	assert.Contains(t, cerr.Reason, "GEMINI_API_KEY")
}

func TestCredentialFromEnvironment(t *testing.T) {
	t.Run("prefixed", func(t *testing.T) {
		v := newTestViper(t)
		t.Setenv("READINGQUIZ_API_KEY", "from-env")
		c, err := FromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "from-env", c.APIKey)
	})

	t.Run("gemini fallback", func(t *testing.T) {
		v := newTestViper(t)
		t.Setenv("GEMINI_API_KEY", "gemini-env")
		c, err := FromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "gemini-env", c.APIKey)
	})
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("READINGQUIZ_TEST_ONLY=loaded\n"), 0o600))
	t.Setenv("READINGQUIZ_TEST_ONLY", "")
	os.Unsetenv("READINGQUIZ_TEST_ONLY")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("READINGQUIZ_TEST_ONLY"))

	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	require.NoError(t, LoadEnvFile(""))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		key  string
	}{
		{"provider", []string{"--grading-provider", "claude"}, "grading-provider"},
		{"policy", []string{"--grading-policy", "some"}, "grading-policy"},
		{"variant", []string{"--prompt-variant", "harsh"}, "prompt-variant"},
		{"lang", []string{"--lang", "de"}, "lang"},
		{"upload size", []string{"--max-upload-mb", "500"}, "max-upload-mb"},
		{"negative timeout", []string{"--grading-timeout", "-1s"}, "grading-timeout"},
		{"openai without model", []string{"--grading-provider", "openai"}, "grading-model"},
		{"openai without url", []string{"--grading-provider", "openai", "--grading-model", "m", "--llm-url", ""}, "llm-url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper(t, append([]string{"--api-key", "k"}, tt.args...)...)
			_, err := FromViper(v)
			var cerr *model.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestOpenAIGrading(t *testing.T) {
	v := newTestViper(t, "--api-key", "k", "--grading-provider", "OpenAI", "--grading-model", "llama3.2")
	c, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, c.GradingProvider)
	assert.Equal(t, "llama3.2", c.GradingModel)
	assert.Equal(t, "http://localhost:11434/v1", c.LLMURL)
}

func TestNormalizeBasePath(t *testing.T) {
	tests := map[string]string{
		"":        "",
		"/":       "",
		"quiz":    "/quiz",
		"/quiz/":  "/quiz",
		" /a/b/ ": "/a/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeBasePath(in), in)
	}
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevel("debug").String())
	assert.Equal(t, "WARN", LogLevel("WARN").String())
	assert.Equal(t, "INFO", LogLevel("verbose").String())
}
