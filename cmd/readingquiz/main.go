package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/readingquiz/internal/config"
	"github.com/pavelanni/readingquiz/internal/document"
	"github.com/pavelanni/readingquiz/internal/handler"
	appI18n "github.com/pavelanni/readingquiz/internal/i18n"
	"github.com/pavelanni/readingquiz/internal/llm"
	"github.com/pavelanni/readingquiz/internal/metrics"
	"github.com/pavelanni/readingquiz/internal/model"
	"github.com/pavelanni/readingquiz/internal/quiz"
	"github.com/pavelanni/readingquiz/internal/session"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "readingquiz",
		Short:        "Reading quiz generator and grader powered by LLMs",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	config.AddServeFlags(cmd.Flags())
	config.AddLogFlags(cmd.Flags())
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a quiz from a PDF and print it as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	config.AddLLMFlags(f)
	config.AddLogFlags(f)
	f.String("document", "", "Path to the PDF reading assignment (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.Int("max-upload-mb", 10, "Maximum document size in MB")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

// loadViper reads the dotenv file, binds the command's flags and sets up
// logging. It runs first in every command.
func loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	v := config.NewViper(cmd.Flags())
	setupLogging(v)
	return v, nil
}

func setupLogging(v *viper.Viper) {
	handlerOpts := &slog.HandlerOptions{Level: config.LogLevel(v.GetString("log-level"))}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := loadViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if cfg.Metrics {
		metrics.Init()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := llm.NewGemini(ctx, cfg.APIKey, cfg.GenerationModel)
	if err != nil {
		return fmt.Errorf("create generation backend: %w", err)
	}
	defer gen.Close()
	if err := gen.Ping(ctx); err != nil {
		return fmt.Errorf("generation backend health check: %w", err)
	}
	slog.Info("generation backend OK", "model", cfg.GenerationModel)

	gradingBackend, err := newGradingBackend(ctx, cfg, gen)
	if err != nil {
		return err
	}

	generator := quiz.NewGenerator(gen, cfg.GenerationModel)
	grader := quiz.NewGrader(gradingBackend, quiz.GraderConfig{
		Model:   cfg.GradingModel,
		Variant: cfg.PromptVariant,
		Policy:  cfg.GradingPolicy,
		Timeout: cfg.GradingTimeout,
	})

	reg := session.NewRegistry(cfg.SessionTTL, func(id string) *session.Machine {
		return session.NewMachine(id, generator, grader, session.WithTransitionHook(session.LogTransition))
	})
	go reg.Run(ctx)

	h := handler.New(reg, cfg.AppConfig())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(cfg.Lang),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Addr,
			"generation_model", cfg.GenerationModel,
			"grading_provider", cfg.GradingProvider,
			"grading_model", cfg.GradingModel,
			"grading_policy", cfg.GradingPolicy,
			"prompt_variant", cfg.PromptVariant,
			"lang", cfg.Lang,
			"base_path", cfg.BasePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newGradingBackend returns the backend for fill-in-the-blank grading. The
// gemini provider shares the generation client.
func newGradingBackend(ctx context.Context, cfg config.Config, gen *llm.Gemini) (llm.Backend, error) {
	if cfg.GradingProvider != llm.ProviderOpenAI {
		return gen, nil
	}
	b, err := llm.New(ctx, llm.Config{
		Provider: cfg.GradingProvider,
		APIKey:   cfg.LLMKey,
		BaseURL:  cfg.LLMURL,
		Model:    cfg.GradingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create grading backend: %w", err)
	}
	if err := b.Ping(ctx); err != nil {
		return nil, fmt.Errorf("grading backend health check: %w", err)
	}
	slog.Info("grading backend OK", "url", cfg.LLMURL, "model", cfg.GradingModel)
	return b, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	v, err := loadViper(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	path := v.GetString("document")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	doc, err := document.Read(f, filepath.Base(path), model.PDFMediaType, int64(v.GetInt("max-upload-mb"))<<20)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	modelName := v.GetString("generation-model")
	gen, err := llm.NewGemini(ctx, strings.TrimSpace(v.GetString("api-key")), modelName)
	if err != nil {
		return fmt.Errorf("create generation backend: %w", err)
	}
	defer gen.Close()

	questions, err := quiz.NewGenerator(gen, modelName).Generate(ctx, doc)
	if err != nil {
		return err
	}
	slog.Info("generated quiz", "document", path, "questions", len(questions))

	data, err := json.MarshalIndent(map[string]any{"questions": questions}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
		w = out
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
