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
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stationops/skillcheck/internal/analysis"
	"github.com/stationops/skillcheck/internal/exam"
	"github.com/stationops/skillcheck/internal/handler"
	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/llm"
	"github.com/stationops/skillcheck/internal/llm/prompts"
	"github.com/stationops/skillcheck/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "skillcheck",
		Short:        "Employee skills assessment backend",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, seedCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "skillcheck.db", "SQLite path or PostgreSQL DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, zh)")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.StringSliceP("questions", "q", nil, "Question bank files to import at startup (repeatable)")
	f.String("admin-password", "", "Initial admin password (or set SKILLCHECK_ADMIN_PASSWORD)")
	f.String("admin-job-number", "ADMIN", "Job number of the initial admin user")

	f.Int("exam.question-count", 15, "Questions per generated paper")
	f.Float64("exam.weak-threshold", 60, "Mastery below which a tag counts as weak")
	f.Float64("exam.weak-ratio", 0.6, "Share of slots drawn from weak tags")
	f.Int("exam.exclude-recent-hours", 24, "Skip questions answered within this many hours")
	f.Int("exam.time-limit", 1800, "Paper time limit in seconds")
	f.Float64("capability.weight-old", 0.7, "EMA weight of the previous mastery")
	f.Float64("capability.weight-new", 0.3, "EMA weight of the latest accuracy")
	f.Bool("grading.normalize-multiple", false, "Compare multi-select answers as sets")

	f.String("ai.provider", string(llm.ProviderNone), "AI grading provider (openai, anthropic, none)")
	f.String("ai.base-url", "", "API base URL (empty for the provider default)")
	f.String("ai.api-key", "", "API key")
	f.String("ai.model", "", "Model name")
	f.Duration("ai.timeout", 15*time.Second, "Timeout of one grading call")
	f.Float64("ai.fallback-score", 60, "Score used when AI grading fails")
	f.String("ai.prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export capability profiles and exam scores as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

// setupLogging installs the default slog logger. Unknown levels mean info.
func setupLogging(v *viper.Viper) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(v.GetString("log-format"), "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SKILLCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("skillcheck")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/skillcheck")
	v.AddConfigPath("/etc/skillcheck")
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

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(store.Driver(strings.ToLower(v.GetString("db-driver"))), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	assessCfg, err := assessmentConfig(v)
	if err != nil {
		return err
	}
	aiCfg, err := llmConfig(v)
	if err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.Load(nil); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := seedAdmin(ctx, db, v.GetString("admin-job-number"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := importBanks(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("import questions: %w", err)
	}
	if err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	}

	client, err := llm.New(aiCfg)
	if err != nil {
		return fmt.Errorf("create AI client: %w", err)
	}
	grader := llm.NewGrader(client, aiCfg)

	h := handler.New(db, exam.NewService(db, assessCfg, grader), analysis.NewService(db))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"lang", lang,
		"ai_provider", aiCfg.Provider,
		"ai_model", aiCfg.Model,
		"question_count", assessCfg.QuestionCount,
		"weak_ratio", assessCfg.WeakRatio,
		"normalize_multiple", assessCfg.NormalizeMultiple,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	export, err := db.ExportCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("export capabilities: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported capabilities", "users", len(export.Users), "output", outPath)
	return nil
}
