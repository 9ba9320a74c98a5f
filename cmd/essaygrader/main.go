package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/essaygrader/internal/handler"
	appI18n "github.com/pavelanni/essaygrader/internal/i18n"
	"github.com/pavelanni/essaygrader/internal/llm"
	"github.com/pavelanni/essaygrader/internal/llm/prompts"
	"github.com/pavelanni/essaygrader/internal/model"
	"github.com/pavelanni/essaygrader/internal/rubric"
	"github.com/pavelanni/essaygrader/internal/sink"
	"github.com/pavelanni/essaygrader/internal/store"
	"github.com/pavelanni/essaygrader/internal/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "essaygrader",
		Short: "Essay draft feedback and revision review powered by LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), rubricCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `essaygrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "essaygrader.db", "SQLite database path")
	f.StringP("rubric", "r", "", "Rubric TOML file (empty = built-in rubric)")
	f.String("llm-provider", "gemini", "Model provider (gemini, openai)")
	f.String("llm-url", "", "Provider base URL (empty = provider default)")
	f.String("llm-key", "", "API key for the model provider")
	f.StringSlice("llm-model", []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}, "Candidate models, first working one is used")
	f.Bool("llm-skip-probe", false, "Use the first candidate model without a test request")
	f.Int("llm-max-attempts", llm.DefaultRetryPolicy.MaxAttempts, "Attempts per model request")
	f.Duration("llm-retry-delay", llm.DefaultRetryPolicy.Delay, "Base wait between attempts")
	f.String("llm-backoff", string(llm.DefaultRetryPolicy.Backoff), "Wait growth between attempts (fixed, linear)")
	f.Float32("llm-temperature", 0, "Sampling temperature (0 = provider default)")
	f.Int("llm-max-tokens", 0, "Maximum output tokens (0 = provider default)")
	f.Duration("llm-timeout", 120*time.Second, "Timeout for a single model request")
	f.String("sink-url", "", "Spreadsheet webhook URL for submission events (empty = local log only)")
	f.Duration("sink-timeout", 15*time.Second, "Timeout for a webhook post")
	f.StringP("lang", "l", appI18n.Auto, "UI language (en, es, auto)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /es)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Duration("session-ttl", 24*time.Hour, "Idle lifetime of a student submission")
	f.Bool("require-changes", true, "Reject revisions identical to the first draft")
	f.StringSlice("cors-origins", nil, "Allowed origins for the JSON API (empty = any)")
	f.String("admin-password", "", "Admin password (or set ESSAYGRADER_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded submission events as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "essaygrader.db", "SQLite database path")
	f.StringP("rubric", "r", "", "Rubric TOML file used for the task label (empty = built-in rubric)")
	f.String("kind", "", "Only export events of this type (FIRST, REVISION)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func rubricCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Validate a rubric and print the grading prompt it produces",
		RunE:  runRubric,
	}
	f := cmd.Flags()
	f.StringP("rubric", "r", "", "Rubric TOML file (empty = built-in rubric)")
	f.String("essay-file", "", "Sample essay to place in the prompt (empty = placeholder)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func setupLogging(v *viper.Viper) {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(v.GetString("log-level"))}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ESSAYGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("essaygrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/essaygrader")
	v.AddConfigPath("/etc/essaygrader")
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

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	rb, err := rubric.Load(v.GetString("rubric"))
	if err != nil {
		return err
	}
	slog.Info("rubric loaded", "label", rb.Rubric.Label, "source", rb.Source, "hash", rb.Hash[:12])

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := checkRubricHash(db, rb); err != nil {
		return fmt.Errorf("record rubric hash: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newModelClient(ctx, v)
	if err != nil {
		return err
	}

	emitters := sink.Multi{sink.Mirror{Recorder: db}}
	if url := v.GetString("sink-url"); url != "" {
		emitters = append(emitters, sink.NewWebhook(url, v.GetDuration("sink-timeout")))
	} else {
		slog.Warn("no sink-url configured, events are only stored locally")
	}

	flow := workflow.New(rb.Rubric, client, db, emitters, workflow.Options{
		RequireChanges: v.GetBool("require-changes"),
	})

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServerConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		SessionTTL:    v.GetDuration("session-ttl"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	}

	h, err := handler.New(db, flow, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	reqLogger := httplog.NewLogger("essaygrader", httplog.Options{
		LogLevel:         parseLevel(v.GetString("log-level")),
		JSON:             strings.EqualFold(v.GetString("log-format"), "json"),
		Concise:          true,
		MessageFieldName: "message",
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(reqLogger))
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	go cleanupLoop(ctx, db, cfg.SessionTTL)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"provider", v.GetString("llm-provider"),
		"model", client.Model(),
		"lang", lang,
		"base_path", basePath,
		"require_changes", flow.Options().RequireChanges,
		"sink", v.GetString("sink-url") != "",
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newModelClient(ctx context.Context, v *viper.Viper) (*llm.Client, error) {
	backoff, err := llm.ParseBackoff(v.GetString("llm-backoff"))
	if err != nil {
		return nil, err
	}
	policy := llm.RetryPolicy{
		MaxAttempts: v.GetInt("llm-max-attempts"),
		Delay:       v.GetDuration("llm-retry-delay"),
		Backoff:     backoff,
	}
	provider, err := llm.NewProvider(
		v.GetString("llm-provider"),
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		llm.Sampling{
			Temperature:     float32(v.GetFloat64("llm-temperature")),
			MaxOutputTokens: v.GetInt("llm-max-tokens"),
		},
		v.GetDuration("llm-timeout"),
	)
	if err != nil {
		return nil, err
	}

	models := v.GetStringSlice("llm-model")
	if v.GetBool("llm-skip-probe") {
		if len(models) == 0 || strings.TrimSpace(models[0]) == "" {
			return nil, errors.New("no model configured")
		}
		return llm.NewWithModel(provider, strings.TrimSpace(models[0]), policy), nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*v.GetDuration("llm-timeout"))
	defer cancel()
	client, err := llm.New(probeCtx, provider, models, policy)
	if err != nil {
		return nil, fmt.Errorf("model health check: %w", err)
	}
	return client, nil
}

func cleanupLoop(ctx context.Context, db *store.Store, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupExpired(ttl)
			if err != nil {
				slog.Warn("cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed idle submissions", "count", n)
			}
		}
	}
}

func checkRubricHash(db *store.Store, rb rubric.Loaded) error {
	prev, err := db.SwapRubricHash(rb.Hash)
	if err != nil {
		return err
	}
	if prev == "" || prev == rb.Hash {
		return nil
	}
	events, err := db.EventCount()
	if err != nil {
		return err
	}
	if events > 0 {
		slog.Warn("rubric changed since events were recorded; marks before and after are not comparable",
			"previous_hash", prev, "hash", rb.Hash, "recorded_events", events)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	rb, err := rubric.Load(v.GetString("rubric"))
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	kind := model.EventKind(strings.ToUpper(v.GetString("kind")))
	if kind != "" && kind != model.EventFirst && kind != model.EventRevision {
		return fmt.Errorf("unknown event kind %q (want FIRST or REVISION)", kind)
	}

	hash, err := db.GetMetadata(store.MetaRubricHash)
	if err != nil {
		return fmt.Errorf("read rubric hash: %w", err)
	}
	if hash != "" && hash != rb.Hash {
		slog.Warn("the database was last served with a different rubric", "stored_hash", hash, "hash", rb.Hash)
	}

	export, err := db.ExportEvents(kind, rb.Rubric.Label, hash)
	if err != nil {
		return fmt.Errorf("export events: %w", err)
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported events", "submissions", len(export.Submissions), "events", export.NumEvents)
	return nil
}

func runRubric(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	rb, err := rubric.Load(v.GetString("rubric"))
	if err != nil {
		return err
	}

	essay := "[sample essay]"
	if path := v.GetString("essay-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read essay: %w", err)
		}
		essay = string(data)
	}

	prompt, err := prompts.BuildDraftPrompt(prompts.DraftData{
		Rules:          rb.Rubric.Rules,
		Task:           rb.Rubric.Task,
		RequiredPoints: rb.Rubric.RequiredPoints,
		OutputFormat:   rb.Rubric.OutputFormat,
		WordCount:      prompts.WordCount(essay),
		Essay:          essay,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s (%s, sha256 %s)\n", rb.Rubric.Label, rb.Source, rb.Hash)
	fmt.Fprintf(out, "# groups: %s; max students: %d\n\n", strings.Join(rb.Rubric.Groups, ", "), rb.Rubric.MaxStudents)
	fmt.Fprintln(out, prompt)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		if err := db.UpsertAdmin("admin", string(hash)); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		slog.Info("admin user ready", "username", "admin")
		return nil
	}

	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count == 0 {
		slog.Warn("no users exist and no admin password is set; the admin area is unreachable",
			"hint", "set --admin-password or ESSAYGRADER_ADMIN_PASSWORD")
	}
	return nil
}
