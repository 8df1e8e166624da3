package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/fairtest/fairtest/internal/evaluator"
	"github.com/fairtest/fairtest/internal/fairtest"
	"github.com/fairtest/fairtest/internal/handler"
	"github.com/fairtest/fairtest/internal/hashchain"
	appI18n "github.com/fairtest/fairtest/internal/i18n"
	"github.com/fairtest/fairtest/internal/identity"
	"github.com/fairtest/fairtest/internal/llm"
	"github.com/fairtest/fairtest/internal/llm/prompts"
	"github.com/fairtest/fairtest/internal/model"
	"github.com/fairtest/fairtest/internal/store"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fairtest",
		Short: "Anonymous exam submissions with auto-grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, identityCmd(), gradeCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "fairtest.db", "SQLite ledger database path")
	f.String("identity-db", "", "SQLite path for device-local identities (default: the ledger database)")
	f.String("hash", hashchain.SHA256, "Identity hash algorithm (sha256, sha3-256, blake2b-256, fnv-insecure)")
	f.Int("pass-threshold", evaluator.DefaultPassThreshold, "Pass percentage for exams that set none")
	f.String("llm-url", "", "OpenAI-compatible API base URL for grading suggestions (empty disables them)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Suggestion prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.String("admin-password", "", "Initial admin password (or set FAIRTEST_ADMIN_PASSWORD)")
	addLogFlags(cmd)
	return cmd
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create or recover the local exam identity for a wallet",
		RunE:  runIdentity,
	}
	f := cmd.Flags()
	f.String("db", "fairtest.db", "SQLite database holding local identities")
	f.String("exam-id", "", "Exam identifier (required)")
	f.String("wallet", "", "Wallet address; required unless --recover is set")
	f.Bool("recover", false, "Print the stored identity instead of creating one")
	f.String("hash", hashchain.SHA256, "Identity hash algorithm")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade EXAM.json ANSWERS.json",
		Short: "Auto-grade an answer sheet offline",
		Args:  cobra.ExactArgs(2),
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringToString("manual", nil, "Manual scores as questionID=score (repeatable)")
	f.Int("pass-threshold", 0, "Pass percentage (default: the exam's, else the built-in default)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "fairtest.db", "SQLite ledger database path")
	f.String("exam-id", "", "Exam identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
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

	v.SetEnvPrefix("FAIRTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("fairtest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/fairtest")
	v.AddConfigPath("/etc/fairtest")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	}

	// Local identities live in the ledger database unless a separate file
	// is given.
	var local identity.Store = db
	if path := v.GetString("identity-db"); path != "" {
		localDB, err := store.New(path)
		if err != nil {
			return fmt.Errorf("open identity database: %w", err)
		}
		defer localDB.Close()
		local = localDB
	}

	hasher, err := hashchain.New(v.GetString("hash"))
	if err != nil {
		return err
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(promptVariant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
			promptVariant = string(prompts.PromptStandard)
		}
		llmClient = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), promptVariant)
		if err := llmClient.Ping(ctx); err != nil {
			slog.Warn("LLM endpoint unreachable, grading suggestions disabled", "url", url, "error", err)
			llmClient = nil
		} else {
			slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
		}
	}

	threshold := v.GetInt("pass-threshold")
	svc := fairtest.New(identity.New(hasher, local), db, fairtest.WithPassThreshold(threshold))
	h := handler.New(svc, db, llmClient, model.ServerConfig{
		Lang:          lang,
		PassThreshold: threshold,
		PromptVariant: v.GetString("prompt-variant"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"hash", hasher.Name(),
		"lang", lang,
		"pass_threshold", threshold,
		"suggestions", llmClient != nil,
	)
	return http.ListenAndServe(addr, r)
}

func runIdentity(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hasher, err := hashchain.New(v.GetString("hash"))
	if err != nil {
		return err
	}
	ids := identity.New(hasher, db)
	examID := v.GetString("exam-id")

	if v.GetBool("recover") {
		id, err := ids.RecoverUID(examID)
		if err != nil {
			return err
		}
		if id == nil {
			return fmt.Errorf("no identity stored for exam %s", examID)
		}
		return writeJSON(os.Stdout, id)
	}

	wallet := v.GetString("wallet")
	if wallet == "" {
		return fmt.Errorf("--wallet is required to create an identity")
	}
	id, err := ids.GenerateExamIdentity(wallet, examID)
	if err != nil {
		return err
	}
	if err := identity.Gate(id, wallet); err != nil {
		return err
	}
	if err := ids.StoreUIDLocally(id); err != nil {
		slog.Warn("identity not stored; keep the final hash to find your result", "error", err)
	}
	return writeJSON(os.Stdout, id)
}

type gradeReport struct {
	Auto   model.AutoEvalResult `json:"auto"`
	Final  model.FinalResult    `json:"final"`
	Passed bool                 `json:"passed"`
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var exam model.Exam
	if err := readJSONFile(args[0], &exam); err != nil {
		return err
	}
	if err := fairtest.ValidateExam(exam); err != nil {
		return err
	}
	var answers model.Answers
	if err := readJSONFile(args[1], &answers); err != nil {
		return err
	}

	manual := make(map[string]float64)
	raw, err := cmd.Flags().GetStringToString("manual")
	if err != nil {
		return err
	}
	for id, s := range raw {
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("manual score for %s: %w", id, err)
		}
		manual[id] = score
	}

	threshold := v.GetInt("pass-threshold")
	if threshold <= 0 {
		threshold = exam.PassThreshold
	}

	auto := evaluator.EvaluateExam(exam.Questions, answers)
	final := evaluator.MergeFinalScore(auto, manual)
	for _, id := range auto.ManualGrading {
		if _, ok := manual[id]; !ok {
			slog.Warn("question has no manual score and counts as zero", "question_id", id)
		}
	}
	return writeJSON(os.Stdout, gradeReport{Auto: auto, Final: final, Passed: evaluator.Passed(final, threshold)})
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportResults(context.Background(), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
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
	return writeJSON(w, export)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.OperatorCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or FAIRTEST_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateOperator(ctx, model.Operator{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin operator: %w", err)
	}

	slog.Info("seeded default admin operator", "username", "admin")
	return nil
}
