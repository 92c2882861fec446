package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/logging"
	"github.com/grim-sudo/Automation/internal/perception"
	"github.com/grim-sudo/Automation/internal/session"
	"github.com/grim-sudo/Automation/internal/store"
	"github.com/grim-sudo/Automation/internal/tactile"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workdir    string
	sessionID  string
	dryRun     bool
	noColor    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "omni",
	Short: "omni - natural language file and shell automation",
	Long: `omni turns plain commands into filesystem and shell operations.

  omni run create 10 folders named test1 to test10
  omni plan "create a folder named docs then list files"
  omni chat

Misspellings are corrected, unclear commands are answered with a question,
and follow-up replies ("folder", "yes", "test1 to test100") complete the
previous command. Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workdir != "" {
			cfg.Execution.WorkingDirectory = workdir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		if err := logging.Initialize(cfg.Execution.WorkingDirectory, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat(),
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.Boot("%s %s: workdir=%s dry-run=%v", cfg.Name, cfg.Version, cfg.Execution.WorkingDirectory, isDryRun())

		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run [command]",
	Short: "Understand and execute a single command",
	Long: `Runs one command through correction, parsing, clarification and
execution. With --session, the session's latest checkpoint is restored first
and a new one is saved afterwards, so a clarification can be answered by a
second run:

  omni run --session work create test
  omni run --session work folder`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, args, false)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan [command]",
	Short: "Show the steps a command would run without executing them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTurn(cmd, args, true)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	RunE:  runChat,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List stored checkpoints of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listSessions,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", filepath.Join(".omni", "config.yaml"), "Config file")
	rootCmd.PersistentFlags().StringVarP(&workdir, "workdir", "w", "", "Directory operations are confined to (default: config)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Session id to continue")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Record operations instead of performing them")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-command timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired pipeline for one CLI invocation.
type app struct {
	manager *session.Manager
	store   store.SnapshotStore
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close snapshot store", zap.Error(err))
		}
	}
}

// newApp wires the pipeline from the loaded config. A missing model or an
// unavailable store degrades the pipeline instead of failing it.
func newApp(ctx context.Context) (*app, error) {
	a := &app{}
	deps := session.Dependencies{Config: cfg}

	if isDryRun() {
		deps.Adapter = tactile.NewDryRunAdapter()
	} else {
		local, err := tactile.NewLocalAdapter(cfg.Execution)
		if err != nil {
			return nil, err
		}
		deps.Adapter = local
		logger.Debug("Local adapter ready", zap.String("root", local.Root()))
	}

	if model, err := perception.NewClientFromConfig(ctx, cfg.LLM); err != nil {
		logger.Debug("Model fallback disabled", zap.Error(err))
	} else {
		deps.Model = model
		logger.Debug("Model fallback enabled",
			zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))
	}

	dbPath := cfg.Store.DatabasePath
	if dbPath != "" && dbPath != ":memory:" && !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.Execution.WorkingDirectory, dbPath)
	}
	if dbPath != "" {
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			logger.Warn("Snapshot store unavailable; checkpoints disabled", zap.String("path", dbPath), zap.Error(err))
		} else {
			a.store = s
			deps.Store = s
		}
	}

	a.manager = session.NewManager(deps)
	return a, nil
}

func isDryRun() bool {
	return dryRun || cfg.Execution.DryRun
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runTurn(cmd *cobra.Command, args []string, planOnly bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := sessionID
	if id != "" && a.store != nil {
		if err := resumeLatest(ctx, a, id); err != nil {
			return err
		}
	}

	var opts []session.Option
	if planOnly {
		opts = append(opts, session.PlanOnly())
	}
	res := a.manager.HandleTurn(ctx, joinArgs(args), id, opts...)
	newRenderer(cmd.OutOrStdout(), verbose || isDryRun()).Turn(res)

	if id != "" && a.store != nil {
		if _, err := a.manager.Checkpoint(ctx, res.SessionID); err != nil {
			logger.Warn("Checkpoint failed", zap.String("session", res.SessionID), zap.Error(err))
		}
	}
	if res.NeedsReply() && id == "" {
		fmt.Fprintln(cmd.OutOrStdout(), color.HiBlackString("reply with: omni run --session <name> ..."))
	}
	if res.Report != nil && !res.Report.OK() {
		return errors.New("command did not complete")
	}
	return nil
}

// resumeLatest restores the newest checkpoint of a session, if any.
func resumeLatest(ctx context.Context, a *app, id string) error {
	infos, err := a.manager.Checkpoints(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil
	}
	if _, err := a.manager.Restore(ctx, infos[0].ID); err != nil {
		return err
	}
	logger.Debug("Resumed session", zap.String("session", id), zap.String("snapshot", infos[0].ID))
	return nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id := sessionID
	if len(args) == 1 {
		id = args[0]
	}
	if id == "" {
		return errors.New("session id required")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.manager.Checkpoints(ctx, id)
	if err != nil {
		return err
	}
	newRenderer(cmd.OutOrStdout(), verbose).Checkpoints(infos)
	return nil
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
