package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rahul/sovereign/internal/agent"
	"github.com/rahul/sovereign/internal/gateway"
	"github.com/rahul/sovereign/internal/governance"
	"github.com/rahul/sovereign/internal/handlers"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/session"
	"github.com/rahul/sovereign/internal/store"
	"github.com/rahul/sovereign/pkg/config"
	"github.com/spf13/cobra"
)

var (
	version     = "0.1.0"
	cfgFile     string
	useTelegram bool
)

var rootCmd = &cobra.Command{
	Use:   "sovereign [workspace]",
	Short: "Plan-and-execute agent with sandboxed command execution",
	Long: `Sovereign turns requests into multi-step plans, asks for confirmation,
and runs each step through a handler. Shell commands run against a disposable
copy of the workspace.

The workspace defaults to ./agent_workspace and is created if missing.`,
	Args:         cobra.MaximumNArgs(1),
	Version:      version,
	SilenceUsage: true,
	RunE:         runSession,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sovereign.yaml)")
	rootCmd.Flags().BoolVar(&useTelegram, "telegram", false, "serve the session over Telegram instead of the console")
	rootCmd.SetVersionTemplate(fmt.Sprintf("sovereign version %s\n", version))
}

// workspaceArg picks the workspace from the arguments or the config.
func workspaceArg(cfg *config.Config, args []string) (string, error) {
	ws := cfg.App.Workspace
	if len(args) > 0 {
		ws = args[0]
	}
	return filepath.Abs(ws)
}

func runSession(cmd *cobra.Command, args []string) error {
	observability.PrintBanner(os.Stdout)
	log.SetOutput(observability.NewTermWriter())

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	root, err := workspaceArg(cfg, args)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}

	logger := observability.NewLogger(config.ResolvePath(root, cfg.Logging.EventsPath))
	logger.SetMaxSize(int64(cfg.Logging.MaxSizeMB) << 20)
	if cfg.Logging.Echo {
		logger.SetEcho(os.Stderr)
	}

	var mirror session.Mirror
	history, err := store.NewHistoryStore(config.ResolvePath(root, cfg.Memory.Path))
	if err != nil {
		log.Printf("Warning: history mirror disabled: %v", err)
	} else {
		defer history.Close()
		mirror = history
	}

	sess, err := session.New(session.Config{Workspace: root, Mirror: mirror, Logger: logger})
	if err != nil {
		return err
	}
	log.Printf("Workspace: %s (%d files)", sess.Path(), len(sess.Workspace.FileTreeSummary.Files))

	registry := buildRegistry(cfg, logger)

	pName, pCfg := cfg.GetDefaultProvider()
	model, err := agent.NewModel(pName, pCfg)
	if err != nil {
		return err
	}
	planner := agent.NewLLMPlanner(model, agent.NewPromptManager(cfg.Planner.PromptsDir), logger)
	planner.MaxAttempts = cfg.Planner.MaxRetries
	planner.Backoff = time.Duration(cfg.Planner.BackoffSeconds) * time.Second

	a := agent.New(sess, registry, planner, logger)
	a.Executor.Policy = handlerPolicy(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	tgCfg, tgEnabled := cfg.GetTelegramConfig()
	if useTelegram || tgEnabled {
		if tgCfg.Token == "" {
			return fmt.Errorf("telegram gateway requires a token (gateways.telegram.token or TELEGRAM_BOT_TOKEN)")
		}
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, tgCfg.AllowedChatID, a)
		if err != nil {
			return err
		}
		defer tg.Stop()

		ctx, stopInt := signal.NotifyContext(ctx, os.Interrupt)
		defer stopInt()
		return tg.Start(ctx)
	}

	console := gateway.NewTerminalConsole(a, filepath.Join(root, session.StateDirName, "console_history"))
	defer console.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	console.WatchSignals(ctx, sigs)

	return console.Start(ctx)
}

// handlerPolicy refuses the handlers listed in sandbox.denied_handlers. It is
// nil when none are listed.
func handlerPolicy(cfg *config.Config) governance.PolicyEngine {
	if len(cfg.Sandbox.DeniedHandlers) == 0 {
		return nil
	}
	policy := governance.NewDefaultPolicyEngine()
	for _, name := range cfg.Sandbox.DeniedHandlers {
		policy.DenyTool(name)
	}
	return policy
}

func buildRegistry(cfg *config.Config, logger *observability.Logger) *handlers.Registry {
	policy := governance.NewCommandPolicy()
	for _, p := range cfg.Sandbox.DeniedPatterns {
		if err := policy.DenyArguments(p); err != nil {
			log.Printf("Warning: ignoring invalid denied pattern %q: %v", p, err)
		}
	}

	registry := handlers.NewRegistry(
		handlers.NewToolingHandler(handlers.ToolingConfig{
			Policy:      policy,
			Timeout:     time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
			Shell:       cfg.Sandbox.Shell,
			SandboxRoot: cfg.Sandbox.Root,
			Logger:      logger,
		}),
		handlers.NewFileHandler(),
		handlers.NewWebHandler(),
	)

	search, err := handlers.NewSearchHandler(10)
	if err != nil {
		log.Printf("Warning: Failed to initialize search handler: %v", err)
	} else {
		registry.Register(search)
	}
	return registry
}
