package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/integration"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	startVerbose bool
	startJSONLog bool
	startNoPump  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the dispatcher in the foreground",
	Long: `Run the queue dispatcher until interrupted.

On start, entries left in processing by a previous run are moved back to
incoming. The dispatcher then routes every incoming entry to its worker's
mailbox and runs one invocation at a time per worker, different workers in
parallel. Replies land in outgoing and are delivered by the registered
channel adapters.

Send SIGHUP to reload settings; in-flight turns keep the snapshot they
started with.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if SettingsErr != nil {
			return fmt.Errorf("invalid settings: %w", SettingsErr)
		}
		if Queue == nil || Router == nil {
			return fmt.Errorf("queue not initialized")
		}

		logger := newLogger(startVerbose, startJSONLog)
		settings := Router.Settings()

		invoker := integration.NewCLIInvoker(workspaceDir(settings), settings.Queue.InvocationTimeout, logger)
		tracker := core.NewConversationTracker(Transcripts, Router, Events, logger)
		dispatcher := core.NewDispatcher(core.DispatcherConfig{
			Queue:   Queue,
			Router:  Router,
			Tracker: tracker,
			Invoker: invoker,
			Status:  StatusStore,
			Events:  Events,
			Logger:  logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					reloadSettings(logger)
					dispatcher.Notify()
				}
			}
		}()

		if !startNoPump && ChannelReg != nil {
			bridge := newBridge(logger)
			go bridge.Run(ctx, settings.Queue.PollInterval)
		}

		logger.Info("dispatcher started",
			"home", BasePath,
			"workers", len(settings.Workers),
			"teams", len(settings.Teams),
		)
		if err := dispatcher.Run(ctx); err != nil {
			return fmt.Errorf("running dispatcher: %w", err)
		}
		logger.Info("dispatcher stopped")
		return nil
	},
}

// reloadSettings loads and validates the settings file and swaps it into the
// router. An invalid file keeps the previous snapshot.
func reloadSettings(logger *slog.Logger) {
	settings, err := SettingsMgr.Load()
	if err == nil {
		err = SettingsMgr.Validate(settings)
	}
	if err != nil {
		logger.Error("settings reload rejected", "error", err)
		return
	}
	Router.Update(settings)
	logger.Info("settings reloaded", "workers", len(settings.Workers), "teams", len(settings.Teams))
}

func newLogger(verbose, jsonFormat bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func newBridge(logger *slog.Logger) *core.ChannelBridge {
	return core.NewChannelBridge(ChannelReg, Intake, Queue, filepath.Join(BasePath, "files"), logger)
}

// workspaceDir is the parent directory of worker working directories.
func workspaceDir(settings *models.Settings) string {
	if settings != nil && settings.Workspace != "" {
		return settings.Workspace
	}
	return filepath.Join(BasePath, "workspace")
}

func init() {
	startCmd.Flags().BoolVarP(&startVerbose, "verbose", "v", false, "Log debug output")
	startCmd.Flags().BoolVar(&startJSONLog, "json-log", false, "Log as JSON lines")
	startCmd.Flags().BoolVar(&startNoPump, "no-channels", false, "Do not pump the registered channel adapters")
	rootCmd.AddCommand(startCmd)
}
