package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/pkg/models"
	"gopkg.in/yaml.v3"
)

var (
	initWorker   string
	initProvider string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter settings file to the agentq home",
	Long: `Write settings.yaml to the agentq home directory with a single worker
that is also the default target for messages without an @prefix.

An existing settings file is left alone unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if BasePath == "" {
			return fmt.Errorf("agentq home not resolved")
		}

		path := filepath.Join(BasePath, "settings.yaml")
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Printf("Settings already exist at %s (use --force to overwrite).\n", path)
			return nil
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking settings: %w", err)
		}

		settings := starterSettings(initWorker, models.Provider(initProvider))
		if err := core.ValidateSettings(settings); err != nil {
			return fmt.Errorf("invalid starter settings: %w", err)
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encoding settings: %w", err)
		}
		if err := os.MkdirAll(BasePath, 0o755); err != nil {
			return fmt.Errorf("creating agentq home: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing settings: %w", err)
		}

		fmt.Printf("Wrote %s\n", path)
		fmt.Printf("\nNext: pair yourself and say hello.\n\n  agentq send @%s hello\n", initWorker)
		return nil
	},
}

func starterSettings(worker string, provider models.Provider) *models.Settings {
	return &models.Settings{
		DefaultWorker: worker,
		Workspace:     filepath.Join(BasePath, "workspace"),
		Workers: map[string]models.WorkerConfig{
			worker: {
				ID:               worker,
				Name:             worker,
				Provider:         provider,
				WorkingDirectory: worker,
			},
		},
		Teams: map[string]models.TeamConfig{},
		Queue: models.QueueSettings{
			PollInterval:      core.DefaultPollInterval,
			InvocationTimeout: core.DefaultInvocationTimeout,
		},
		Conversation: models.ConversationSettings{
			MaxTurns:              core.DefaultMaxConversationTurns,
			LongResponseThreshold: core.DefaultLongResponseThreshold,
		},
		Alerts: models.AlertSettings{
			MaxIncomingBacklog:    25,
			MaxInvocationFailures: 5,
			FailureWindowHours:    24,
		},
	}
}

func init() {
	initCmd.Flags().StringVar(&initWorker, "worker", core.DefaultWorkerID, "Id of the starter worker")
	initCmd.Flags().StringVar(&initProvider, "provider", string(models.ProviderAnthropic), "Provider of the starter worker: anthropic, openai or opencode")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing settings file")
	rootCmd.AddCommand(initCmd)
}
