package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	sendSender      string
	sendAttachments []string
	sendWait        bool
	sendTimeout     time.Duration
)

// waitPollInterval is how often send --wait checks outgoing.
const waitPollInterval = 500 * time.Millisecond

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message to a worker or team",
	Long: `Offer a message to the queue on the cli channel.

Address a worker or team with a leading @id, for example:

  agentq send @coder fix the failing test
  agentq send @dev /reset start over

Messages without a prefix go to the default worker. The sender must be paired
first; an unknown sender is given a code to approve with "agentq pairing approve".

With --wait, replies for the sender are printed and acknowledged as they
arrive until no work for the sender is left in the queue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Intake == nil {
			return fmt.Errorf("queue not initialized")
		}

		sender := sendSender
		if sender == "" {
			sender = defaultSender()
		}

		attachments := make([]string, 0, len(sendAttachments))
		for _, a := range sendAttachments {
			abs, err := filepath.Abs(a)
			if err != nil {
				return fmt.Errorf("resolving attachment %s: %w", a, err)
			}
			if _, err := os.Stat(abs); err != nil {
				return fmt.Errorf("attachment %s: %w", a, err)
			}
			attachments = append(attachments, abs)
		}

		adm, err := Intake.Admit(core.Message{
			Channel:     string(models.ChannelCLI),
			Sender:      sender,
			Text:        strings.Join(args, " "),
			Attachments: attachments,
		})
		if err != nil {
			return err
		}
		if adm.Entry == nil {
			fmt.Printf("Sender %q is not paired yet. Approve it with:\n\n  agentq pairing approve %s\n\nthen send the message again.\n", sender, adm.Pairing.Code)
			return nil
		}

		fmt.Printf("Queued %s.\n", adm.Entry.ID)
		if !sendWait {
			return nil
		}
		return waitForReplies(sender, sendTimeout)
	},
}

// waitForReplies prints outgoing replies for sender on the cli channel and
// acknowledges them, until at least one reply was seen and nothing for the
// sender remains in incoming or processing.
func waitForReplies(sender string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	seen := 0
	for {
		outgoing, err := Queue.List(models.StageOutgoing)
		if err != nil {
			return fmt.Errorf("listing outgoing: %w", err)
		}
		for _, entry := range outgoing {
			if !ownedBy(entry, sender) {
				continue
			}
			printReply(entry)
			if err := Queue.Ack(entry.ID); err != nil {
				return fmt.Errorf("acknowledging %s: %w", entry.ID, err)
			}
			seen++
		}

		inFlight, err := countOwned(sender, models.StageIncoming, models.StageProcessing)
		if err != nil {
			return err
		}
		if seen > 0 && inFlight == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no reply within %s (is \"agentq start\" running?)", timeout)
		}
		time.Sleep(waitPollInterval)
	}
}

func ownedBy(entry models.QueueEntry, sender string) bool {
	return entry.Channel == string(models.ChannelCLI) && entry.Sender == sender
}

func countOwned(sender string, stages ...models.Stage) (int, error) {
	n := 0
	for _, stage := range stages {
		entries, err := Queue.List(stage)
		if err != nil {
			return 0, fmt.Errorf("listing %s: %w", stage, err)
		}
		for _, e := range entries {
			if ownedBy(e, sender) {
				n++
			}
		}
	}
	return n, nil
}

func printReply(entry models.QueueEntry) {
	if entry.Reply == nil {
		fmt.Printf("[%s] (no reply)\n", entry.ID)
		return
	}
	r := entry.Reply
	label := r.Worker
	if label == "" {
		label = "agentq"
	}
	if r.Failed() {
		label += " (failed)"
	}
	fmt.Printf("\n[%s]\n%s\n", label, r.Text)
	for _, f := range r.Files {
		fmt.Printf("  attached: %s\n", f)
	}
}

func defaultSender() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func init() {
	sendCmd.Flags().StringVar(&sendSender, "sender", "", "Sender identity (defaults to $USER)")
	sendCmd.Flags().StringSliceVarP(&sendAttachments, "attach", "a", nil, "File to attach (repeatable)")
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "Wait for and print the replies")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 15*time.Minute, "How long --wait waits for replies")
	rootCmd.AddCommand(sendCmd)
}
