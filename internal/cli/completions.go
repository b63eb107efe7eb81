package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// completeConversationIDs lists conversation ids, optionally only those with
// one of the given statuses.
func completeConversationIDs(statuses ...models.ConversationStatus) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if Transcripts == nil || len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		convs, err := Transcripts.List("")
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		include := make(map[models.ConversationStatus]bool)
		for _, s := range statuses {
			include[s] = true
		}

		var ids []string
		for _, c := range convs {
			if len(include) > 0 && !include[c.Status] {
				continue
			}
			if strings.HasPrefix(c.ID, toComplete) {
				ids = append(ids, c.ID+"\t"+c.TeamID+" ("+string(c.Status)+")")
			}
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	}
}

// completePairingCodes lists the codes of pending pairings.
func completePairingCodes(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Gate == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	pending, err := Gate.ListPending()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var codes []string
	for _, p := range pending {
		if strings.HasPrefix(p.Code, strings.ToUpper(toComplete)) {
			codes = append(codes, p.Code+"\t"+p.Sender+" on "+p.Channel)
		}
	}
	return codes, cobra.ShellCompDirectiveNoFileComp
}

// completeTargets completes the leading @worker or @team of a message.
func completeTargets(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if Router == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	settings := Router.Settings()
	if settings == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	prefix := strings.TrimPrefix(toComplete, "@")
	var targets []string
	for id, w := range settings.Workers {
		if strings.HasPrefix(id, prefix) {
			targets = append(targets, "@"+id+"\tworker ("+string(w.Provider)+")")
		}
	}
	for id, team := range settings.Teams {
		if strings.HasPrefix(id, prefix) {
			targets = append(targets, "@"+id+"\tteam led by "+team.Leader)
		}
	}
	sort.Strings(targets)
	return targets, cobra.ShellCompDirectiveNoFileComp
}

// completeStages returns the queue stage names.
func completeStages(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"incoming\tWaiting to be routed",
		"processing\tClaimed by a worker",
		"outgoing\tReplies awaiting delivery",
	}, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	conversationShowCmd.ValidArgsFunction = completeConversationIDs()
	pairingApproveCmd.ValidArgsFunction = completePairingCodes
	sendCmd.ValidArgsFunction = completeTargets
	_ = queueListCmd.RegisterFlagCompletionFunc("stage", completeStages)
	_ = conversationListCmd.RegisterFlagCompletionFunc("status", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"active", "completed", "truncated"}, cobra.ShellCompDirectiveNoFileComp
	})
}
