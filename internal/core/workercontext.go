package core

import (
	"fmt"
	"strings"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// rosterPeer is one worker listed in a roster section.
type rosterPeer struct {
	worker models.WorkerConfig
	team   string
}

// RenderWorkerContext renders the roster a worker reads before each turn:
// its role, its teammates, the workers it can reach across teams and the
// directives it replies with. Lists are ordered by id so the output only
// changes when the configuration does.
func RenderWorkerContext(settings *models.Settings, workerID string) (string, error) {
	self, ok := settings.Worker(workerID)
	if !ok {
		return "", fmt.Errorf("rendering worker context: worker %q: %w", workerID, ErrUnknownTarget)
	}

	var myTeams []models.TeamConfig
	mates := map[string]rosterPeer{}
	for _, id := range sortedKeys(settings.Teams) {
		team := settings.Teams[id]
		if !team.HasMember(workerID) {
			continue
		}
		myTeams = append(myTeams, team)
		for _, m := range team.Members {
			if w, ok := settings.Worker(m); ok && m != workerID {
				if _, seen := mates[m]; !seen {
					mates[m] = rosterPeer{worker: w, team: teamLabel(team)}
				}
			}
		}
	}

	var others []rosterPeer
	for _, id := range sortedKeys(settings.Workers) {
		if id == workerID {
			continue
		}
		if _, ok := mates[id]; ok {
			continue
		}
		peer := rosterPeer{worker: settings.Workers[id]}
		if t, ok := settings.TeamOf(id); ok {
			peer.team = teamLabel(t)
		}
		others = append(others, peer)
	}

	var sb strings.Builder
	sb.WriteString("\n## Role\n\n")
	if self.Role != "" {
		sb.WriteString(self.Role)
	} else {
		sb.WriteString("General-purpose worker.")
	}
	sb.WriteString("\n\n### You\n\n")
	writePeer(&sb, rosterPeer{worker: self})

	if len(myTeams) > 0 {
		sb.WriteString("\n### Your Teams\n\n")
		for _, t := range myTeams {
			fmt.Fprintf(&sb, "- `@%s` %s, led by `@%s`\n", t.ID, teamLabel(t), t.Leader)
		}
	}

	if len(mates) > 0 {
		sb.WriteString("\n### Your Teammates\n\nUse `[@worker_id: message]` to message them, or `[@a,b: message]` for several at once:\n\n")
		for _, id := range sortedKeys(mates) {
			writePeer(&sb, mates[id])
		}
	}

	if len(others) > 0 {
		if len(myTeams) > 0 {
			sb.WriteString("\n### Other Workers (cross-team)\n\nUse `[@!worker_id: message]` to hand off to them, or `[@!team_id: message]` to reach a team's leader:\n\n")
		} else {
			sb.WriteString("\n### Other Workers\n\nUse `[@worker_id: message]` to hand off to them:\n\n")
		}
		for _, p := range others {
			writePeer(&sb, p)
		}
	}

	sb.WriteString("\n### Replying\n\n")
	sb.WriteString("Text outside handoff directives goes back to whoever asked you.\n")
	sb.WriteString("Attach a file to your reply with `[send_file: /absolute/path]`.\n")
	return sb.String(), nil
}

func writePeer(sb *strings.Builder, p rosterPeer) {
	fmt.Fprintf(sb, "- `@%s`", p.worker.ID)
	if p.worker.Name != "" {
		fmt.Fprintf(sb, " **%s**", p.worker.Name)
	}
	if p.worker.Model != "" {
		fmt.Fprintf(sb, " (%s)", p.worker.Model)
	}
	if p.worker.Role != "" {
		fmt.Fprintf(sb, ": %s", firstLine(p.worker.Role))
	}
	if p.team != "" {
		fmt.Fprintf(sb, ", team %s", p.team)
	}
	sb.WriteString("\n")
}

func teamLabel(t models.TeamConfig) string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
