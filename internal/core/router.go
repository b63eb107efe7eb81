package core

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/valter-silva-au/agentq/pkg/models"
)

var routingPrefixPattern = regexp.MustCompile(`^@(\S+)\s*([\s\S]*)$`)

const resetDirective = "/reset"

// Router resolves the destination worker of a queue entry against the current
// settings snapshot. The snapshot can be swapped at any time with Update;
// in-flight routing calls keep the snapshot they started with.
type Router struct {
	settings atomic.Pointer[models.Settings]
}

// NewRouter returns a Router over the given settings.
func NewRouter(settings *models.Settings) *Router {
	r := &Router{}
	r.settings.Store(settings)
	return r
}

// Settings returns the current snapshot.
func (r *Router) Settings() *models.Settings {
	return r.settings.Load()
}

// Update swaps in a new settings snapshot.
func (r *Router) Update(settings *models.Settings) {
	r.settings.Store(settings)
}

// Route decides which worker handles entry.
//
// Entries produced by handoffs already carry a Destination and are only
// validated. External messages are resolved in order: a leading @id prefix
// naming a worker or team (teams resolve to their leader), a /reset directive
// after the optional prefix, and finally the default worker.
func (r *Router) Route(entry models.QueueEntry) (models.RoutingResult, error) {
	settings := r.Settings()
	if settings == nil {
		return models.RoutingResult{}, fmt.Errorf("routing %s: no settings loaded: %w", entry.ID, ErrUnknownTarget)
	}

	if entry.Destination != "" {
		return routePreassigned(settings, entry)
	}

	text := strings.TrimSpace(entry.Text)
	result := models.RoutingResult{Text: text}

	if m := routingPrefixPattern.FindStringSubmatch(text); m != nil {
		id := strings.TrimRight(m[1], ":,")
		worker, teamID, ok := resolveTarget(settings, id)
		if !ok {
			return models.RoutingResult{}, fmt.Errorf("routing %s: @%s: %w", entry.ID, id, ErrUnknownTarget)
		}
		result.Worker = worker
		result.TeamID = teamID
		result.Text = m[2]
	}

	if body, ok := cutResetDirective(result.Text); ok {
		result.Reset = true
		result.Text = body
	}

	if result.Worker == "" {
		id := settings.DefaultWorker
		if id == "" {
			id = DefaultWorkerID
		}
		if _, ok := settings.Worker(id); !ok {
			return models.RoutingResult{}, fmt.Errorf("routing %s: default worker %q: %w", entry.ID, id, ErrUnknownTarget)
		}
		result.Worker = id
	}

	// A reset detaches the message from any team context.
	if result.Reset {
		result.TeamID = ""
	}
	return result, nil
}

func routePreassigned(settings *models.Settings, entry models.QueueEntry) (models.RoutingResult, error) {
	worker, teamID, ok := resolveTarget(settings, entry.Destination)
	if !ok {
		return models.RoutingResult{}, fmt.Errorf("routing %s: destination %q: %w", entry.ID, entry.Destination, ErrUnknownTarget)
	}
	if teamID == "" {
		teamID = entry.TeamContextID
	}
	return models.RoutingResult{
		Worker: worker,
		TeamID: teamID,
		Text:   entry.Text,
		Reset:  entry.Reset,
	}, nil
}

// resolveTarget looks id up in the shared worker/team namespace. A team
// resolves to its leader and reports its own id.
func resolveTarget(settings *models.Settings, id string) (worker, teamID string, ok bool) {
	if _, found := settings.Worker(id); found {
		return id, "", true
	}
	if team, found := settings.Team(id); found {
		return team.Leader, team.ID, true
	}
	return "", "", false
}

func cutResetDirective(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, resetDirective) {
		return text, false
	}
	rest := trimmed[len(resetDirective):]
	if rest != "" && !strings.ContainsAny(rest[:1], " \t\r\n") {
		return text, false
	}
	return strings.TrimSpace(rest), true
}
