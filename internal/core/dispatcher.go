package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// DispatcherConfig holds the dispatcher's collaborators. Status, Events and
// Logger are optional.
type DispatcherConfig struct {
	Queue   storage.QueueStore
	Router  *Router
	Tracker ConversationTracker
	Invoker Invoker
	Status  storage.StatusStore
	Events  EventLogger
	Logger  *slog.Logger
}

// Dispatcher moves entries from incoming into per-worker mailboxes and runs
// one consumption loop per worker. Turns for one worker are strictly
// sequential; different workers run concurrently.
type Dispatcher struct {
	queue   storage.QueueStore
	router  *Router
	tracker ConversationTracker
	invoker Invoker
	status  storage.StatusStore
	events  EventLogger
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	wake   chan struct{}

	drainMu sync.Mutex

	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

// NewDispatcher creates a Dispatcher. Call Run to start it.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:     cfg.Queue,
		router:    cfg.Router,
		tracker:   cfg.Tracker,
		invoker:   cfg.Invoker,
		status:    cfg.Status,
		events:    eventsOrNop(cfg.Events),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		mailboxes: make(map[string]*mailbox),
	}
}

// Run recovers orphans, then dispatches until ctx is cancelled or Stop is
// called. It returns after every worker loop has exited; invocations that are
// in flight at that point run to completion first.
func (d *Dispatcher) Run(ctx context.Context) error {
	recovered, err := d.queue.RecoverOrphans()
	if err != nil {
		return fmt.Errorf("recovering orphans: %w", err)
	}
	for _, id := range recovered {
		d.logger.Info("recovered orphaned entry", "entry", id)
		_ = d.events.LogEvent(models.EventOrphanRecovered, map[string]any{"entry_id": id})
	}
	if err := d.tracker.Restore(); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.ctx.Done():
		}
	}()

	d.loop()

	d.wg.Wait()
	d.publishStatus()
	return nil
}

// loop waits for filesystem notifications on incoming, the poll ticker or an
// explicit wake-up, and drains incoming on each.
func (d *Dispatcher) loop() {
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("file notifications unavailable, polling only", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(d.queue.Dir(models.StageIncoming)); err != nil {
			d.logger.Warn("watching incoming failed, polling only", "error", err)
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	d.Drain()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				d.Drain()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			d.Drain()
			d.publishStatus()
		case <-d.wake:
			d.Drain()
		}
	}
}

func (d *Dispatcher) pollInterval() time.Duration {
	if s := d.router.Settings(); s != nil && s.Queue.PollInterval > 0 {
		return s.Queue.PollInterval
	}
	return DefaultPollInterval
}

// Notify asks the dispatch loop to scan incoming without waiting for a
// notification or the next poll.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the dispatcher. Entries still waiting in mailboxes stay in
// processing and are recovered on the next Run.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Drain routes, claims and dispatches every entry currently in incoming.
func (d *Dispatcher) Drain() {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	entries, corrupt, err := d.queue.Scan(models.StageIncoming)
	if err != nil {
		d.logger.Error("scanning incoming failed", "error", err)
		return
	}

	for _, id := range corrupt {
		if err := d.queue.Quarantine(models.StageIncoming, id); err != nil {
			d.logger.Error("quarantining entry failed", "entry", id, "error", err)
			continue
		}
		d.logger.Warn("quarantined corrupt entry", "entry", id)
		_ = d.events.LogEvent(models.EventEntryQuarantined, map[string]any{"entry_id": id})
	}

	for _, entry := range entries {
		if d.ctx.Err() != nil {
			return
		}
		d.dispatch(entry)
	}
}

func (d *Dispatcher) dispatch(entry models.QueueEntry) {
	route, routeErr := d.router.Route(entry)

	claimed, err := d.queue.Claim(entry.ID)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			d.logger.Debug("entry already claimed", "entry", entry.ID)
			return
		}
		d.logger.Error("claiming entry failed", "entry", entry.ID, "error", err)
		return
	}

	if routeErr != nil {
		d.logger.Warn("unroutable entry", "entry", entry.ID, "error", routeErr)
		_ = d.events.LogEvent(models.EventMessageUnknownTarget, map[string]any{
			"entry_id": entry.ID,
			"error":    routeErr.Error(),
		})
		d.completeWithError(claimed, entry.Destination, routeErr)
		return
	}

	_ = d.events.LogEvent(models.EventMessageRouted, map[string]any{
		"entry_id": entry.ID,
		"worker":   route.Worker,
		"team":     route.TeamID,
		"internal": entry.IsInternal(),
	})
	d.mailboxFor(route.Worker).push(job{entry: claimed, route: route})
}

// mailboxFor returns the worker's mailbox, starting its loop on first use.
func (d *Dispatcher) mailboxFor(worker string) *mailbox {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mb, ok := d.mailboxes[worker]; ok {
		return mb
	}
	mb := newMailbox(worker)
	d.mailboxes[worker] = mb
	d.wg.Go(func() { d.runWorker(mb) })
	return mb
}

func (d *Dispatcher) runWorker(mb *mailbox) {
	for {
		j, ok := mb.next(d.ctx)
		if !ok {
			return
		}
		failed := d.process(mb, j)
		mb.done(failed)
	}
}

// process runs one entry end to end. A panic is converted into a failure
// reply for that entry only.
func (d *Dispatcher) process(mb *mailbox, j job) (failed bool) {
	var pc panics.Catcher
	pc.Try(func() { failed = d.handle(mb, j) })
	if r := pc.Recovered(); r != nil {
		d.logger.Error("panic while processing entry", "entry", j.entry.ID, "worker", j.route.Worker, "panic", r.Value)
		d.fail(j, r.AsError())
		return true
	}
	return failed
}

func (d *Dispatcher) handle(mb *mailbox, j job) bool {
	settings := d.router.Settings()
	worker, ok := settings.Worker(j.route.Worker)
	if !ok {
		d.fail(j, fmt.Errorf("worker %q: %w", j.route.Worker, ErrUnknownTarget))
		return true
	}

	roster, err := RenderWorkerContext(settings, worker.ID)
	if err != nil {
		d.logger.Warn("rendering worker context failed", "worker", worker.ID, "error", err)
	}

	mb.setState(models.WorkerInvoking)
	// In-flight invocations are not cancelled by Stop; they end on their
	// own timeout.
	resp, err := d.invoker.Invoke(context.WithoutCancel(d.ctx), models.InvocationRequest{
		Worker:      worker,
		Text:        j.route.Text,
		Attachments: j.entry.Attachments,
		Reset:       j.route.Reset,
		Workspace:   settings.Workspace,
		Timeout:     settings.Queue.InvocationTimeout,
		Context:     roster,
	})
	if err != nil {
		d.fail(j, err)
		return true
	}

	team := teamScope(settings, j.route)
	route := j.route
	if team != nil {
		route.TeamID = team.ID
	}
	mentions := ExtractMentions(resp.Text, MentionScope{Self: worker.ID, Team: team, Settings: settings})

	outcome, err := d.tracker.Record(j.entry, route, resp.Text, mentions)
	if err != nil {
		d.logger.Error("recording turn failed, delivering reply", "entry", j.entry.ID, "error", err)
		outcome = TurnOutcome{Deliver: true}
	}

	convID := ""
	if outcome.Conversation != nil {
		convID = outcome.Conversation.ID
	}
	_ = d.events.LogEvent(models.EventTurnCompleted, map[string]any{
		"entry_id":     j.entry.ID,
		"worker":       worker.ID,
		"conversation": convID,
		"mentions":     len(mentions),
		"handoffs":     len(outcome.Handoffs),
		"duration_ms":  resp.Duration.Milliseconds(),
	})

	var unqueued []string
	if len(outcome.Handoffs) > 0 {
		unqueued = d.enqueueHandoffs(j.entry, worker.ID, team, convID, resp.Text, outcome.Handoffs)
		// With no handoff queued nobody continues the chain, so the reply
		// goes back to the requester.
		if len(unqueued) == len(outcome.Handoffs) {
			outcome.Deliver = true
		}
	}

	if !outcome.Deliver {
		if err := d.queue.Discard(j.entry.ID); err != nil {
			d.logger.Error("discarding handed-off entry failed", "entry", j.entry.ID, "error", err)
		}
		return false
	}

	text, files := CollectSendFiles(StripMentionTags(resp.Text))
	if len(unqueued) > 0 {
		text += fmt.Sprintf("\n\n(Could not hand off to @%s.)", strings.Join(unqueued, ", @"))
	}
	reply := models.Reply{
		Worker:         worker.ID,
		Text:           text,
		Files:          files,
		LongResponse:   outcome.LongResponse,
		ConversationID: convID,
		CompletedAt:    time.Now().UTC(),
	}
	if err := d.queue.Complete(j.entry.ID, reply); err != nil {
		d.logger.Error("completing entry failed", "entry", j.entry.ID, "error", err)
		return true
	}
	return false
}

// enqueueHandoffs writes one follow-up entry per mention, in mention order,
// and returns the targets whose entry could not be written. Their branches are
// closed.
func (d *Dispatcher) enqueueHandoffs(entry models.QueueEntry, from string, team *models.TeamConfig, convID, reply string, handoffs []models.Mention) []string {
	settings := d.router.Settings()
	var failed []string
	for _, m := range handoffs {
		teamContext := ""
		if team != nil {
			teamContext = team.ID
		}
		if m.CrossTeam {
			teamContext = crossTeamContext(settings, m.Target)
		}
		next, err := d.queue.Enqueue(models.QueueEntry{
			Channel:        entry.Channel,
			Sender:         entry.Sender,
			Text:           BuildHandoffText(reply, m),
			Destination:    m.Target,
			TeamContextID:  teamContext,
			ConversationID: convID,
			FromWorker:     from,
		})
		if err != nil {
			failed = append(failed, m.Target)
			d.logger.Error("enqueuing handoff failed", "conversation", convID, "target", m.Target, "error", err)
			continue
		}
		_ = d.events.LogEvent(models.EventHandoffEnqueued, map[string]any{
			"entry_id":     next.ID,
			"conversation": convID,
			"from":         from,
			"to":           m.Target,
			"cross_team":   m.CrossTeam,
		})
	}
	if len(failed) > 0 && convID != "" {
		if err := d.tracker.DropBranches(convID, len(failed)); err != nil {
			d.logger.Error("closing failed branches", "conversation", convID, "error", err)
		}
	}
	d.Notify()
	return failed
}

// fail delivers a failure notice for the entry and closes its branch.
func (d *Dispatcher) fail(j job, cause error) {
	d.logger.Warn("turn failed", "entry", j.entry.ID, "worker", j.route.Worker, "error", cause)
	_ = d.events.LogEvent(models.EventInvocationFailed, map[string]any{
		"entry_id": j.entry.ID,
		"worker":   j.route.Worker,
		"error":    cause.Error(),
	})
	d.completeWithError(j.entry, j.route.Worker, cause)
}

func (d *Dispatcher) completeWithError(entry models.QueueEntry, worker string, cause error) {
	outcome, err := d.tracker.RecordFailure(entry, worker, cause.Error())
	if err != nil {
		d.logger.Error("recording failed turn", "entry", entry.ID, "error", err)
	}
	convID := entry.ConversationID
	if outcome.Conversation != nil {
		convID = outcome.Conversation.ID
	}
	reply := models.Reply{
		Worker:         worker,
		Text:           failureNotice(worker, cause),
		Error:          cause.Error(),
		ConversationID: convID,
		CompletedAt:    time.Now().UTC(),
	}
	if err := d.queue.Complete(entry.ID, reply); err != nil {
		d.logger.Error("completing failed entry", "entry", entry.ID, "error", err)
	}
}

func failureNotice(worker string, cause error) string {
	switch {
	case errors.Is(cause, ErrUnknownTarget):
		return fmt.Sprintf("Could not deliver your message: %v", cause)
	case worker == "":
		return fmt.Sprintf("Your message could not be processed: %v", cause)
	default:
		return fmt.Sprintf("@%s could not answer: %v", worker, cause)
	}
}

// teamScope is the team whose members count as teammates for the turn: the
// routed team, else the worker's own team. Reset turns have no team.
func teamScope(settings *models.Settings, route models.RoutingResult) *models.TeamConfig {
	if route.Reset {
		return nil
	}
	if route.TeamID != "" {
		if t, ok := settings.Team(route.TeamID); ok {
			return &t
		}
	}
	if t, ok := settings.TeamOf(route.Worker); ok {
		return &t
	}
	return nil
}

// crossTeamContext is the team a cross-team handoff target works in.
func crossTeamContext(settings *models.Settings, target string) string {
	if t, ok := settings.Team(target); ok {
		return t.ID
	}
	if t, ok := settings.TeamOf(target); ok {
		return t.ID
	}
	return ""
}

// WorkerStates returns the mailbox state of every worker that has received
// an entry, ordered by worker id.
func (d *Dispatcher) WorkerStates() []models.WorkerStatus {
	d.mu.Lock()
	boxes := make([]*mailbox, 0, len(d.mailboxes))
	for _, mb := range d.mailboxes {
		boxes = append(boxes, mb)
	}
	d.mu.Unlock()

	statuses := make([]models.WorkerStatus, 0, len(boxes))
	for _, mb := range boxes {
		statuses = append(statuses, mb.status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Worker < statuses[j].Worker })
	return statuses
}

func (d *Dispatcher) publishStatus() {
	if d.status == nil {
		return
	}
	if err := d.status.Save(d.WorkerStates()); err != nil {
		d.logger.Debug("publishing worker status failed", "error", err)
	}
}
