package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"converge/internal/api"
	"converge/internal/diff"
	"converge/internal/executor"
	"converge/internal/health"
	"converge/internal/history"
	"converge/internal/live"
	"converge/internal/render"
	"converge/internal/source"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

// State is the controller's position in the reconciliation cycle.
type State string

const (
	// StateUnknown is the pre-first-observation state after registration.
	StateUnknown State = "Unknown"

	// StateIdle means no cycle is in flight.
	StateIdle State = "Idle"

	// StateRendering means desired state is being resolved and rendered.
	StateRendering State = "Rendering"

	// StateDiffing means desired and live state are being compared.
	StateDiffing State = "Diffing"

	// StateSyncing means the executor is mutating the target environment.
	StateSyncing State = "Syncing"

	// StateDegraded means the last sync attempt failed partially or fully.
	// It is recoverable by a subsequent successful cycle.
	StateDegraded State = "Degraded"
)

// Trigger starts one reconciliation cycle.
type Trigger struct {
	// Cause is why the cycle starts.
	Cause api.TriggerCause

	// Revision optionally overrides the declared revision selector for a
	// manual sync. Empty means the application's declared source.
	Revision string

	// Entry is the history entry to replay for a rollback trigger.
	Entry *api.RevisionHistoryEntry

	// reply receives the cycle outcome when a caller is waiting on it.
	reply chan CycleResult
}

// CycleResult is the outcome of one reconciliation cycle.
type CycleResult struct {
	// Revision is the immutable revision the cycle compared against, when
	// resolution got that far.
	Revision string

	// Sync is the application sync status after the cycle.
	Sync api.SyncStatus

	// Result holds per-operation outcomes when the cycle reached Syncing.
	Result *api.SyncResult

	// Err is set when the cycle could not complete.
	Err error
}

// ErrSuperseded is returned to a waiting caller whose cycle was cancelled
// in favor of a newer trigger before any environment mutation happened.
var ErrSuperseded = fmt.Errorf("cycle superseded by a newer trigger")

// ResourceStatus pairs a managed resource with its observed health.
type ResourceStatus struct {
	Key    api.ResourceKey  `json:"key"`
	Health api.HealthStatus `json:"health"`
}

// Status is the externally visible condition of one application.
type Status struct {
	Application string           `json:"application"`
	State       State            `json:"state"`
	Sync        api.SyncStatus   `json:"sync"`
	Health      api.HealthStatus `json:"health"`
	Revision    string           `json:"revision,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	Resources   []ResourceStatus `json:"resources,omitempty"`
}

// Config tunes the reconciliation loops.
type Config struct {
	// DriftDebounce coalesces self-heal triggers from live-state events.
	DriftDebounce time.Duration

	// InitialBackoff is the first retry delay after a failed cycle.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration

	// MaxRetries bounds automatic retries of a failing trigger. Manual
	// triggers always get one attempt regardless.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.DriftDebounce == 0 {
		c.DriftDebounce = 2 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	return c
}

// Deps are the engine components one controller drives.
type Deps struct {
	Fetcher  source.Fetcher
	Renderer render.Renderer
	Observer *live.Observer
	Executor *executor.Executor
	History  history.Store
}

// Controller owns the reconciliation state machine for exactly one
// application. At most one cycle is in flight at any time; triggers
// arriving mid-cycle are coalesced per the rules in Run.
type Controller struct {
	app  *v1alpha1.Application
	deps Deps
	cfg  Config

	triggers chan Trigger

	mu        sync.RWMutex
	state     State
	sync      api.SyncStatus
	revision  string
	lastError string
	managed   []api.ResourceKey
	pinned    *api.RevisionHistoryEntry
	attempt   int
}

// New creates a controller for the application. Run must be called for
// triggers to be processed; Reconcile can be used without Run for
// one-shot invocations.
func New(app *v1alpha1.Application, deps Deps, cfg Config) *Controller {
	return &Controller{
		app:      app,
		deps:     deps,
		cfg:      cfg.withDefaults(),
		triggers: make(chan Trigger, 16),
		state:    StateUnknown,
		sync:     api.SyncStatusUnknown,
	}
}

// App returns the application this controller reconciles.
func (c *Controller) App() *v1alpha1.Application {
	return c.app
}

// Submit queues a trigger. It never blocks; when the buffer is full the
// trigger is dropped because an equivalent cycle is already pending.
func (c *Controller) Submit(trig Trigger) {
	select {
	case c.triggers <- trig:
	default:
		logging.Debug("Controller", "Trigger buffer full for %s, dropping %s trigger",
			c.app.QualifiedName(), trig.Cause)
		replyTo(trig, CycleResult{Err: fmt.Errorf("trigger queue full for %s", c.app.QualifiedName())})
	}
}

// Request queues a trigger and returns a channel that receives the cycle
// outcome. Used by the operator command surface.
func (c *Controller) Request(trig Trigger) <-chan CycleResult {
	trig.reply = make(chan CycleResult, 1)
	c.Submit(trig)
	return trig.reply
}

// Run processes triggers until the context ends. Coalescing rules:
// a trigger arriving while the in-flight cycle is still Rendering or
// Diffing cancels that cycle and restarts with the new trigger (no
// environment mutation has happened yet); a trigger arriving while
// Syncing is queued, latest wins, and starts only after the executor
// reaches a terminal state.
func (c *Controller) Run(ctx context.Context) {
	logging.Info("Controller", "Reconciliation loop started for %s", c.app.QualifiedName())
	defer logging.Info("Controller", "Reconciliation loop stopped for %s", c.app.QualifiedName())

	for {
		select {
		case <-ctx.Done():
			return
		case trig := <-c.triggers:
			c.runUntilSettled(ctx, trig)
		}
	}
}

// runUntilSettled drives cycles for the trigger, applying the coalescing
// rules, until no queued trigger remains.
func (c *Controller) runUntilSettled(ctx context.Context, trig Trigger) {
	for {
		next, ok := c.runCycle(ctx, trig)
		if !ok {
			return
		}
		trig = next
	}
}

// runCycle runs one cycle for trig. It returns the follow-up trigger and
// true when a queued or superseding trigger should start a fresh cycle.
func (c *Controller) runCycle(ctx context.Context, trig Trigger) (Trigger, bool) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan CycleResult, 1)
	go func() {
		done <- c.Reconcile(cycleCtx, trig)
	}()

	var queued *Trigger
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return Trigger{}, false

		case next := <-c.triggers:
			if c.State() == StateSyncing {
				// The executor is mutating the environment; let it reach a
				// terminal state. Latest queued trigger wins.
				if queued != nil {
					replyTo(*queued, CycleResult{Err: ErrSuperseded})
				}
				queued = &next
				continue
			}
			// Still Rendering or Diffing: nothing has been mutated, so the
			// newer trigger supersedes the in-flight cycle.
			cancel()
			res := <-done
			if res.Result != nil {
				// The cycle slipped into Syncing before the cancel landed;
				// the executor ran to completion, so report its result.
				replyTo(trig, res)
				c.scheduleRetry(trig, res)
			} else {
				replyTo(trig, CycleResult{Err: ErrSuperseded})
			}
			return next, true

		case res := <-done:
			replyTo(trig, res)
			c.scheduleRetry(trig, res)
			if queued != nil {
				return *queued, true
			}
			return Trigger{}, false
		}
	}
}

// Reconcile runs one full cycle synchronously: resolve and render desired
// state, re-snapshot live state, diff, and sync when warranted. It is
// safe to call without Run for one-shot operation, but callers must not
// run it concurrently for the same controller.
func (c *Controller) Reconcile(ctx context.Context, trig Trigger) CycleResult {
	appName := c.app.QualifiedName()
	logging.Info("Controller", "Cycle started for %s (cause: %s)", appName, trig.Cause)

	c.setState(StateRendering)
	desired, revision, err := c.desiredSet(ctx, trig)
	if err != nil {
		return c.fail(revision, err)
	}

	c.setState(StateDiffing)
	if err := c.deps.Observer.Refresh(ctx); err != nil {
		return c.fail(revision, &api.TargetUnavailableError{Target: c.app.Spec.Destination.Target, Err: err})
	}
	liveSet := c.deps.Observer.SnapshotFor(c.app.Metadata.Name)
	plan := diff.Calculate(desired, liveSet, c.app.Spec.SyncPolicy.Prune())

	if err := ctx.Err(); err != nil {
		c.setState(StateIdle)
		return CycleResult{Revision: revision, Err: err}
	}

	// A clean diff ends the cycle. Hooks run only alongside real work or
	// on an explicit sync request, never on a no-op background trigger.
	explicit := trig.Cause == api.CauseManual || trig.Cause == api.CauseRollback
	hooks := len(plan.PreSync) + len(plan.PostSync)
	if plan.Status == api.SyncStatusSynced && (hooks == 0 || !explicit) {
		c.settle(StateIdle, api.SyncStatusSynced, revision, keysOf(desired), "")
		logging.Debug("Controller", "%s already synced at %s", appName, revision)
		return CycleResult{Revision: revision, Sync: api.SyncStatusSynced}
	}

	// Manual-only mode: surface OutOfSync without acting unless the
	// trigger is explicit or the sync policy is automated.
	if !explicit && !c.app.Spec.SyncPolicy.IsAutomated() {
		c.settle(StateIdle, api.SyncStatusOutOfSync, revision, keysOf(desired), "")
		logging.Info("Controller", "%s is OutOfSync at %s (manual sync required)", appName, revision)
		return CycleResult{Revision: revision, Sync: api.SyncStatusOutOfSync}
	}

	c.setState(StateSyncing)
	// Cancellation is not offered once the environment is being mutated;
	// the executor always runs to wave-boundary completion or failure.
	syncCtx := context.WithoutCancel(ctx)
	result, err := c.deps.Executor.Execute(syncCtx, executor.Request{
		App:      c.app,
		Revision: revision,
		Cause:    trig.Cause,
		Plan:     plan,
		Desired:  desired,
	})
	if err != nil {
		return c.failAs(StateDegraded, revision, err)
	}

	// Bring the observer cache up to date with our own mutations so that
	// status reads and drift detection start from the post-sync state.
	if refreshErr := c.deps.Observer.Refresh(syncCtx); refreshErr != nil {
		logging.Warn("Controller", "Post-sync observation failed for %s: %v", appName, refreshErr)
	}

	if !result.Succeeded() {
		c.settle(StateDegraded, api.SyncStatusOutOfSync, revision, keysOf(desired),
			fmt.Sprintf("sync %s: %d operation(s) failed", result.Phase, len(result.FailedKeys())))
		logging.Warn("Controller", "Sync %s for %s at %s", result.Phase, appName, revision)
		return CycleResult{Revision: revision, Sync: api.SyncStatusOutOfSync, Result: &result}
	}

	c.settle(StateIdle, api.SyncStatusSynced, revision, keysOf(desired), "")
	c.resetAttempts()
	logging.Info("Controller", "Sync succeeded for %s at %s (%d operations)",
		appName, revision, len(result.Results))
	return CycleResult{Revision: revision, Sync: api.SyncStatusSynced, Result: &result}
}

// desiredSet resolves the desired resource set for the trigger. Rollback
// triggers pin the recorded set of a history entry; the pin holds until a
// revision trigger or an explicit revision override returns the
// application to its declared source.
func (c *Controller) desiredSet(ctx context.Context, trig Trigger) ([]api.Resource, string, error) {
	if trig.Entry != nil {
		c.setPinned(trig.Entry)
	} else if trig.Cause == api.CauseRevision || trig.Revision != "" {
		c.setPinned(nil)
	}

	if pin := c.pinnedEntry(); pin != nil {
		desired := make([]api.Resource, len(pin.Resources))
		for i := range pin.Resources {
			desired[i] = pin.Resources[i].DeepCopy()
		}
		return desired, pin.Revision, nil
	}

	src := c.app.Spec.Source
	if trig.Revision != "" {
		src.Revision = trig.Revision
	}

	revision, err := c.deps.Fetcher.Resolve(ctx, src)
	if err != nil {
		return nil, "", err
	}
	manifests, err := c.deps.Fetcher.Fetch(ctx, src, revision)
	if err != nil {
		return nil, revision, err
	}
	desired, err := c.deps.Renderer.Render(c.app, revision, manifests)
	if err != nil {
		return nil, revision, err
	}
	return desired, revision, nil
}

// scheduleRetry requeues the trigger with exponential backoff after a
// transient or sync failure. Permanent errors (RevisionNotFound,
// RenderError) are surfaced without retry; they cannot resolve until the
// source changes, which produces its own trigger.
func (c *Controller) scheduleRetry(trig Trigger, res CycleResult) {
	retriable := false
	switch {
	case res.Err == nil && res.Result != nil && !res.Result.Succeeded():
		retriable = c.app.Spec.SyncPolicy.IsAutomated()
	case api.IsSourceUnavailable(res.Err) || api.IsTargetUnavailable(res.Err):
		retriable = true
	}
	if !retriable {
		return
	}

	attempt := c.bumpAttempt()
	if attempt > c.cfg.MaxRetries {
		logging.Warn("Controller", "Giving up on %s trigger for %s after %d attempts",
			trig.Cause, c.app.QualifiedName(), attempt-1)
		return
	}

	delay := calculateBackoff(attempt, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	logging.Debug("Controller", "Requeuing %s trigger for %s after %v (attempt %d)",
		trig.Cause, c.app.QualifiedName(), delay, attempt)

	retry := Trigger{Cause: trig.Cause, Revision: trig.Revision}
	time.AfterFunc(delay, func() { c.Submit(retry) })
}

// calculateBackoff computes exponential backoff capped at max.
func calculateBackoff(attempt int, initial, max time.Duration) time.Duration {
	backoff := initial * time.Duration(1<<uint(attempt-1))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	return backoff
}

// Status reports the controller's current condition, with health computed
// from the observer's present cache rather than the last cycle.
func (c *Controller) Status() Status {
	c.mu.RLock()
	state := c.state
	syncStatus := c.sync
	revision := c.revision
	lastError := c.lastError
	managed := make([]api.ResourceKey, len(c.managed))
	copy(managed, c.managed)
	c.mu.RUnlock()

	liveSet := c.deps.Observer.SnapshotFor(c.app.Metadata.Name)
	liveMap := make(map[api.ResourceKey]api.Resource, len(liveSet))
	for _, res := range liveSet {
		liveMap[res.Key] = res
	}

	perResource, worst := health.Aggregate(managed, liveMap)
	if state == StateUnknown {
		worst = api.HealthUnknown
	}

	resources := make([]ResourceStatus, 0, len(managed))
	for _, key := range managed {
		resources = append(resources, ResourceStatus{Key: key, Health: perResource[key]})
	}

	return Status{
		Application: c.app.QualifiedName(),
		State:       state,
		Sync:        syncStatus,
		Health:      worst,
		Revision:    revision,
		LastError:   lastError,
		Resources:   resources,
	}
}

// State returns the current state machine position.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// settle records the terminal condition of a cycle.
func (c *Controller) settle(state State, syncStatus api.SyncStatus, revision string, managed []api.ResourceKey, errMsg string) {
	c.mu.Lock()
	c.state = state
	c.sync = syncStatus
	c.revision = revision
	c.managed = managed
	c.lastError = errMsg
	c.mu.Unlock()
}

// fail records a cycle that errored before any environment mutation.
// Render and resolution failures leave no partial state change; the
// controller returns to Idle with the error surfaced.
func (c *Controller) fail(revision string, err error) CycleResult {
	return c.failAs(StateIdle, revision, err)
}

func (c *Controller) failAs(state State, revision string, err error) CycleResult {
	c.mu.Lock()
	c.state = state
	c.lastError = err.Error()
	c.mu.Unlock()

	logging.Error("Controller", err, "Cycle failed for %s", c.app.QualifiedName())
	return CycleResult{Revision: revision, Err: err}
}

func (c *Controller) setPinned(entry *api.RevisionHistoryEntry) {
	c.mu.Lock()
	c.pinned = entry
	c.mu.Unlock()
}

func (c *Controller) pinnedEntry() *api.RevisionHistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pinned
}

func (c *Controller) bumpAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	return c.attempt
}

func (c *Controller) resetAttempts() {
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
}

func replyTo(trig Trigger, res CycleResult) {
	if trig.reply == nil {
		return
	}
	select {
	case trig.reply <- res:
	default:
	}
}

func keysOf(resources []api.Resource) []api.ResourceKey {
	keys := make([]api.ResourceKey, len(resources))
	for i, res := range resources {
		keys[i] = res.Key
	}
	return keys
}
