package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"converge/internal/api"
	"converge/internal/live"
	"converge/internal/source"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

// Manager owns one Controller per registered application and fans
// external signals into their trigger channels: live-state events become
// debounced self-heal triggers, and source revision events become
// revision triggers for every application watching that repository.
type Manager struct {
	mu sync.RWMutex

	cfg  Config
	deps Deps

	// watcher emits revision events for source repositories. Nil when the
	// engine runs without continuous source watching.
	watcher *source.Watcher

	// apps maps qualified names to running controllers.
	apps map[string]*managedApp

	// byName maps tracking-label values (bare application names) to
	// qualified names for drift-event routing.
	byName map[string]string

	// driftTimers debounces self-heal triggers per application.
	driftTimers map[string]*time.Timer

	revisionEvents chan source.RevisionEvent

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

type managedApp struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

// NewManager creates a manager. The watcher may be nil for one-shot use.
func NewManager(deps Deps, cfg Config, watcher *source.Watcher) *Manager {
	return &Manager{
		cfg:            cfg.withDefaults(),
		deps:           deps,
		watcher:        watcher,
		apps:           make(map[string]*managedApp),
		byName:         make(map[string]string),
		driftTimers:    make(map[string]*time.Timer),
		revisionEvents: make(chan source.RevisionEvent, 64),
	}
}

// Start begins the signal fan-in loops. The observer must already be
// running (or refreshed by cycles); the manager does not start it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Start(m.ctx, m.revisionEvents); err != nil {
			return fmt.Errorf("failed to start source watcher: %w", err)
		}
		m.wg.Add(1)
		go m.processRevisionEvents()
	}

	m.wg.Add(1)
	go m.processLiveEvents(m.deps.Observer.Subscribe())

	logging.Info("Manager", "Application manager started")
	return nil
}

// Stop cancels all controllers and fan-in loops and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancelFunc
	for _, timer := range m.driftTimers {
		timer.Stop()
	}
	m.driftTimers = make(map[string]*time.Timer)
	m.mu.Unlock()

	cancel()
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			logging.Error("Manager", err, "Error stopping source watcher")
		}
	}
	m.wg.Wait()
	logging.Info("Manager", "Application manager stopped")
}

// Add validates the application and starts its reconciliation loop.
// Applications with an automated sync policy get an immediate revision
// trigger so registration converges without operator action.
func (m *Manager) Add(app *v1alpha1.Application) error {
	if err := app.Validate(); err != nil {
		return err
	}

	name := app.QualifiedName()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager is not running")
	}
	if _, exists := m.apps[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("application %s already registered", name)
	}
	if other, exists := m.byName[app.Metadata.Name]; exists {
		// The tracking label carries only the bare name, so two
		// applications sharing one name would claim each other's live
		// resources.
		m.mu.Unlock()
		return fmt.Errorf("application name %q already used by %s", app.Metadata.Name, other)
	}

	ctrl := New(app, m.deps, m.cfg)
	ctx, cancel := context.WithCancel(m.ctx)
	m.apps[name] = &managedApp{ctrl: ctrl, cancel: cancel}
	m.byName[app.Metadata.Name] = name
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctrl.Run(ctx)
	}()

	if m.watcher != nil {
		if err := m.watcher.AddRepository(app.Spec.Source.Repository); err != nil {
			logging.Warn("Manager", "Failed to watch repository %s: %v", app.Spec.Source.Repository, err)
		}
	}

	logging.Info("Manager", "Registered application %s (repository %s, automated=%t)",
		name, app.Spec.Source.Repository, app.Spec.SyncPolicy.IsAutomated())

	if app.Spec.SyncPolicy.IsAutomated() {
		ctrl.Submit(Trigger{Cause: api.CauseRevision})
	}
	return nil
}

// Remove stops the application's loop and forgets it. Live resources are
// left untouched; removal is not a prune.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	managed, ok := m.apps[name]
	if ok {
		delete(m.apps, name)
		delete(m.byName, managed.ctrl.App().Metadata.Name)
		if timer, exists := m.driftTimers[name]; exists {
			timer.Stop()
			delete(m.driftTimers, name)
		}
	}
	m.mu.Unlock()

	if !ok {
		return api.NewNotFoundError("application", name)
	}
	managed.cancel()
	logging.Info("Manager", "Removed application %s", name)
	return nil
}

// Sync requests a manual sync and waits for the cycle outcome. A non-empty
// revision overrides the declared selector for this attempt and clears any
// rollback pin.
func (m *Manager) Sync(ctx context.Context, name, revision string) (CycleResult, error) {
	ctrl, err := m.controller(name)
	if err != nil {
		return CycleResult{}, err
	}
	return m.await(ctx, ctrl.Request(Trigger{Cause: api.CauseManual, Revision: revision}))
}

// Rollback replays the resource set recorded in the application's history
// entry at the given zero-based index and waits for the outcome. The
// declared source revision is not modified; the rollback set stays pinned
// until the next revision trigger.
func (m *Manager) Rollback(ctx context.Context, name string, index int) (CycleResult, error) {
	ctrl, err := m.controller(name)
	if err != nil {
		return CycleResult{}, err
	}
	entry, err := m.deps.History.Get(name, index)
	if err != nil {
		return CycleResult{}, err
	}
	return m.await(ctx, ctrl.Request(Trigger{Cause: api.CauseRollback, Entry: &entry}))
}

// History returns the application's sync history in chronological order.
func (m *Manager) History(name string) ([]api.RevisionHistoryEntry, error) {
	if _, err := m.controller(name); err != nil {
		return nil, err
	}
	return m.deps.History.List(name)
}

// Get returns the application's current status.
func (m *Manager) Get(name string) (Status, error) {
	ctrl, err := m.controller(name)
	if err != nil {
		return Status{}, err
	}
	return ctrl.Status(), nil
}

// List returns statuses for all registered applications, sorted by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	ctrls := make([]*Controller, 0, len(m.apps))
	for _, managed := range m.apps {
		ctrls = append(ctrls, managed.ctrl)
	}
	m.mu.RUnlock()

	statuses := make([]Status, 0, len(ctrls))
	for _, ctrl := range ctrls {
		statuses = append(statuses, ctrl.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Application < statuses[j].Application })
	return statuses
}

func (m *Manager) controller(name string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	managed, ok := m.apps[name]
	if !ok {
		return nil, api.NewNotFoundError("application", name)
	}
	return managed.ctrl, nil
}

func (m *Manager) await(ctx context.Context, reply <-chan CycleResult) (CycleResult, error) {
	select {
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	case res := <-reply:
		return res, res.Err
	}
}

// processRevisionEvents turns source watcher events into revision
// triggers for every application tracking that repository.
func (m *Manager) processRevisionEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.revisionEvents:
			if !ok {
				return
			}
			m.handleRevisionEvent(event)
		}
	}
}

func (m *Manager) handleRevisionEvent(event source.RevisionEvent) {
	m.mu.RLock()
	targets := make([]*Controller, 0, 1)
	for _, managed := range m.apps {
		if managed.ctrl.App().Spec.Source.Repository == event.Repository {
			targets = append(targets, managed.ctrl)
		}
	}
	m.mu.RUnlock()

	logging.Debug("Manager", "Revision event for repository %s (%d applications)",
		event.Repository, len(targets))
	for _, ctrl := range targets {
		ctrl.Submit(Trigger{Cause: api.CauseRevision})
	}
}

// processLiveEvents turns observer events into debounced self-heal
// triggers for the owning application, identified by the tracking label.
func (m *Manager) processLiveEvents(events <-chan live.Event) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handleLiveEvent(event)
		}
	}
}

func (m *Manager) handleLiveEvent(event live.Event) {
	owner := event.Resource.Label(api.ApplicationLabel)
	if owner == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.byName[owner]
	if !ok {
		return
	}
	managed, ok := m.apps[name]
	if !ok || !managed.ctrl.App().Spec.SyncPolicy.SelfHeal() {
		return
	}

	// One timer per application coalesces bursty live-state changes into
	// a single drift trigger.
	if timer, exists := m.driftTimers[name]; exists {
		timer.Reset(m.cfg.DriftDebounce)
		return
	}

	ctrl := managed.ctrl
	m.driftTimers[name] = time.AfterFunc(m.cfg.DriftDebounce, func() {
		m.mu.Lock()
		delete(m.driftTimers, name)
		m.mu.Unlock()

		logging.Debug("Manager", "Drift detected for %s, triggering self-heal", name)
		ctrl.Submit(Trigger{Cause: api.CauseDrift})
	})
}
