package app

import (
	"context"

	"converge/internal/api"
	"converge/internal/controller"
	"converge/internal/diff"
	"converge/internal/health"
)

// SyncOnce runs one manual sync cycle for the application and returns the
// outcome. A non-empty revision overrides the declared selector for this
// attempt only.
func (e *Engine) SyncOnce(ctx context.Context, name, revision string) (controller.CycleResult, error) {
	app, err := e.Application(name)
	if err != nil {
		return controller.CycleResult{}, err
	}

	ctrl := controller.New(app, e.deps(), e.controllerConfig())
	res := ctrl.Reconcile(ctx, controller.Trigger{Cause: api.CauseManual, Revision: revision})
	return res, res.Err
}

// RollbackOnce replays the application's history entry at index and
// returns the outcome.
func (e *Engine) RollbackOnce(ctx context.Context, name string, index int) (controller.CycleResult, error) {
	app, err := e.Application(name)
	if err != nil {
		return controller.CycleResult{}, err
	}
	entry, err := e.history.Get(name, index)
	if err != nil {
		return controller.CycleResult{}, err
	}

	ctrl := controller.New(app, e.deps(), e.controllerConfig())
	res := ctrl.Reconcile(ctx, controller.Trigger{Cause: api.CauseRollback, Entry: &entry})
	return res, res.Err
}

// Status inspects one application without mutating anything: it renders
// the declared desired state, observes live state, and reports sync
// status plus per-resource health.
func (e *Engine) Status(ctx context.Context, name string) (controller.Status, error) {
	app, err := e.Application(name)
	if err != nil {
		return controller.Status{}, err
	}

	status := controller.Status{
		Application: name,
		State:       controller.StateIdle,
		Sync:        api.SyncStatusUnknown,
		Health:      api.HealthUnknown,
	}

	revision, err := e.fetcher.Resolve(ctx, app.Spec.Source)
	if err != nil {
		return controller.Status{}, err
	}
	manifests, err := e.fetcher.Fetch(ctx, app.Spec.Source, revision)
	if err != nil {
		return controller.Status{}, err
	}
	desired, err := e.renderer.Render(app, revision, manifests)
	if err != nil {
		return controller.Status{}, err
	}

	if err := e.observer.Refresh(ctx); err != nil {
		return controller.Status{}, err
	}
	liveSet := e.observer.SnapshotFor(app.Metadata.Name)
	plan := diff.Calculate(desired, liveSet, app.Spec.SyncPolicy.Prune())

	liveMap := make(map[api.ResourceKey]api.Resource, len(liveSet))
	for _, res := range liveSet {
		liveMap[res.Key] = res
	}
	perResource, worst := health.Aggregate(keysOf(desired), liveMap)

	status.Sync = plan.Status
	status.Health = worst
	status.Revision = revision
	for _, res := range desired {
		status.Resources = append(status.Resources, controller.ResourceStatus{
			Key:    res.Key,
			Health: perResource[res.Key],
		})
	}
	return status, nil
}

// Statuses inspects every registered application.
func (e *Engine) Statuses(ctx context.Context) ([]controller.Status, error) {
	var out []controller.Status
	for _, app := range e.Applications() {
		status, err := e.Status(ctx, app.QualifiedName())
		if err != nil {
			// A broken application should not hide the others in a listing.
			status = controller.Status{
				Application: app.QualifiedName(),
				State:       controller.StateIdle,
				Sync:        api.SyncStatusUnknown,
				Health:      api.HealthUnknown,
				LastError:   err.Error(),
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// HistoryOf returns the application's recorded sync attempts.
func (e *Engine) HistoryOf(name string) ([]api.RevisionHistoryEntry, error) {
	if _, err := e.Application(name); err != nil {
		return nil, err
	}
	return e.history.List(name)
}

func keysOf(resources []api.Resource) []api.ResourceKey {
	keys := make([]api.ResourceKey, len(resources))
	for i, res := range resources {
		keys[i] = res.Key
	}
	return keys
}
