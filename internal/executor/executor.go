package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"converge/internal/api"
	"converge/internal/cluster"
	"converge/internal/diff"
	"converge/internal/history"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

// Request is one sync attempt handed to the executor.
type Request struct {
	// App is the application being synced.
	App *v1alpha1.Application

	// Revision is the resolved immutable revision of the desired set.
	Revision string

	// Cause is what triggered the attempt.
	Cause api.TriggerCause

	// Plan is the differ's output for this attempt.
	Plan diff.Result

	// Desired is the full resolved resource set, recorded in history so
	// rollback can replay it without refetching the source.
	Desired []api.Resource
}

// Executor applies planned operation lists against the target environment
// in safe order: PreSync hooks gate wave 0, each wave completes before the
// next begins, the first failure in a wave stops wave advancement without
// rolling back applied operations, and PostSync hooks run only after full
// success. Every attempt is appended to history exactly once.
type Executor struct {
	cluster cluster.Interface
	history history.Store
}

// New creates an executor for one target environment.
func New(cl cluster.Interface, store history.Store) *Executor {
	return &Executor{cluster: cl, history: store}
}

// Execute runs the sync attempt and records it. The returned SyncResult
// lists every operation with its individual outcome; the error return is
// reserved for failures of the engine itself (e.g. history persistence).
func (e *Executor) Execute(ctx context.Context, req Request) (api.SyncResult, error) {
	appName := req.App.QualifiedName()
	logging.Info("Executor", "Syncing %s at %s: %d PreSync, %d operations, %d PostSync",
		appName, req.Revision, len(req.Plan.PreSync), len(req.Plan.Operations), len(req.Plan.PostSync))

	result := e.run(ctx, req)

	entry := api.RevisionHistoryEntry{
		ID:          uuid.NewString(),
		Application: appName,
		Revision:    req.Revision,
		DeployedAt:  time.Now().UTC(),
		Digest:      api.DigestResources(req.Desired),
		Resources:   req.Desired,
		Result:      result,
		Cause:       req.Cause,
	}
	if err := e.history.Append(entry); err != nil {
		return result, fmt.Errorf("sync completed but history append failed: %w", err)
	}

	logging.Info("Executor", "Sync of %s at %s finished: %s", appName, req.Revision, result.Phase)
	return result, nil
}

// run executes the plan and assembles per-operation outcomes.
func (e *Executor) run(ctx context.Context, req Request) api.SyncResult {
	var results []api.OperationResult
	aborted := false

	// Namespace auto-creation happens before anything else.
	if req.App.Spec.SyncPolicy.HasOption(v1alpha1.SyncOptionCreateNamespace) && req.App.Spec.Destination.Namespace != "" {
		if err := e.cluster.EnsureNamespace(ctx, req.App.Spec.Destination.Namespace); err != nil {
			logging.Error("Executor", err, "Namespace creation failed for %s", req.App.QualifiedName())
			results = e.skipAll(req, results, fmt.Sprintf("namespace creation failed: %v", err))
			return assemble(results)
		}
	}

	// PreSync hooks run sequentially and gate wave 0.
	for i, op := range req.Plan.PreSync {
		res := e.apply(ctx, req.App, op)
		results = append(results, res)
		if res.Outcome == api.OutcomeFailed {
			for _, rest := range req.Plan.PreSync[i+1:] {
				results = append(results, skipped(rest, "earlier PreSync hook failed"))
			}
			aborted = true
			break
		}
	}

	if aborted {
		for _, op := range req.Plan.Operations {
			results = append(results, skipped(op, "PreSync phase failed"))
		}
	} else {
		waveResults, ok := e.runWaves(ctx, req)
		results = append(results, waveResults...)
		aborted = !ok
	}

	for _, op := range req.Plan.PostSync {
		if aborted {
			results = append(results, skipped(op, "sync did not fully succeed"))
			continue
		}
		res := e.apply(ctx, req.App, op)
		results = append(results, res)
		if res.Outcome == api.OutcomeFailed {
			aborted = true
		}
	}

	return assemble(results)
}

// runWaves executes the wave operations. Operations within a wave run
// independently and concurrently; a failure completes the in-flight wave
// and skips all later waves. Returns false if any operation failed.
func (e *Executor) runWaves(ctx context.Context, req Request) ([]api.OperationResult, bool) {
	var results []api.OperationResult
	failed := false
	failedWave := 0

	waves := diff.Waves(req.Plan.Operations)
	for _, wave := range waves {
		if failed {
			for _, op := range wave {
				results = append(results, skipped(op, fmt.Sprintf("wave %d aborted the sync", failedWave)))
			}
			continue
		}

		waveResults := make([]api.OperationResult, len(wave))
		var wg sync.WaitGroup
		for i, op := range wave {
			wg.Add(1)
			go func(i int, op api.SyncOperation) {
				defer wg.Done()
				waveResults[i] = e.apply(ctx, req.App, op)
			}(i, op)
		}
		wg.Wait()

		for _, res := range waveResults {
			if res.Outcome == api.OutcomeFailed && !failed {
				failed = true
				failedWave = res.Operation.Wave
			}
		}
		results = append(results, waveResults...)
	}
	return results, !failed
}

// apply executes one operation against the target environment.
func (e *Executor) apply(ctx context.Context, app *v1alpha1.Application, op api.SyncOperation) api.OperationResult {
	var err error
	switch op.Type {
	case api.OperationCreate, api.OperationUpdate:
		desired := op.Desired.DeepCopy()
		desired.SetLabel(api.ApplicationLabel, app.Metadata.Name)
		err = e.cluster.Apply(ctx, desired)
	case api.OperationDelete, api.OperationPrune:
		err = e.cluster.Delete(ctx, op.Key)
	default:
		err = fmt.Errorf("unknown operation type %q", op.Type)
	}

	if err != nil {
		opErr := &api.OperationFailedError{Key: op.Key, Operation: op.Type, Err: err}
		logging.Warn("Executor", "%v", opErr)
		return api.OperationResult{Operation: op, Outcome: api.OutcomeFailed, Message: err.Error()}
	}
	logging.Debug("Executor", "%s %s applied", op.Type, op.Key)
	return api.OperationResult{Operation: op, Outcome: api.OutcomeSucceeded}
}

// skipAll marks every planned operation as skipped with the given reason.
func (e *Executor) skipAll(req Request, results []api.OperationResult, reason string) []api.OperationResult {
	for _, op := range req.Plan.PreSync {
		results = append(results, skipped(op, reason))
	}
	for _, op := range req.Plan.Operations {
		results = append(results, skipped(op, reason))
	}
	for _, op := range req.Plan.PostSync {
		results = append(results, skipped(op, reason))
	}
	return results
}

func skipped(op api.SyncOperation, reason string) api.OperationResult {
	return api.OperationResult{Operation: op, Outcome: api.OutcomeSkipped, Message: reason}
}

// assemble derives the aggregate phase from per-operation outcomes.
func assemble(results []api.OperationResult) api.SyncResult {
	succeeded, failedOrSkipped := 0, 0
	for _, res := range results {
		switch res.Outcome {
		case api.OutcomeSucceeded:
			succeeded++
		default:
			failedOrSkipped++
		}
	}

	phase := api.SyncPhaseSucceeded
	if failedOrSkipped > 0 {
		if succeeded > 0 {
			phase = api.SyncPhasePartial
		} else {
			phase = api.SyncPhaseFailed
		}
	}
	return api.SyncResult{Phase: phase, Results: results}
}
