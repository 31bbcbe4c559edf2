// internal/pipeline/mutator/mutator.go

// Package mutator implements the optimistic mutation protocol: mutate the
// store immediately, run the remote call, then either reconcile with freshly
// fetched server state or roll the store back to the pre-mutation snapshot.
// Whichever completes, a response for a superseded version is discarded.
package mutator

import (
	"context"
	"time"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/metrics"
	"pipeline-engine/internal/common/observability"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/store"
)

// RemoteCall performs the server-side counterpart of one local mutation.
type RemoteCall func(ctx context.Context) error

// Refresher re-fetches one application's authoritative state after a
// successful remote call.
type Refresher interface {
	Refresh(ctx context.Context, applicationID string) (*models.Application, []*models.StageInstance, error)
}

// Mutator drives optimistic transitions against a Store.
type Mutator struct {
	store     *store.Store
	refresher Refresher
	obs       *observability.Observability
	tracing   *observability.Tracing
	logger    logger.Logger
}

// New creates a Mutator. obs and tracing may be nil.
func New(s *store.Store, r Refresher, obs *observability.Observability, tracing *observability.Tracing, log logger.Logger) *Mutator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Mutator{store: s, refresher: r, obs: obs, tracing: tracing, logger: log}
}

// Apply runs one optimistic transition:
//
//  1. mutate the local record and take a snapshot of the prior state
//  2. issue the remote call
//  3. on success, re-fetch the application and swap the fetched state in,
//     unless a newer local mutation has superseded this one
//  4. on failure, roll back to the snapshot under the same staleness rule
//     and return a REMOTE_FAILURE error
//
// A discarded reconciliation or rollback is logged and counted, never
// surfaced as an error: the newer mutation's own completion will settle the
// record.
func (m *Mutator) Apply(ctx context.Context, applicationID, transition string, mutate func(rec *store.Record) error, remote RemoteCall) error {
	snapshot, version, err := m.store.Mutate(applicationID, mutate)
	if err != nil {
		return err
	}
	metrics.TransitionsApplied.WithLabelValues(transition).Inc()

	log := m.logger.WithFields(map[string]interface{}{
		"application_id": applicationID,
		"transition":     transition,
		"version":        version,
	})
	log.Debug("optimistic mutation applied", nil)

	ctx, span := m.tracing.StartRemoteSpan(ctx, transition, applicationID)
	start := time.Now()
	remoteErr := remote(ctx)
	elapsed := time.Since(start)
	span.End()

	metrics.RemoteCallDuration.WithLabelValues(transition).Observe(elapsed.Seconds())
	if m.obs != nil {
		m.obs.RecordRemoteDuration(ctx, transition, elapsed)
	}

	if remoteErr != nil {
		m.recordOutcome(ctx, transition, "rolled_back")
		metrics.TransitionsRolledBack.WithLabelValues(transition).Inc()
		if !m.store.Restore(applicationID, snapshot, version) {
			metrics.StaleReconciliations.Inc()
			log.Warn("rollback superseded by newer mutation", nil)
		} else {
			log.WithError(remoteErr).Warn("remote call failed, state rolled back", nil)
		}
		return apperrors.NewRemoteFailureError(transition, remoteErr)
	}

	m.reconcile(ctx, applicationID, transition, version, log)
	return nil
}

// reconcile fetches authoritative state and swaps it in if this transition is
// still the latest write. Fetch errors are logged only: the optimistic state
// already matches what the server accepted.
func (m *Mutator) reconcile(ctx context.Context, applicationID, transition string, version uint64, log logger.Logger) {
	if m.refresher == nil {
		m.recordOutcome(ctx, transition, "applied")
		return
	}

	app, instances, err := m.refresher.Refresh(ctx, applicationID)
	if err != nil {
		m.recordOutcome(ctx, transition, "refetch_failed")
		log.WithError(err).Warn("post-success refetch failed, keeping optimistic state", nil)
		return
	}

	if !m.store.ReplaceIfCurrent(applicationID, app, instances, version) {
		metrics.StaleReconciliations.Inc()
		m.recordOutcome(ctx, transition, "stale")
		log.Warn("reconciliation superseded by newer mutation", nil)
		return
	}
	m.recordOutcome(ctx, transition, "reconciled")
}

func (m *Mutator) recordOutcome(ctx context.Context, transition, outcome string) {
	if m.obs != nil {
		m.obs.RecordTransition(ctx, transition, outcome)
	}
}
