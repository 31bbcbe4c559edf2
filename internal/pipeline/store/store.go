// internal/pipeline/store/store.go

// Package store holds the in-memory pipeline state for the board. It is the
// single writer surface: optimistic mutations, rollbacks and reconciliations
// all go through it, and each write bumps a per-application version counter
// so late remote responses can be detected and discarded.
package store

import (
	"fmt"
	"sort"
	"sync"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
)

// Record is the stored state for one application: the application row, its
// stage instances, and the version under which they were last written.
type Record struct {
	App       *models.Application
	Instances []*models.StageInstance
	Version   uint64
}

// Clone returns a deep copy safe to hand to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := &Record{App: r.App.Clone(), Version: r.Version}
	if r.Instances != nil {
		cp.Instances = make([]*models.StageInstance, len(r.Instances))
		for i, si := range r.Instances {
			cp.Instances[i] = si.Clone()
		}
	}
	return cp
}

// CurrentInstance returns the instance at the application's current stage
// order, or nil.
func (r *Record) CurrentInstance() *models.StageInstance {
	for _, si := range r.Instances {
		if si.TemplateOrder == r.App.CurrentStageOrder {
			return si
		}
	}
	return nil
}

// Listener is notified after every committed write with a deep copy of the
// new record. Used by the focus-mode feed and board refresh.
type Listener func(rec *Record)

// Store is a mutex-serialized map of application records. All reads return
// deep copies; all writes notify subscribers.
type Store struct {
	mu        sync.Mutex
	records   map[string]*Record
	listeners map[int]Listener
	nextSub   int
	logger    logger.Logger
}

// New creates an empty store.
func New(log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Store{
		records:   make(map[string]*Record),
		listeners: make(map[int]Listener),
		logger:    log,
	}
}

// Load seeds or replaces the record for an application, resetting nothing:
// the version keeps advancing so in-flight reconciliations against the old
// state stay detectable.
func (s *Store) Load(app *models.Application, instances []*models.StageInstance) {
	s.mu.Lock()
	rec, ok := s.records[app.ID]
	version := uint64(1)
	if ok {
		version = rec.Version + 1
	}
	fresh := &Record{App: app.Clone(), Version: version}
	for _, si := range instances {
		fresh.Instances = append(fresh.Instances, si.Clone())
	}
	s.records[app.ID] = fresh
	snapshot := fresh.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// Get returns a deep copy of the record, or an APPLICATION_NOT_FOUND error.
func (s *Store) Get(applicationID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[applicationID]
	if !ok {
		return nil, apperrors.NewApplicationNotFoundError(applicationID)
	}
	return rec.Clone(), nil
}

// Version returns the current version for an application, 0 if unknown.
func (s *Store) Version(applicationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[applicationID]; ok {
		return rec.Version
	}
	return 0
}

// Mutate applies fn to the live record under the lock, bumps the version and
// notifies subscribers. It returns a deep snapshot of the state BEFORE the
// mutation together with the new version, which a caller needs to roll back
// or reconcile exactly this write.
func (s *Store) Mutate(applicationID string, fn func(rec *Record) error) (*Record, uint64, error) {
	s.mu.Lock()
	rec, ok := s.records[applicationID]
	if !ok {
		s.mu.Unlock()
		return nil, 0, apperrors.NewApplicationNotFoundError(applicationID)
	}

	before := rec.Clone()
	if err := fn(rec); err != nil {
		// fn may have partially written; restore the snapshot.
		rec.App = before.App.Clone()
		rec.Instances = before.Clone().Instances
		s.mu.Unlock()
		return nil, 0, err
	}
	rec.Version++
	version := rec.Version
	snapshot := rec.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return before, version, nil
}

// Restore rolls the record back to a previously taken snapshot, but only if
// no later write has happened since ifVersion. Returns true when the
// rollback was applied, false when it was discarded as stale.
func (s *Store) Restore(applicationID string, snapshot *Record, ifVersion uint64) bool {
	s.mu.Lock()
	rec, ok := s.records[applicationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if rec.Version != ifVersion {
		current := rec.Version
		s.mu.Unlock()
		s.logger.Warn("discarding stale rollback", map[string]interface{}{
			"application_id": applicationID,
			"rollback_for":   ifVersion,
			"current":        current,
		})
		return false
	}

	rec.App = snapshot.App.Clone()
	rec.Instances = snapshot.Clone().Instances
	rec.Version++
	fresh := rec.Clone()
	s.mu.Unlock()

	s.notify(fresh)
	return true
}

// ReplaceIfCurrent swaps in server-fetched state, but only if the version the
// fetch was issued for is still current. Returns true when applied.
func (s *Store) ReplaceIfCurrent(applicationID string, app *models.Application, instances []*models.StageInstance, ifVersion uint64) bool {
	s.mu.Lock()
	rec, ok := s.records[applicationID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if rec.Version != ifVersion {
		current := rec.Version
		s.mu.Unlock()
		s.logger.Warn("discarding stale reconciliation", map[string]interface{}{
			"application_id": applicationID,
			"fetched_for":    ifVersion,
			"current":        current,
		})
		return false
	}

	rec.App = app.Clone()
	rec.Instances = nil
	for _, si := range instances {
		rec.Instances = append(rec.Instances, si.Clone())
	}
	rec.Version++
	fresh := rec.Clone()
	s.mu.Unlock()

	s.notify(fresh)
	return true
}

// Subscribe registers a listener for committed writes and returns an
// unsubscribe function.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(rec *Record) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l(rec.Clone())
	}
}

// ColumnIDFor maps an application to the board column it renders in.
// Non-stage statuses map to their own columns; in_progress maps to the
// stage-<order> column.
func ColumnIDFor(app *models.Application) string {
	if app.Status == models.StatusInProgress {
		return fmt.Sprintf("stage-%d", app.CurrentStageOrder)
	}
	return string(app.Status)
}

// Columns derives the ordered column list for a board: the applied and
// shortlisted columns, one column per stage template, then the offer and
// rejected columns.
func Columns(templates []models.StageTemplate) []string {
	orders := make([]int, 0, len(templates))
	for _, t := range templates {
		orders = append(orders, t.Order)
	}
	sort.Ints(orders)

	cols := []string{string(models.StatusApplied), string(models.StatusShortlisted)}
	for _, o := range orders {
		cols = append(cols, fmt.Sprintf("stage-%d", o))
	}
	cols = append(cols,
		string(models.StatusOfferMade),
		string(models.StatusOfferAccepted),
		string(models.StatusRejected),
	)
	return cols
}

// CheckInvariants verifies the cross-field consistency rules for a record:
// a rejection reason exists iff the status is rejected, and an in_progress
// application has exactly one instance at its current stage order.
func (s *Store) CheckInvariants(applicationID string) error {
	rec, err := s.Get(applicationID)
	if err != nil {
		return err
	}

	app := rec.App
	if app.Status == models.StatusRejected && app.RejectionReason == "" {
		return fmt.Errorf("application %s is rejected without a reason", app.ID)
	}
	if app.Status != models.StatusRejected && app.RejectionReason != "" {
		return fmt.Errorf("application %s carries a rejection reason in status %s", app.ID, app.Status)
	}
	if app.Status == models.StatusInProgress {
		current := 0
		for _, si := range rec.Instances {
			if si.TemplateOrder == app.CurrentStageOrder {
				current++
			}
		}
		if current == 0 {
			return fmt.Errorf("application %s is in_progress without an instance at order %d", app.ID, app.CurrentStageOrder)
		}
		if current > 1 {
			return fmt.Errorf("application %s has %d instances at order %d, want exactly one", app.ID, current, app.CurrentStageOrder)
		}
	}
	return nil
}
