// internal/pipeline/store/store_test.go
package store

import (
	"fmt"
	"testing"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createStore() *Store {
	return New(nil)
}

func createApp(id string, status models.Status, order int) *models.Application {
	return &models.Application{
		ID:                id,
		CandidateID:       "cand-1",
		JobID:             "job-1",
		Status:            status,
		CurrentStageOrder: order,
	}
}

func createInstance(appID string, order int, status models.StageStatus) *models.StageInstance {
	return &models.StageInstance{
		ID:            fmt.Sprintf("si-%s-%d", appID, order),
		ApplicationID: appID,
		TemplateOrder: order,
		StageType:     "technical_interview",
		Status:        status,
	}
}

// ==========================
// Load / Get / Version
// ==========================

func TestStore_LoadAndGet(t *testing.T) {
	s := createStore()
	s.Load(createApp("app-1", models.StatusApplied, 0), nil)

	rec, err := s.Get("app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApplied, rec.App.Status)
	assert.Equal(t, uint64(1), rec.Version)

	// Reload advances the version, never resets it.
	s.Load(createApp("app-1", models.StatusShortlisted, 0), nil)
	assert.Equal(t, uint64(2), s.Version("app-1"))
}

func TestStore_GetUnknownApplication(t *testing.T) {
	s := createStore()

	_, err := s.Get("ghost")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeApplicationNotFound, apperrors.CodeOf(err))
	assert.Equal(t, uint64(0), s.Version("ghost"))
}

func TestStore_GetReturnsDeepCopy(t *testing.T) {
	s := createStore()
	s.Load(createApp("app-1", models.StatusInProgress, 1),
		[]*models.StageInstance{createInstance("app-1", 1, models.StageScheduled)})

	rec, err := s.Get("app-1")
	require.NoError(t, err)

	rec.App.Status = models.StatusRejected
	rec.Instances[0].Status = models.StageCancelled

	fresh, err := s.Get("app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, fresh.App.Status)
	assert.Equal(t, models.StageScheduled, fresh.Instances[0].Status)
}

// ==========================
// Mutate
// ==========================

func TestStore_Mutate(t *testing.T) {
	t.Run("applies write, bumps version, returns prior snapshot", func(t *testing.T) {
		s := createStore()
		s.Load(createApp("app-1", models.StatusApplied, 0), nil)

		before, version, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusShortlisted
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, uint64(2), version)
		assert.Equal(t, models.StatusApplied, before.App.Status)
		assert.Equal(t, uint64(1), before.Version)

		rec, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusShortlisted, rec.App.Status)
	})

	t.Run("failing mutation leaves record untouched", func(t *testing.T) {
		s := createStore()
		s.Load(createApp("app-1", models.StatusApplied, 0), nil)

		_, _, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusRejected
			return fmt.Errorf("validation failed")
		})

		require.Error(t, err)
		rec, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApplied, rec.App.Status)
		assert.Equal(t, uint64(1), rec.Version)
	})

	t.Run("unknown application", func(t *testing.T) {
		s := createStore()
		_, _, err := s.Mutate("ghost", func(rec *Record) error { return nil })
		assert.Equal(t, apperrors.ErrCodeApplicationNotFound, apperrors.CodeOf(err))
	})
}

// ==========================
// Restore (rollback)
// ==========================

func TestStore_Restore(t *testing.T) {
	t.Run("rollback restores state bitwise", func(t *testing.T) {
		s := createStore()
		app := createApp("app-1", models.StatusInProgress, 1)
		si := createInstance("app-1", 1, models.StageScheduled)
		si.Feedback = "good signal"
		s.Load(app, []*models.StageInstance{si})

		original, err := s.Get("app-1")
		require.NoError(t, err)

		before, version, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusRejected
			rec.App.RejectionReason = "x"
			rec.Instances[0].Status = models.StageCancelled
			return nil
		})
		require.NoError(t, err)

		applied := s.Restore("app-1", before, version)
		assert.True(t, applied)

		restored, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, original.App, restored.App)
		assert.Equal(t, original.Instances, restored.Instances)
	})

	t.Run("stale rollback is discarded", func(t *testing.T) {
		s := createStore()
		s.Load(createApp("app-1", models.StatusApplied, 0), nil)

		before, version, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusShortlisted
			return nil
		})
		require.NoError(t, err)

		// A later write supersedes the in-flight operation.
		_, _, err = s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusInProgress
			rec.App.CurrentStageOrder = 1
			rec.Instances = append(rec.Instances, createInstance("app-1", 1, models.StageNotStarted))
			return nil
		})
		require.NoError(t, err)

		applied := s.Restore("app-1", before, version)

		assert.False(t, applied)
		rec, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, rec.App.Status)
	})
}

// ==========================
// ReplaceIfCurrent (reconciliation)
// ==========================

func TestStore_ReplaceIfCurrent(t *testing.T) {
	t.Run("applies fetched state when version is current", func(t *testing.T) {
		s := createStore()
		s.Load(createApp("app-1", models.StatusApplied, 0), nil)

		_, version, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusShortlisted
			return nil
		})
		require.NoError(t, err)

		fetched := createApp("app-1", models.StatusShortlisted, 0)
		fetched.UpdatedAt = "2025-06-02T10:00:00Z"
		applied := s.ReplaceIfCurrent("app-1", fetched, nil, version)

		assert.True(t, applied)
		rec, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, "2025-06-02T10:00:00Z", rec.App.UpdatedAt)
		assert.Equal(t, version+1, rec.Version)
	})

	t.Run("stale fetch is discarded", func(t *testing.T) {
		s := createStore()
		s.Load(createApp("app-1", models.StatusApplied, 0), nil)

		_, staleVersion, err := s.Mutate("app-1", func(rec *Record) error {
			rec.App.Status = models.StatusInProgress
			rec.App.CurrentStageOrder = 1
			rec.Instances = append(rec.Instances, createInstance("app-1", 1, models.StageNotStarted))
			return nil
		})
		require.NoError(t, err)

		// Second optimistic move wins the race.
		_, _, err = s.Mutate("app-1", func(rec *Record) error {
			rec.App.CurrentStageOrder = 2
			rec.Instances = append(rec.Instances, createInstance("app-1", 2, models.StageNotStarted))
			return nil
		})
		require.NoError(t, err)

		stale := createApp("app-1", models.StatusInProgress, 1)
		applied := s.ReplaceIfCurrent("app-1", stale, nil, staleVersion)

		assert.False(t, applied)
		rec, err := s.Get("app-1")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.App.CurrentStageOrder)
	})
}

// ==========================
// Subscribers
// ==========================

func TestStore_Subscribe(t *testing.T) {
	s := createStore()
	var seen []uint64
	unsubscribe := s.Subscribe(func(rec *Record) {
		seen = append(seen, rec.Version)
	})

	s.Load(createApp("app-1", models.StatusApplied, 0), nil)
	_, _, err := s.Mutate("app-1", func(rec *Record) error {
		rec.App.Status = models.StatusShortlisted
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2}, seen)

	unsubscribe()
	_, _, err = s.Mutate("app-1", func(rec *Record) error {
		rec.App.Status = models.StatusApplied
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

// ==========================
// Columns
// ==========================

func TestColumns(t *testing.T) {
	templates := []models.StageTemplate{
		{Order: 2, StageType: "technical_interview"},
		{Order: 1, StageType: "phone_screen"},
		{Order: 3, StageType: "take_home"},
	}

	cols := Columns(templates)

	assert.Equal(t, []string{
		"applied", "shortlisted",
		"stage-1", "stage-2", "stage-3",
		"offer_made", "offer_accepted", "rejected",
	}, cols)
}

func TestColumnIDFor(t *testing.T) {
	assert.Equal(t, "applied", ColumnIDFor(createApp("a", models.StatusApplied, 0)))
	assert.Equal(t, "stage-2", ColumnIDFor(createApp("a", models.StatusInProgress, 2)))
	assert.Equal(t, "rejected", ColumnIDFor(createApp("a", models.StatusRejected, 0)))
}

// ==========================
// Invariants
// ==========================

func TestStore_CheckInvariants(t *testing.T) {
	tests := []struct {
		name      string
		app       *models.Application
		instances []*models.StageInstance
		wantErr   bool
	}{
		{
			name: "consistent applied record",
			app:  createApp("app-1", models.StatusApplied, 0),
		},
		{
			name: "rejected with reason",
			app: func() *models.Application {
				a := createApp("app-1", models.StatusRejected, 0)
				a.RejectionReason = "salary_mismatch"
				return a
			}(),
		},
		{
			name:    "rejected without reason",
			app:     createApp("app-1", models.StatusRejected, 0),
			wantErr: true,
		},
		{
			name: "reason lingering on non-rejected status",
			app: func() *models.Application {
				a := createApp("app-1", models.StatusApplied, 0)
				a.RejectionReason = "stale"
				return a
			}(),
			wantErr: true,
		},
		{
			name:      "in_progress with matching instance",
			app:       createApp("app-1", models.StatusInProgress, 1),
			instances: []*models.StageInstance{createInstance("app-1", 1, models.StageScheduled)},
		},
		{
			name:    "in_progress without instance",
			app:     createApp("app-1", models.StatusInProgress, 1),
			wantErr: true,
		},
		{
			// A server payload can carry duplicate orders; ReplaceIfCurrent
			// swaps lists in wholesale, so the check must catch it here.
			name: "in_progress with duplicate instances at current order",
			app:  createApp("app-1", models.StatusInProgress, 1),
			instances: []*models.StageInstance{
				createInstance("app-1", 1, models.StageScheduled),
				createInstance("app-1", 1, models.StageNotStarted),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createStore()
			s.Load(tt.app, tt.instances)

			err := s.CheckInvariants("app-1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
