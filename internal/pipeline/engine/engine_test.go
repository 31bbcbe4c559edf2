// internal/pipeline/engine/engine_test.go
package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/dispatch"
	"pipeline-engine/internal/pipeline/dragdrop"
	"pipeline-engine/internal/pipeline/mutator"
	"pipeline-engine/internal/pipeline/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeRemote struct {
	calls []string
	fail  map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fail: map[string]error{}}
}

func (f *fakeRemote) record(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeRemote) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	return f.record("update_status:" + string(status))
}
func (f *fakeRemote) MoveToStage(ctx context.Context, id string, order int) error {
	return f.record(fmt.Sprintf("move_to_stage:%d", order))
}
func (f *fakeRemote) MakeOffer(ctx context.Context, id string, offer models.OfferDetails) error {
	return f.record("make_offer")
}
func (f *fakeRemote) RespondToOffer(ctx context.Context, id string, accepted bool, final *models.OfferDetails) error {
	return f.record(fmt.Sprintf("respond_to_offer:%t", accepted))
}
func (f *fakeRemote) Reject(ctx context.Context, id, reason, feedback string) error {
	return f.record("reject")
}
func (f *fakeRemote) ScheduleStage(ctx context.Context, id string, at time.Time, interviewer, location string) error {
	return f.record("schedule_stage")
}
func (f *fakeRemote) RescheduleStage(ctx context.Context, id string, at time.Time, interviewer, location string) error {
	return f.record("reschedule_stage")
}
func (f *fakeRemote) AssignAssessment(ctx context.Context, id, instructions, url string, deadline time.Time) error {
	return f.record("assign_assessment")
}
func (f *fakeRemote) CompleteStage(ctx context.Context, id, feedback string) error {
	return f.record("complete_stage")
}
func (f *fakeRemote) CancelStage(ctx context.Context, id string) error {
	return f.record("cancel_stage")
}
func (f *fakeRemote) ReopenStage(ctx context.Context, id string) error {
	return f.record("reopen_stage")
}
func (f *fakeRemote) CreateBookingLink(ctx context.Context, id string) (*models.BookingToken, error) {
	return &models.BookingToken{Token: "srv-tok"}, f.record("create_booking_link")
}

type fakeTemplates struct {
	templates []models.StageTemplate
}

func (f *fakeTemplates) Stages(ctx context.Context, jobID string) ([]models.StageTemplate, error) {
	return f.templates, nil
}

type recordingPresenter struct {
	seen []dispatch.ModalRequest
}

func (p *recordingPresenter) Present(req dispatch.ModalRequest) {
	p.seen = append(p.seen, req)
}

type harness struct {
	engine    *Engine
	store     *store.Store
	remote    *fakeRemote
	presenter *recordingPresenter
}

func createHarness(t *testing.T) *harness {
	s := store.New(logger.NewTestLogger(t))
	remote := newFakeRemote()
	templates := &fakeTemplates{templates: []models.StageTemplate{
		{Order: 1, StageType: "phone_screen", RequiresScheduling: true},
		{Order: 2, StageType: "technical_interview", RequiresScheduling: true},
		{Order: 3, StageType: "take_home", IsAssessment: true},
	}}
	d := dispatch.New(nil)
	p := &recordingPresenter{}
	d.SetPresenter(p)

	// No refresher: the optimistic state stands in for the server re-fetch.
	m := mutator.New(s, nil, nil, nil, logger.NewTestLogger(t))

	return &harness{
		engine:    New(s, m, remote, templates, d, 72*time.Hour, logger.NewTestLogger(t)),
		store:     s,
		remote:    remote,
		presenter: p,
	}
}

func (h *harness) load(status models.Status, order int, instances ...*models.StageInstance) {
	h.store.Load(&models.Application{
		ID: "app-1", CandidateID: "cand-1", JobID: "job-1",
		Status: status, CurrentStageOrder: order,
	}, instances)
}

func (h *harness) app(t *testing.T) *models.Application {
	rec, err := h.store.Get("app-1")
	require.NoError(t, err)
	return rec.App
}

func (h *harness) instanceAt(t *testing.T, order int) *models.StageInstance {
	rec, err := h.store.Get("app-1")
	require.NoError(t, err)
	for _, si := range rec.Instances {
		if si.TemplateOrder == order {
			return si
		}
	}
	return nil
}

func createInstance(order int, status models.StageStatus) *models.StageInstance {
	return &models.StageInstance{
		ID: fmt.Sprintf("si-%d", order), ApplicationID: "app-1",
		TemplateOrder: order, StageType: "technical_interview", Status: status,
	}
}

// ==========================
// Drops
// ==========================

// Dropping an applied application onto the Shortlisted column updates the
// status and calls the backend.
func TestHandleDrop_Shortlist(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusApplied, 0)

	err := h.engine.HandleDrop(context.Background(), dragdrop.Drop{
		ApplicationID: "app-1", SourceStatus: models.StatusApplied, TargetColumnID: "shortlisted",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusShortlisted, h.app(t).Status)
	assert.Equal(t, []string{"update_status:shortlisted"}, h.remote.calls)
}

func TestHandleDrop_IdentityIsNoOp(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusShortlisted, 0)
	v := h.store.Version("app-1")

	err := h.engine.HandleDrop(context.Background(), dragdrop.Drop{
		ApplicationID: "app-1", SourceStatus: models.StatusShortlisted, TargetColumnID: "shortlisted",
	})

	require.NoError(t, err)
	assert.Empty(t, h.remote.calls)
	assert.Equal(t, v, h.store.Version("app-1"))
}

// Dropping onto the rejected column opens the rejection modal and mutates
// nothing. Dismissing the modal simply means never calling Reject.
func TestHandleDrop_ModalGatedColumns(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 2, createInstance(2, models.StageScheduled))
	v := h.store.Version("app-1")

	err := h.engine.HandleDrop(context.Background(), dragdrop.Drop{
		ApplicationID: "app-1", SourceStatus: models.StatusInProgress,
		SourceStageOrder: 2, TargetColumnID: "rejected",
	})

	require.NoError(t, err)
	require.Len(t, h.presenter.seen, 1)
	assert.Equal(t, dispatch.ModalRejection, h.presenter.seen[0].Kind)
	assert.Empty(t, h.remote.calls)
	assert.Equal(t, v, h.store.Version("app-1"))
	assert.Equal(t, models.StatusInProgress, h.app(t).Status)
}

// ==========================
// Move To Stage
// ==========================

func TestMoveToStage_CreatesInstanceAndOpensScheduleDialog(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusShortlisted, 0)

	err := h.engine.MoveToStage(context.Background(), "app-1", 1)

	require.NoError(t, err)
	app := h.app(t)
	assert.Equal(t, models.StatusInProgress, app.Status)
	assert.Equal(t, 1, app.CurrentStageOrder)

	si := h.instanceAt(t, 1)
	require.NotNil(t, si)
	assert.NotEmpty(t, si.ID)
	assert.Equal(t, models.StageNotStarted, si.Status)
	assert.Equal(t, "phone_screen", si.StageType)

	require.Len(t, h.presenter.seen, 1)
	assert.Equal(t, dispatch.ModalSchedule, h.presenter.seen[0].Kind)
	assert.Equal(t, 1, h.presenter.seen[0].StageOrder)
}

// Moving onto an assessment stage opens the assessment dialog; declining it
// leaves the instance at not_started.
func TestMoveToStage_AssessmentDialogDeclinedLeavesNotStarted(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 2, createInstance(2, models.StageCompleted))

	err := h.engine.MoveToStage(context.Background(), "app-1", 3)

	require.NoError(t, err)
	require.Len(t, h.presenter.seen, 1)
	assert.Equal(t, dispatch.ModalAssessment, h.presenter.seen[0].Kind)

	// Operator dismisses the dialog: nothing else happens.
	si := h.instanceAt(t, 3)
	require.NotNil(t, si)
	assert.Equal(t, models.StageNotStarted, si.Status)
	assert.Nil(t, si.Assessment)
}

func TestMoveToStage_RemoteFailureRollsBack(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusShortlisted, 0)
	h.remote.fail["move_to_stage:1"] = fmt.Errorf("500")

	err := h.engine.MoveToStage(context.Background(), "app-1", 1)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRemoteFailure, apperrors.CodeOf(err))
	app := h.app(t)
	assert.Equal(t, models.StatusShortlisted, app.Status)
	assert.Nil(t, h.instanceAt(t, 1))
	// The failed transition never opens a dialog.
	assert.Empty(t, h.presenter.seen)
}

func TestMoveToStage_DeniedFromTerminal(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusOfferAccepted, 0)

	err := h.engine.MoveToStage(context.Background(), "app-1", 1)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationDenied, apperrors.CodeOf(err))
	assert.Empty(t, h.remote.calls)
}

// ==========================
// Offers and Rejection
// ==========================

func TestMakeOffer(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 2, createInstance(2, models.StageCompleted))

	err := h.engine.MakeOffer(context.Background(), "app-1", models.OfferDetails{Salary: "90000"})

	require.NoError(t, err)
	app := h.app(t)
	assert.Equal(t, models.StatusOfferMade, app.Status)
	require.NotNil(t, app.OfferDetails)
	assert.Equal(t, "90000", app.OfferDetails.Salary)
}

// accept-offer corrects even a rejected application, clearing the rejection
// fields so the record stays consistent.
func TestAcceptOffer_CorrectsRejection(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusApplied, 0)
	require.NoError(t, h.engine.Reject(context.Background(), "app-1", "mistake", ""))

	err := h.engine.AcceptOffer(context.Background(), "app-1", &models.OfferDetails{Salary: "95000"})

	require.NoError(t, err)
	app := h.app(t)
	assert.Equal(t, models.StatusOfferAccepted, app.Status)
	assert.Empty(t, app.RejectionReason)
	require.NotNil(t, app.FinalOfferDetails)
	assert.NoError(t, h.store.CheckInvariants("app-1"))
}

func TestDeclineOffer(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusOfferMade, 0)

	err := h.engine.DeclineOffer(context.Background(), "app-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusOfferDeclined, h.app(t).Status)
	assert.Equal(t, []string{"respond_to_offer:false"}, h.remote.calls)
}

func TestReject(t *testing.T) {
	t.Run("requires a reason", func(t *testing.T) {
		h := createHarness(t)
		h.load(models.StatusApplied, 0)

		err := h.engine.Reject(context.Background(), "app-1", "", "")

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidationDenied, apperrors.CodeOf(err))
		assert.Empty(t, h.remote.calls)
	})

	t.Run("remote failure restores the exact prior state", func(t *testing.T) {
		h := createHarness(t)
		h.load(models.StatusInProgress, 2, createInstance(2, models.StageScheduled))
		h.remote.fail["reject"] = fmt.Errorf("503")
		before, err := h.store.Get("app-1")
		require.NoError(t, err)

		err = h.engine.Reject(context.Background(), "app-1", "not a fit", "")

		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
		after, getErr := h.store.Get("app-1")
		require.NoError(t, getErr)
		assert.Equal(t, before.App, after.App)
		assert.Equal(t, before.Instances, after.Instances)
	})
}

// ==========================
// Stage Instance Operations
// ==========================

func TestScheduleAndCompleteStage(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1, createInstance(1, models.StageNotStarted))
	ctx := context.Background()
	at := time.Now().Add(24 * time.Hour)

	require.NoError(t, h.engine.ScheduleStage(ctx, "app-1", 1, at, "jane@example.com", "room-4"))
	si := h.instanceAt(t, 1)
	assert.Equal(t, models.StageScheduled, si.Status)

	require.NoError(t, h.engine.RescheduleStage(ctx, "app-1", 1, at.Add(time.Hour), "mark@example.com", "room-5"))
	si = h.instanceAt(t, 1)
	assert.Equal(t, "mark@example.com", si.Scheduling.Interviewer)

	require.NoError(t, h.engine.CompleteStage(ctx, "app-1", "strong"))
	si = h.instanceAt(t, 1)
	assert.Equal(t, models.StageCompleted, si.Status)
	assert.Equal(t, "strong", si.Feedback)
}

func TestCancelStage(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1, createInstance(1, models.StageScheduled))

	require.NoError(t, h.engine.CancelStage(context.Background(), "app-1"))
	assert.Equal(t, models.StageCancelled, h.instanceAt(t, 1).Status)
}

// Reopen, then the full scheduling path is valid again.
func TestReopenStage(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1, createInstance(1, models.StageCompleted))
	ctx := context.Background()

	require.NoError(t, h.engine.ReopenStage(ctx, "app-1"))
	assert.Equal(t, models.StageNotStarted, h.instanceAt(t, 1).Status)

	require.NoError(t, h.engine.ScheduleStage(ctx, "app-1", 1, time.Now().Add(time.Hour), "", ""))
	assert.Equal(t, models.StageScheduled, h.instanceAt(t, 1).Status)
}

func TestAssignAssessment(t *testing.T) {
	deadline := time.Now().Add(7 * 24 * time.Hour)

	t.Run("applies to the current assessment stage", func(t *testing.T) {
		h := createHarness(t)
		h.load(models.StatusInProgress, 3, createInstance(3, models.StageNotStarted))

		err := h.engine.AssignAssessment(context.Background(), "app-1", 3,
			"build a CLI", "https://assess.example.com/t1", deadline)

		require.NoError(t, err)
		si := h.instanceAt(t, 3)
		assert.Equal(t, models.StageAwaitingSubmission, si.Status)
		require.NotNil(t, si.Assessment)
		assert.Equal(t, "build a CLI", si.Assessment.Instructions)
	})

	// Stage order 1 is a phone screen: assigning an assessment there must be
	// denied before any state or remote call happens.
	t.Run("denied on a non-assessment stage", func(t *testing.T) {
		h := createHarness(t)
		h.load(models.StatusInProgress, 1, createInstance(1, models.StageNotStarted))
		v := h.store.Version("app-1")

		err := h.engine.AssignAssessment(context.Background(), "app-1", 1,
			"build a CLI", "", deadline)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidationDenied, apperrors.CodeOf(err))
		assert.Empty(t, h.remote.calls)
		assert.Equal(t, v, h.store.Version("app-1"))
		si := h.instanceAt(t, 1)
		assert.Equal(t, models.StageNotStarted, si.Status)
		assert.Nil(t, si.Assessment)
	})

	t.Run("denied when the order is not the current stage", func(t *testing.T) {
		h := createHarness(t)
		h.load(models.StatusInProgress, 3,
			createInstance(1, models.StageCompleted),
			createInstance(3, models.StageNotStarted))

		err := h.engine.AssignAssessment(context.Background(), "app-1", 1,
			"build a CLI", "", deadline)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidationDenied, apperrors.CodeOf(err))
		assert.Empty(t, h.remote.calls)
	})
}

func TestRequestBookingLink(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1, createInstance(1, models.StageNotStarted))

	err := h.engine.RequestBookingLink(context.Background(), "app-1", 1)

	require.NoError(t, err)
	si := h.instanceAt(t, 1)
	assert.Equal(t, models.StageNotStarted, si.Status)
	require.NotNil(t, si.BookingToken)
	assert.True(t, si.AwaitingCandidateBooking(time.Now()))
	assert.Equal(t, []string{"create_booking_link"}, h.remote.calls)
}

func TestInstanceTransition_IllegalMoveSkipsRemote(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1, createInstance(1, models.StageCompleted))

	err := h.engine.ScheduleStage(context.Background(), "app-1", 1, time.Now(), "", "")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.CodeOf(err))
	assert.Empty(t, h.remote.calls)
	assert.Equal(t, models.StageCompleted, h.instanceAt(t, 1).Status)
}

func TestInstanceTransition_MissingInstance(t *testing.T) {
	h := createHarness(t)
	h.load(models.StatusInProgress, 1)

	err := h.engine.ScheduleStage(context.Background(), "app-1", 1, time.Now(), "", "")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStageInstanceNotFound, apperrors.CodeOf(err))
}
