// internal/pipeline/lifecycle/lifecycle.go

// Package lifecycle is the sub-state machine for a single interview-stage
// occurrence.
//
// Forward paths:
//
//	not_started ──► scheduled ───────────────────► completed
//	not_started ──► awaiting_submission ──► submitted ──► completed
//	{scheduled, awaiting_submission, submitted} ──► cancelled
//
// The only backward move is reopen: {completed, cancelled} ──► not_started.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"pipeline-engine/internal/models"

	"github.com/google/uuid"
)

var ErrInvalidStageTransition = errors.New("INVALID_STAGE_TRANSITION")

// Schedule moves a not_started instance to scheduled with the given slot.
// Any pending booking token is consumed.
func Schedule(si *models.StageInstance, at time.Time, interviewer, location string) error {
	if si.Status != models.StageNotStarted {
		return transitionErr(si.Status, models.StageScheduled)
	}
	si.Status = models.StageScheduled
	si.Scheduling = &models.Scheduling{
		ScheduledAt: at,
		Interviewer: interviewer,
		Location:    location,
	}
	if si.BookingToken != nil {
		si.BookingToken.IsUsed = true
	}
	return nil
}

// Reschedule replaces the scheduling payload without changing state. Only
// valid while scheduled.
func Reschedule(si *models.StageInstance, at time.Time, interviewer, location string) error {
	if si.Status != models.StageScheduled {
		return transitionErr(si.Status, models.StageScheduled)
	}
	si.Scheduling = &models.Scheduling{
		ScheduledAt: at,
		Interviewer: interviewer,
		Location:    location,
	}
	return nil
}

// AssignAssessment moves a not_started instance onto the assessment path.
func AssignAssessment(si *models.StageInstance, instructions, externalURL string, deadline time.Time) error {
	if si.Status != models.StageNotStarted {
		return transitionErr(si.Status, models.StageAwaitingSubmission)
	}
	si.Status = models.StageAwaitingSubmission
	si.Assessment = &models.Assessment{
		Instructions: instructions,
		ExternalURL:  externalURL,
		Deadline:     deadline,
	}
	return nil
}

// RecordSubmission marks the candidate's assessment as submitted. Normally
// server-driven; exposed so reconciliation and tests share one path.
func RecordSubmission(si *models.StageInstance, submissionURL string, at time.Time) error {
	if si.Status != models.StageAwaitingSubmission {
		return transitionErr(si.Status, models.StageSubmitted)
	}
	si.Status = models.StageSubmitted
	if si.Assessment == nil {
		si.Assessment = &models.Assessment{}
	}
	si.Assessment.SubmissionURL = submissionURL
	si.Assessment.SubmittedAt = &at
	return nil
}

// Complete finishes the stage. Allowed from scheduled (interview happened)
// or submitted (assessment reviewed).
func Complete(si *models.StageInstance, feedback string) error {
	if si.Status != models.StageScheduled && si.Status != models.StageSubmitted {
		return transitionErr(si.Status, models.StageCompleted)
	}
	si.Status = models.StageCompleted
	si.Feedback = feedback
	return nil
}

// Cancel aborts an active stage.
func Cancel(si *models.StageInstance) error {
	switch si.Status {
	case models.StageScheduled, models.StageAwaitingSubmission, models.StageSubmitted:
		si.Status = models.StageCancelled
		return nil
	}
	return transitionErr(si.Status, models.StageCancelled)
}

// Reopen is the single permitted backward move. The instance returns to
// not_started with its scheduling, assessment and feedback cleared, so a
// subsequent Schedule or AssignAssessment is valid again.
func Reopen(si *models.StageInstance) error {
	if si.Status != models.StageCompleted && si.Status != models.StageCancelled {
		return transitionErr(si.Status, models.StageNotStarted)
	}
	si.Status = models.StageNotStarted
	si.Scheduling = nil
	si.Assessment = nil
	si.BookingToken = nil
	si.Feedback = ""
	return nil
}

// IssueBookingLink attaches a self-scheduling token to a not_started
// instance. The instance stays not_started; AwaitingCandidateBooking reports
// the pending link until it is used or expires.
func IssueBookingLink(si *models.StageInstance, ttl time.Duration, now time.Time) (*models.BookingToken, error) {
	if si.Status != models.StageNotStarted {
		return nil, transitionErr(si.Status, models.StageNotStarted)
	}
	token := &models.BookingToken{
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}
	si.BookingToken = token
	return token, nil
}

func transitionErr(from, to models.StageStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStageTransition, from, to)
}
