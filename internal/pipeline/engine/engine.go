// internal/pipeline/engine/engine.go

// Package engine is the façade over the pipeline machinery. Every operation
// follows the same shape: validate against a snapshot, mutate the store
// optimistically, call the backend, then reconcile or roll back via the
// mutator. Side effects (modals) are dispatched only after the optimistic
// mutation is accepted.
package engine

import (
	"context"
	"time"

	apperrors "pipeline-engine/internal/common/errors"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/metrics"
	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/dispatch"
	"pipeline-engine/internal/pipeline/dragdrop"
	"pipeline-engine/internal/pipeline/lifecycle"
	"pipeline-engine/internal/pipeline/mutator"
	"pipeline-engine/internal/pipeline/store"
	"pipeline-engine/internal/pipeline/validator"

	"github.com/google/uuid"
)

// Remote is the backend surface the engine needs for write operations.
type Remote interface {
	UpdateStatus(ctx context.Context, applicationID string, status models.Status) error
	MoveToStage(ctx context.Context, applicationID string, order int) error
	MakeOffer(ctx context.Context, applicationID string, offer models.OfferDetails) error
	RespondToOffer(ctx context.Context, applicationID string, accepted bool, finalOffer *models.OfferDetails) error
	Reject(ctx context.Context, applicationID, reason, feedback string) error
	ScheduleStage(ctx context.Context, instanceID string, at time.Time, interviewer, location string) error
	RescheduleStage(ctx context.Context, instanceID string, at time.Time, interviewer, location string) error
	AssignAssessment(ctx context.Context, instanceID, instructions, externalURL string, deadline time.Time) error
	CompleteStage(ctx context.Context, instanceID, feedback string) error
	CancelStage(ctx context.Context, instanceID string) error
	ReopenStage(ctx context.Context, instanceID string) error
	CreateBookingLink(ctx context.Context, instanceID string) (*models.BookingToken, error)
}

// TemplateSource provides the stage templates of a job.
type TemplateSource interface {
	Stages(ctx context.Context, jobID string) ([]models.StageTemplate, error)
}

// Engine coordinates validated, optimistic pipeline transitions.
type Engine struct {
	store      *store.Store
	mutator    *mutator.Mutator
	remote     Remote
	templates  TemplateSource
	dispatcher *dispatch.Dispatcher
	bookingTTL time.Duration
	logger     logger.Logger
}

// New creates an Engine.
func New(s *store.Store, m *mutator.Mutator, remote Remote, templates TemplateSource, d *dispatch.Dispatcher, bookingTTL time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Engine{
		store:      s,
		mutator:    m,
		remote:     remote,
		templates:  templates,
		dispatcher: d,
		bookingTTL: bookingTTL,
		logger:     log,
	}
}

// Store exposes the underlying store for reads and subscriptions.
func (e *Engine) Store() *store.Store {
	return e.store
}

// validate builds a snapshot and runs the validator. A silent denial is
// reported via the bool; a loud one via the error.
func (e *Engine) validate(ctx context.Context, applicationID string, req validator.Request) (validator.Decision, *store.Record, error) {
	rec, err := e.store.Get(applicationID)
	if err != nil {
		return validator.Decision{}, nil, err
	}
	templates, err := e.templates.Stages(ctx, rec.App.JobID)
	if err != nil {
		return validator.Decision{}, nil, err
	}

	d := validator.Validate(validator.Snapshot{
		App:       rec.App,
		Instances: rec.Instances,
		Templates: templates,
	}, req)

	if !d.Allowed {
		if d.Silent {
			return d, rec, nil
		}
		metrics.TransitionsDenied.WithLabelValues(string(req.Kind)).Inc()
		e.logger.Info("transition denied", map[string]interface{}{
			"application_id": applicationID,
			"transition":     string(req.Kind),
			"reason":         d.DenyReason,
		})
		return d, rec, apperrors.NewValidationDeniedError(d.DenyReason)
	}
	return d, rec, nil
}

// HandleDrop is the board entry point. It maps the drop, opens a modal for
// gated columns, and runs the transition for direct ones. No-op drops return
// nil without touching any state.
func (e *Engine) HandleDrop(ctx context.Context, drop dragdrop.Drop) error {
	res, err := dragdrop.MapDrop(drop)
	if err != nil {
		return apperrors.NewValidationDeniedError(err.Error())
	}
	if res.NoOp {
		return nil
	}
	if res.RequiresModal {
		e.dispatcher.Enqueue(dispatch.ModalRequest{
			Kind:          res.Modal,
			ApplicationID: drop.ApplicationID,
			StageOrder:    drop.SourceStageOrder,
		})
		return nil
	}

	switch res.Request.Kind {
	case validator.KindShortlist:
		return e.Shortlist(ctx, drop.ApplicationID)
	case validator.KindResetToApplied:
		return e.ResetToApplied(ctx, drop.ApplicationID)
	case validator.KindMoveToStage:
		return e.MoveToStage(ctx, drop.ApplicationID, res.Request.TargetStageOrder)
	default:
		return apperrors.NewValidationDeniedError("unroutable drop")
	}
}

// ==========================
// Status Transitions
// ==========================

// Shortlist moves an application to shortlisted.
func (e *Engine) Shortlist(ctx context.Context, applicationID string) error {
	return e.statusTransition(ctx, applicationID, validator.KindShortlist, models.StatusShortlisted)
}

// ResetToApplied moves an application back to applied.
func (e *Engine) ResetToApplied(ctx context.Context, applicationID string) error {
	return e.statusTransition(ctx, applicationID, validator.KindResetToApplied, models.StatusApplied)
}

func (e *Engine) statusTransition(ctx context.Context, applicationID string, kind validator.Kind, status models.Status) error {
	d, _, err := e.validate(ctx, applicationID, validator.Request{Kind: kind})
	if err != nil || !d.Allowed {
		return err
	}

	return e.mutator.Apply(ctx, applicationID, string(kind),
		func(rec *store.Record) error {
			rec.App.Status = status
			rec.App.CurrentStageOrder = 0
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.UpdateStatus(ctx, applicationID, status)
		},
	)
}

// MoveToStage advances the application into a stage. When no local instance
// exists for the target stage, one is created from the template with a
// locally generated ID; the post-success re-fetch replaces it with the
// server's row. The side effect named by the validator is dispatched after
// the optimistic mutation.
func (e *Engine) MoveToStage(ctx context.Context, applicationID string, order int) error {
	req := validator.Request{Kind: validator.KindMoveToStage, TargetStageOrder: order}
	d, rec, err := e.validate(ctx, applicationID, req)
	if err != nil || !d.Allowed {
		return err
	}

	templates, err := e.templates.Stages(ctx, rec.App.JobID)
	if err != nil {
		return err
	}
	var tpl *models.StageTemplate
	for i := range templates {
		if templates[i].Order == order {
			tpl = &templates[i]
			break
		}
	}
	if tpl == nil {
		return apperrors.NewTemplateNotFoundError(rec.App.JobID, order)
	}

	err = e.mutator.Apply(ctx, applicationID, string(req.Kind),
		func(r *store.Record) error {
			r.App.Status = models.StatusInProgress
			r.App.CurrentStageOrder = order
			if hasInstanceAt(r, order) {
				return nil
			}
			r.Instances = append(r.Instances, &models.StageInstance{
				ID:            uuid.NewString(),
				ApplicationID: applicationID,
				TemplateOrder: order,
				StageType:     tpl.StageType,
				Status:        models.StageNotStarted,
			})
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.MoveToStage(ctx, applicationID, order)
		},
	)
	if err != nil {
		return err
	}

	switch d.SideEffect {
	case validator.SideEffectOpenScheduleDialog:
		e.dispatcher.Enqueue(dispatch.ModalRequest{
			Kind: dispatch.ModalSchedule, ApplicationID: applicationID, StageOrder: order,
		})
	case validator.SideEffectOpenAssessmentDlg:
		e.dispatcher.Enqueue(dispatch.ModalRequest{
			Kind: dispatch.ModalAssessment, ApplicationID: applicationID, StageOrder: order,
		})
	}
	return nil
}

func hasInstanceAt(rec *store.Record, order int) bool {
	for _, si := range rec.Instances {
		if si.TemplateOrder == order {
			return true
		}
	}
	return false
}

// MakeOffer records the offer confirmed in the offer modal.
func (e *Engine) MakeOffer(ctx context.Context, applicationID string, offer models.OfferDetails) error {
	d, _, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindMakeOffer})
	if err != nil || !d.Allowed {
		return err
	}

	return e.mutator.Apply(ctx, applicationID, string(validator.KindMakeOffer),
		func(rec *store.Record) error {
			rec.App.Status = models.StatusOfferMade
			rec.App.CurrentStageOrder = 0
			o := offer
			rec.App.OfferDetails = &o
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.MakeOffer(ctx, applicationID, offer)
		},
	)
}

// AcceptOffer records acceptance, optionally with final negotiated terms.
// Permitted from any status; when correcting a prior rejection the reason is
// cleared to keep the record consistent.
func (e *Engine) AcceptOffer(ctx context.Context, applicationID string, finalOffer *models.OfferDetails) error {
	d, _, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindAcceptOffer})
	if err != nil || !d.Allowed {
		return err
	}

	return e.mutator.Apply(ctx, applicationID, string(validator.KindAcceptOffer),
		func(rec *store.Record) error {
			rec.App.Status = models.StatusOfferAccepted
			rec.App.RejectionReason = ""
			rec.App.RejectionFeedback = ""
			if finalOffer != nil {
				o := *finalOffer
				rec.App.FinalOfferDetails = &o
			}
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.RespondToOffer(ctx, applicationID, true, finalOffer)
		},
	)
}

// DeclineOffer records the candidate declining an outstanding offer.
func (e *Engine) DeclineOffer(ctx context.Context, applicationID string) error {
	d, _, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindDeclineOffer})
	if err != nil || !d.Allowed {
		return err
	}

	return e.mutator.Apply(ctx, applicationID, string(validator.KindDeclineOffer),
		func(rec *store.Record) error {
			rec.App.Status = models.StatusOfferDeclined
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.RespondToOffer(ctx, applicationID, false, nil)
		},
	)
}

// Reject records the rejection confirmed in the rejection modal. The reason
// is mandatory; feedback is optional.
func (e *Engine) Reject(ctx context.Context, applicationID, reason, feedback string) error {
	req := validator.Request{Kind: validator.KindReject, Reason: reason, Feedback: feedback}
	d, _, err := e.validate(ctx, applicationID, req)
	if err != nil || !d.Allowed {
		return err
	}

	return e.mutator.Apply(ctx, applicationID, string(validator.KindReject),
		func(rec *store.Record) error {
			rec.App.Status = models.StatusRejected
			rec.App.RejectionReason = reason
			rec.App.RejectionFeedback = feedback
			return nil
		},
		func(ctx context.Context) error {
			return e.remote.Reject(ctx, applicationID, reason, feedback)
		},
	)
}

// ==========================
// Stage Instance Operations
// ==========================

// ScheduleStage applies the slot confirmed in the schedule dialog to the
// instance at the given stage order.
func (e *Engine) ScheduleStage(ctx context.Context, applicationID string, order int, at time.Time, interviewer, location string) error {
	return e.instanceTransition(ctx, applicationID, order, "schedule_stage",
		func(si *models.StageInstance) error {
			return lifecycle.Schedule(si, at, interviewer, location)
		},
		func(ctx context.Context, instanceID string) error {
			return e.remote.ScheduleStage(ctx, instanceID, at, interviewer, location)
		},
	)
}

// RescheduleStage replaces the slot of an already scheduled instance.
func (e *Engine) RescheduleStage(ctx context.Context, applicationID string, order int, at time.Time, interviewer, location string) error {
	return e.instanceTransition(ctx, applicationID, order, "reschedule_stage",
		func(si *models.StageInstance) error {
			return lifecycle.Reschedule(si, at, interviewer, location)
		},
		func(ctx context.Context, instanceID string) error {
			return e.remote.RescheduleStage(ctx, instanceID, at, interviewer, location)
		},
	)
}

// AssignAssessment applies the assessment confirmed in the assessment dialog.
// Only the current stage may receive one, and only when its template is an
// assessment template.
func (e *Engine) AssignAssessment(ctx context.Context, applicationID string, order int, instructions, externalURL string, deadline time.Time) error {
	d, rec, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindAssignAssessment})
	if err != nil || !d.Allowed {
		return err
	}
	if order != rec.App.CurrentStageOrder {
		return apperrors.NewValidationDeniedError("assessment must target the current stage")
	}

	return e.instanceTransition(ctx, applicationID, order, "assign_assessment",
		func(si *models.StageInstance) error {
			return lifecycle.AssignAssessment(si, instructions, externalURL, deadline)
		},
		func(ctx context.Context, instanceID string) error {
			return e.remote.AssignAssessment(ctx, instanceID, instructions, externalURL, deadline)
		},
	)
}

// CompleteStage completes the application's current stage with feedback.
func (e *Engine) CompleteStage(ctx context.Context, applicationID, feedback string) error {
	d, rec, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindCompleteStage, Feedback: feedback})
	if err != nil || !d.Allowed {
		return err
	}
	order := rec.App.CurrentStageOrder

	return e.instanceTransition(ctx, applicationID, order, "complete_stage",
		func(si *models.StageInstance) error {
			return lifecycle.Complete(si, feedback)
		},
		func(ctx context.Context, instanceID string) error {
			return e.remote.CompleteStage(ctx, instanceID, feedback)
		},
	)
}

// CancelStage aborts the application's current scheduled stage.
func (e *Engine) CancelStage(ctx context.Context, applicationID string) error {
	d, rec, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindCancelStage})
	if err != nil || !d.Allowed {
		return err
	}
	order := rec.App.CurrentStageOrder

	return e.instanceTransition(ctx, applicationID, order, "cancel_stage",
		lifecycle.Cancel,
		func(ctx context.Context, instanceID string) error {
			return e.remote.CancelStage(ctx, instanceID)
		},
	)
}

// ReopenStage returns the application's current stage to not_started.
func (e *Engine) ReopenStage(ctx context.Context, applicationID string) error {
	d, rec, err := e.validate(ctx, applicationID, validator.Request{Kind: validator.KindReopenStage})
	if err != nil || !d.Allowed {
		return err
	}
	order := rec.App.CurrentStageOrder

	return e.instanceTransition(ctx, applicationID, order, "reopen_stage",
		lifecycle.Reopen,
		func(ctx context.Context, instanceID string) error {
			return e.remote.ReopenStage(ctx, instanceID)
		},
	)
}

// RequestBookingLink issues a candidate self-scheduling link for the stage
// at the given order. The instance stays not_started; a locally generated
// token renders immediately and the re-fetch swaps in the server's.
func (e *Engine) RequestBookingLink(ctx context.Context, applicationID string, order int) error {
	return e.instanceTransition(ctx, applicationID, order, "create_booking_link",
		func(si *models.StageInstance) error {
			_, err := lifecycle.IssueBookingLink(si, e.bookingTTL, time.Now())
			return err
		},
		func(ctx context.Context, instanceID string) error {
			_, err := e.remote.CreateBookingLink(ctx, instanceID)
			return err
		},
	)
}

// instanceTransition runs an optimistic mutation scoped to one stage
// instance. The lifecycle function enforces legality; an illegal move aborts
// before the remote call.
func (e *Engine) instanceTransition(ctx context.Context, applicationID string, order int, transition string, apply func(si *models.StageInstance) error, remote func(ctx context.Context, instanceID string) error) error {
	rec, err := e.store.Get(applicationID)
	if err != nil {
		return err
	}
	var instanceID string
	for _, si := range rec.Instances {
		if si.TemplateOrder == order {
			instanceID = si.ID
			break
		}
	}
	if instanceID == "" {
		return apperrors.NewStageInstanceNotFoundError(applicationID, order)
	}

	return e.mutator.Apply(ctx, applicationID, transition,
		func(r *store.Record) error {
			for _, si := range r.Instances {
				if si.TemplateOrder == order {
					if err := apply(si); err != nil {
						return apperrors.NewInvalidTransitionError(err.Error())
					}
					return nil
				}
			}
			return apperrors.NewStageInstanceNotFoundError(applicationID, order)
		},
		func(ctx context.Context) error {
			return remote(ctx, instanceID)
		},
	)
}
