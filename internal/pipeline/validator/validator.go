// internal/pipeline/validator/validator.go

// Package validator is the pure decision function for pipeline transitions.
// It performs no I/O; callers act on the returned Decision.
package validator

import (
	"fmt"

	"pipeline-engine/internal/models"
)

// Kind identifies a requested transition.
type Kind string

const (
	KindShortlist        Kind = "shortlist"
	KindResetToApplied   Kind = "reset_to_applied"
	KindMoveToStage      Kind = "move_to_stage"
	KindMakeOffer        Kind = "make_offer"
	KindAcceptOffer      Kind = "accept_offer"
	KindDeclineOffer     Kind = "decline_offer"
	KindReject           Kind = "reject"
	KindCancelStage      Kind = "cancel_stage"
	KindCompleteStage    Kind = "complete_stage"
	KindReopenStage      Kind = "reopen_stage"
	KindAssignAssessment Kind = "assign_assessment"
)

// SideEffect marks a transition as incomplete without operator input.
type SideEffect string

const (
	SideEffectNone               SideEffect = "none"
	SideEffectOpenScheduleDialog SideEffect = "open_schedule_dialog"
	SideEffectOpenAssessmentDlg  SideEffect = "open_assessment_dialog"
)

// Request is one requested transition against a single application.
type Request struct {
	Kind             Kind
	TargetStageOrder int    // move_to_stage only
	Reason           string // reject only
	Feedback         string // reject / complete_stage
}

// Decision is the validator's verdict.
type Decision struct {
	Allowed    bool
	DenyReason string

	// Silent marks denials that must not surface an error, i.e. identity
	// transitions (dropping a card onto the column it already occupies).
	Silent bool

	ResultingStatus     models.Status
	ResultingStageOrder int
	SideEffect          SideEffect
}

// Snapshot is the read-only state the decision is made against.
type Snapshot struct {
	App       *models.Application
	Instances []*models.StageInstance
	Templates []models.StageTemplate
}

// CurrentInstance returns the instance whose template order equals the
// application's current stage order, or nil.
func (s Snapshot) CurrentInstance() *models.StageInstance {
	for _, si := range s.Instances {
		if si.TemplateOrder == s.App.CurrentStageOrder {
			return si
		}
	}
	return nil
}

// InstanceAt returns the instance for a template order, or nil.
func (s Snapshot) InstanceAt(order int) *models.StageInstance {
	for _, si := range s.Instances {
		if si.TemplateOrder == order {
			return si
		}
	}
	return nil
}

// TemplateAt returns the template for an order, or nil.
func (s Snapshot) TemplateAt(order int) *models.StageTemplate {
	for i := range s.Templates {
		if s.Templates[i].Order == order {
			return &s.Templates[i]
		}
	}
	return nil
}

func deny(reason string) Decision {
	return Decision{Allowed: false, DenyReason: reason, SideEffect: SideEffectNone}
}

func denySilent() Decision {
	return Decision{Allowed: false, Silent: true, SideEffect: SideEffectNone}
}

// Validate decides whether the requested transition is permitted and what it
// results in. Pure and side-effect-free.
func Validate(snap Snapshot, req Request) Decision {
	app := snap.App
	if app == nil {
		return deny("application missing from snapshot")
	}

	switch req.Kind {
	case KindShortlist:
		if app.Status == models.StatusShortlisted {
			return denySilent()
		}
		if app.Status.IsTerminal() {
			return deny(fmt.Sprintf("cannot shortlist from terminal status %s", app.Status))
		}
		return allowed(models.StatusShortlisted, 0)

	case KindResetToApplied:
		if app.Status == models.StatusApplied {
			return denySilent()
		}
		if app.Status.IsTerminal() {
			return deny(fmt.Sprintf("cannot reset from terminal status %s", app.Status))
		}
		return allowed(models.StatusApplied, 0)

	case KindMoveToStage:
		return validateMoveToStage(snap, req)

	case KindMakeOffer:
		if app.Status == models.StatusOfferMade {
			return denySilent()
		}
		if app.Status.IsTerminal() {
			return deny(fmt.Sprintf("cannot make offer from terminal status %s", app.Status))
		}
		return allowed(models.StatusOfferMade, 0)

	case KindAcceptOffer:
		// Intentionally permitted from any status: fast-path acceptance
		// supports operator correction of missed steps.
		if app.Status == models.StatusOfferAccepted {
			return denySilent()
		}
		return allowed(models.StatusOfferAccepted, 0)

	case KindDeclineOffer:
		if app.Status == models.StatusOfferDeclined {
			return denySilent()
		}
		if app.Status != models.StatusOfferMade {
			return deny(fmt.Sprintf("cannot decline offer from status %s", app.Status))
		}
		return allowed(models.StatusOfferDeclined, 0)

	case KindReject:
		if app.Status == models.StatusRejected {
			return denySilent()
		}
		if req.Reason == "" {
			return deny("rejection reason is required")
		}
		if app.Status.IsTerminal() {
			return deny(fmt.Sprintf("cannot reject from terminal status %s", app.Status))
		}
		return allowed(models.StatusRejected, 0)

	case KindCancelStage:
		si := snap.CurrentInstance()
		if app.Status != models.StatusInProgress || si == nil {
			return deny("no current stage instance")
		}
		// awaiting_submission is cancellable too: an assessment the candidate
		// never submits would otherwise be stuck until its deadline passes.
		if si.Status != models.StageScheduled && si.Status != models.StageAwaitingSubmission {
			return deny(fmt.Sprintf("cannot cancel stage in status %s", si.Status))
		}
		return allowed(models.StatusInProgress, app.CurrentStageOrder)

	case KindCompleteStage:
		si := snap.CurrentInstance()
		if app.Status != models.StatusInProgress || si == nil {
			return deny("no current stage instance")
		}
		if si.Status != models.StageScheduled && si.Status != models.StageSubmitted {
			return deny(fmt.Sprintf("cannot complete stage in status %s", si.Status))
		}
		return allowed(models.StatusInProgress, app.CurrentStageOrder)

	case KindReopenStage:
		si := snap.CurrentInstance()
		if app.Status != models.StatusInProgress || si == nil {
			return deny("no current stage instance")
		}
		if si.Status != models.StageCompleted && si.Status != models.StageCancelled {
			return deny(fmt.Sprintf("cannot reopen stage in status %s", si.Status))
		}
		return allowed(models.StatusInProgress, app.CurrentStageOrder)

	case KindAssignAssessment:
		si := snap.CurrentInstance()
		if app.Status != models.StatusInProgress || si == nil {
			return deny("no current stage instance")
		}
		tpl := snap.TemplateAt(app.CurrentStageOrder)
		if tpl == nil || !tpl.IsAssessment {
			return deny("current stage is not an assessment stage")
		}
		if si.Status != models.StageNotStarted {
			return deny(fmt.Sprintf("cannot assign assessment in status %s", si.Status))
		}
		return allowed(models.StatusInProgress, app.CurrentStageOrder)

	default:
		return deny(fmt.Sprintf("unknown transition %q", req.Kind))
	}
}

func validateMoveToStage(snap Snapshot, req Request) Decision {
	app := snap.App

	// Identity: already in progress at exactly the target order.
	if app.Status == models.StatusInProgress && app.CurrentStageOrder == req.TargetStageOrder {
		return denySilent()
	}
	if app.Status.IsTerminal() {
		return deny(fmt.Sprintf("cannot move to stage from terminal status %s", app.Status))
	}

	tpl := snap.TemplateAt(req.TargetStageOrder)
	if tpl == nil {
		return deny(fmt.Sprintf("no stage template with order %d", req.TargetStageOrder))
	}

	d := allowed(models.StatusInProgress, req.TargetStageOrder)

	// A dialog is required only when the target instance will sit at
	// not_started after the move: a freshly created instance, or an
	// existing one that was never started.
	si := snap.InstanceAt(req.TargetStageOrder)
	if si == nil || si.Status == models.StageNotStarted {
		if tpl.IsAssessment {
			d.SideEffect = SideEffectOpenAssessmentDlg
		} else if tpl.RequiresScheduling {
			d.SideEffect = SideEffectOpenScheduleDialog
		}
	}
	return d
}

func allowed(status models.Status, order int) Decision {
	return Decision{
		Allowed:             true,
		ResultingStatus:     status,
		ResultingStageOrder: order,
		SideEffect:          SideEffectNone,
	}
}
