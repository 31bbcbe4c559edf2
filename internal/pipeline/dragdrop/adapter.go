// internal/pipeline/dragdrop/adapter.go

// Package dragdrop translates board drops into transition requests. Columns
// are identified by string IDs: the status columns by their status value and
// stage columns as "stage-<order>".
package dragdrop

import (
	"fmt"
	"strconv"
	"strings"

	"pipeline-engine/internal/models"
	"pipeline-engine/internal/pipeline/dispatch"
	"pipeline-engine/internal/pipeline/validator"
)

// Drop is a card released onto a column.
type Drop struct {
	ApplicationID    string
	SourceStatus     models.Status
	SourceStageOrder int
	TargetColumnID   string
}

// Result is the outcome of mapping a drop. Exactly one of three shapes:
// a no-op (card snaps back silently), a modal gate (no mutation until the
// dialog confirms), or an immediate transition request.
type Result struct {
	NoOp          bool
	RequiresModal bool
	Modal         dispatch.ModalKind
	Request       validator.Request
}

// ParseColumnID resolves a column ID into either a status or a stage order.
func ParseColumnID(columnID string) (models.Status, int, error) {
	if order, ok := strings.CutPrefix(columnID, "stage-"); ok {
		n, err := strconv.Atoi(order)
		if err != nil || n < 1 {
			return "", 0, fmt.Errorf("malformed stage column %q", columnID)
		}
		return models.StatusInProgress, n, nil
	}
	status, err := models.ParseStatus(columnID)
	if err != nil {
		return "", 0, fmt.Errorf("unknown column %q", columnID)
	}
	return status, 0, nil
}

// MapDrop converts a drop into its Result. Drops onto the offer_made,
// offer_accepted and rejected columns are modal-gated: they open a dialog
// and mutate nothing until the dialog is confirmed.
func MapDrop(drop Drop) (Result, error) {
	status, order, err := ParseColumnID(drop.TargetColumnID)
	if err != nil {
		return Result{}, err
	}

	// Identity drop: same column, nothing to do.
	if status == drop.SourceStatus &&
		(status != models.StatusInProgress || order == drop.SourceStageOrder) {
		return Result{NoOp: true}, nil
	}

	switch status {
	case models.StatusApplied:
		return Result{Request: validator.Request{Kind: validator.KindResetToApplied}}, nil

	case models.StatusShortlisted:
		return Result{Request: validator.Request{Kind: validator.KindShortlist}}, nil

	case models.StatusInProgress:
		return Result{Request: validator.Request{
			Kind:             validator.KindMoveToStage,
			TargetStageOrder: order,
		}}, nil

	case models.StatusOfferMade:
		return Result{RequiresModal: true, Modal: dispatch.ModalOffer}, nil

	case models.StatusOfferAccepted:
		return Result{RequiresModal: true, Modal: dispatch.ModalAcceptConfirm}, nil

	case models.StatusRejected:
		return Result{RequiresModal: true, Modal: dispatch.ModalRejection}, nil

	default:
		// offer_declined has no column; it is only reachable via the offer
		// response flow.
		return Result{}, fmt.Errorf("column %q does not accept drops", drop.TargetColumnID)
	}
}
