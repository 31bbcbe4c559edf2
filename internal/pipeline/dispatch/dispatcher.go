// internal/pipeline/dispatch/dispatcher.go

// Package dispatch queues modal side effects produced by transitions. The
// dispatcher never mutates pipeline state itself: a modal the operator
// dismisses leaves the application and its stage instances untouched.
package dispatch

import (
	"sync"

	"pipeline-engine/internal/common/logger"
)

// ModalKind identifies which dialog a transition requires.
type ModalKind string

const (
	ModalSchedule      ModalKind = "schedule"
	ModalAssessment    ModalKind = "assessment"
	ModalOffer         ModalKind = "offer"
	ModalAcceptConfirm ModalKind = "accept_confirm"
	ModalRejection     ModalKind = "rejection"
)

// ModalRequest is one pending dialog for one application.
type ModalRequest struct {
	Kind          ModalKind
	ApplicationID string
	StageOrder    int
}

// Presenter receives modal requests. The surface binding (board, focus mode)
// registers itself here.
type Presenter interface {
	Present(req ModalRequest)
}

// Dispatcher buffers modal requests until a presenter is attached, then
// forwards them in order.
type Dispatcher struct {
	mu        sync.Mutex
	presenter Presenter
	queue     []ModalRequest
	logger    logger.Logger
}

// New creates a Dispatcher with no presenter attached.
func New(log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Dispatcher{logger: log}
}

// SetPresenter attaches the presenter and drains any buffered requests to it.
// Passing nil detaches; later requests buffer again.
func (d *Dispatcher) SetPresenter(p Presenter) {
	d.mu.Lock()
	d.presenter = p
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	if p == nil {
		return
	}
	for _, req := range pending {
		p.Present(req)
	}
}

// Enqueue dispatches a modal request, buffering it when no presenter is
// attached.
func (d *Dispatcher) Enqueue(req ModalRequest) {
	d.mu.Lock()
	p := d.presenter
	if p == nil {
		d.queue = append(d.queue, req)
		d.mu.Unlock()
		d.logger.Debug("modal request buffered", map[string]interface{}{
			"kind":           string(req.Kind),
			"application_id": req.ApplicationID,
		})
		return
	}
	d.mu.Unlock()

	p.Present(req)
}

// Pending returns a copy of the buffered requests.
func (d *Dispatcher) Pending() []ModalRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ModalRequest, len(d.queue))
	copy(out, d.queue)
	return out
}
