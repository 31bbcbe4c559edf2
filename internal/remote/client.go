// internal/remote/client.go

// Package remote is the HTTP client for the recruitment backend. It carries
// one method per pipeline operation; every method returns a REMOTE_FAILURE
// error when the backend answers with a non-2xx status, carrying the server
// message for the operator.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "pipeline-engine/internal/common/errors"
	commonhttp "pipeline-engine/internal/common/http"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/validation"
	"pipeline-engine/internal/models"

	"github.com/google/uuid"
)

// applicationSchema gates reconciliation: a payload that fails it is
// rejected before it can overwrite local state.
const applicationSchema = `{
	"type": "object",
	"required": ["id", "candidateId", "jobId", "status"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"candidateId": {"type": "string", "minLength": 1},
		"jobId": {"type": "string", "minLength": 1},
		"status": {"enum": ["applied", "shortlisted", "in_progress", "offer_made", "offer_accepted", "offer_declined", "rejected"]},
		"currentStageOrder": {"type": "integer", "minimum": 0}
	}
}`

const stageInstancesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "applicationId", "templateOrder", "status"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"applicationId": {"type": "string", "minLength": 1},
			"templateOrder": {"type": "integer", "minimum": 1},
			"status": {"enum": ["not_started", "scheduled", "awaiting_submission", "submitted", "completed", "cancelled"]}
		}
	}
}`

// Client talks to the backend's application endpoints.
type Client struct {
	http     *commonhttp.Client
	baseURL  string
	apiToken string
	logger   logger.Logger
}

// NewClient creates a backend client.
func NewClient(baseURL, apiToken string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		http:     commonhttp.NewClient(timeout),
		baseURL:  baseURL,
		apiToken: apiToken,
		logger:   log,
	}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"X-Request-ID": uuid.NewString(),
	}
	if c.apiToken != "" {
		h["Authorization"] = "Bearer " + c.apiToken
	}
	return h
}

func (c *Client) call(ctx context.Context, operation, method, path string, body interface{}) ([]byte, error) {
	data, err := c.http.DoJSON(ctx, method, c.baseURL+path, body, c.headers())
	if err != nil {
		c.logger.WithError(err).Warn("backend call failed", map[string]interface{}{
			"operation": operation,
			"path":      path,
		})
		return nil, apperrors.NewRemoteFailureError(operation, err)
	}
	return data, nil
}

// ==========================
// Reads
// ==========================

// GetApplication fetches one application row.
func (c *Client) GetApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	data, err := c.call(ctx, "get_application", http.MethodGet,
		fmt.Sprintf("/applications/%s", applicationID), nil)
	if err != nil {
		return nil, err
	}

	if result := validation.ValidateJSON(data, applicationSchema); !result.Valid {
		return nil, apperrors.NewResponseValidationFailedError("get_application", result.Summary())
	}

	var app models.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, apperrors.NewResponseValidationFailedError("get_application", err.Error())
	}
	return &app, nil
}

// ListStageInstances fetches all stage instances for an application.
func (c *Client) ListStageInstances(ctx context.Context, applicationID string) ([]*models.StageInstance, error) {
	data, err := c.call(ctx, "list_stage_instances", http.MethodGet,
		fmt.Sprintf("/applications/%s/stage-instances", applicationID), nil)
	if err != nil {
		return nil, err
	}

	if result := validation.ValidateJSON(data, stageInstancesSchema); !result.Valid {
		return nil, apperrors.NewResponseValidationFailedError("list_stage_instances", result.Summary())
	}

	var instances []*models.StageInstance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, apperrors.NewResponseValidationFailedError("list_stage_instances", err.Error())
	}
	return instances, nil
}

// ListStageTemplates fetches the ordered stage templates of a job.
func (c *Client) ListStageTemplates(ctx context.Context, jobID string) ([]models.StageTemplate, error) {
	data, err := c.call(ctx, "list_stage_templates", http.MethodGet,
		fmt.Sprintf("/jobs/%s/stage-templates", jobID), nil)
	if err != nil {
		return nil, err
	}

	var templates []models.StageTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, apperrors.NewResponseValidationFailedError("list_stage_templates", err.Error())
	}
	return templates, nil
}

// Refresh implements the mutator's post-success re-fetch: the application
// row plus its stage instances.
func (c *Client) Refresh(ctx context.Context, applicationID string) (*models.Application, []*models.StageInstance, error) {
	app, err := c.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	instances, err := c.ListStageInstances(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	return app, instances, nil
}

// ==========================
// Status Transitions
// ==========================

// UpdateStatus posts a top-level status change.
func (c *Client) UpdateStatus(ctx context.Context, applicationID string, status models.Status) error {
	_, err := c.call(ctx, "update_status", http.MethodPatch,
		fmt.Sprintf("/applications/%s/status", applicationID),
		map[string]string{"status": string(status)})
	return err
}

// MoveToStage advances the application to a stage, creating the server-side
// instance when missing.
func (c *Client) MoveToStage(ctx context.Context, applicationID string, order int) error {
	_, err := c.call(ctx, "move_to_stage", http.MethodPost,
		fmt.Sprintf("/applications/%s/move-to-stage", applicationID),
		map[string]int{"targetStageOrder": order})
	return err
}

// MakeOffer posts the offer details captured in the offer modal.
func (c *Client) MakeOffer(ctx context.Context, applicationID string, offer models.OfferDetails) error {
	_, err := c.call(ctx, "make_offer", http.MethodPost,
		fmt.Sprintf("/applications/%s/offer", applicationID), offer)
	return err
}

// RespondToOffer records acceptance or decline of an outstanding offer.
func (c *Client) RespondToOffer(ctx context.Context, applicationID string, accepted bool, finalOffer *models.OfferDetails) error {
	payload := map[string]interface{}{"accepted": accepted}
	if finalOffer != nil {
		payload["finalOfferDetails"] = finalOffer
	}
	_, err := c.call(ctx, "respond_to_offer", http.MethodPost,
		fmt.Sprintf("/applications/%s/offer/response", applicationID), payload)
	return err
}

// Reject posts a rejection with its mandatory reason.
func (c *Client) Reject(ctx context.Context, applicationID, reason, feedback string) error {
	_, err := c.call(ctx, "reject", http.MethodPost,
		fmt.Sprintf("/applications/%s/reject", applicationID),
		map[string]string{"reason": reason, "feedback": feedback})
	return err
}

// ==========================
// Stage Instance Operations
// ==========================

// ScheduleStage posts the slot chosen in the schedule dialog.
func (c *Client) ScheduleStage(ctx context.Context, instanceID string, at time.Time, interviewer, location string) error {
	_, err := c.call(ctx, "schedule_stage", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/schedule", instanceID),
		map[string]string{
			"scheduledAt": at.UTC().Format(time.RFC3339),
			"interviewer": interviewer,
			"location":    location,
		})
	return err
}

// RescheduleStage replaces the slot of a scheduled instance.
func (c *Client) RescheduleStage(ctx context.Context, instanceID string, at time.Time, interviewer, location string) error {
	_, err := c.call(ctx, "reschedule_stage", http.MethodPatch,
		fmt.Sprintf("/stage-instances/%s/schedule", instanceID),
		map[string]string{
			"scheduledAt": at.UTC().Format(time.RFC3339),
			"interviewer": interviewer,
			"location":    location,
		})
	return err
}

// AssignAssessment posts the assessment captured in the assessment dialog.
func (c *Client) AssignAssessment(ctx context.Context, instanceID, instructions, externalURL string, deadline time.Time) error {
	_, err := c.call(ctx, "assign_assessment", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/assessment", instanceID),
		map[string]string{
			"instructions": instructions,
			"externalUrl":  externalURL,
			"deadline":     deadline.UTC().Format(time.RFC3339),
		})
	return err
}

// CompleteStage marks an instance completed with optional feedback.
func (c *Client) CompleteStage(ctx context.Context, instanceID, feedback string) error {
	_, err := c.call(ctx, "complete_stage", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/complete", instanceID),
		map[string]string{"feedback": feedback})
	return err
}

// CancelStage aborts a scheduled instance.
func (c *Client) CancelStage(ctx context.Context, instanceID string) error {
	_, err := c.call(ctx, "cancel_stage", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/cancel", instanceID), nil)
	return err
}

// ReopenStage returns a completed or cancelled instance to not_started.
func (c *Client) ReopenStage(ctx context.Context, instanceID string) error {
	_, err := c.call(ctx, "reopen_stage", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/reopen", instanceID), nil)
	return err
}

// CreateBookingLink requests a candidate self-scheduling token.
func (c *Client) CreateBookingLink(ctx context.Context, instanceID string) (*models.BookingToken, error) {
	data, err := c.call(ctx, "create_booking_link", http.MethodPost,
		fmt.Sprintf("/stage-instances/%s/booking-link", instanceID), nil)
	if err != nil {
		return nil, err
	}

	var token models.BookingToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, apperrors.NewResponseValidationFailedError("create_booking_link", err.Error())
	}
	return &token, nil
}
