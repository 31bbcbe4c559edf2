// internal/models/stage.go
package models

import (
	"fmt"
	"time"
)

// StageStatus is the lifecycle state of a single stage occurrence.
type StageStatus string

const (
	StageNotStarted         StageStatus = "not_started"
	StageScheduled          StageStatus = "scheduled"
	StageAwaitingSubmission StageStatus = "awaiting_submission"
	StageSubmitted          StageStatus = "submitted"
	StageCompleted          StageStatus = "completed"
	StageCancelled          StageStatus = "cancelled"
)

// ParseStageStatus converts a raw string to a StageStatus.
func ParseStageStatus(s string) (StageStatus, error) {
	st := StageStatus(s)
	switch st {
	case StageNotStarted, StageScheduled, StageAwaitingSubmission,
		StageSubmitted, StageCompleted, StageCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage status %q", s)
}

// StageTemplate is the ordered definition of one pipeline step for a job.
// Owned by job configuration; read-only input to the engine.
type StageTemplate struct {
	Order              int    `json:"order"`
	StageType          string `json:"stageType"`
	RequiresScheduling bool   `json:"requiresScheduling"`
	IsAssessment       bool   `json:"isAssessment"`
}

// Scheduling is the operator- or candidate-chosen interview slot.
type Scheduling struct {
	ScheduledAt time.Time `json:"scheduledAt"`
	Interviewer string    `json:"interviewer,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// Assessment is the take-home sub-record of an assessment stage.
type Assessment struct {
	Instructions  string     `json:"instructions"`
	ExternalURL   string     `json:"externalUrl,omitempty"`
	Deadline      time.Time  `json:"deadline"`
	SubmissionURL string     `json:"submissionUrl,omitempty"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
}

// BookingToken is a candidate-facing self-scheduling link. While unused and
// unexpired the owning instance stays not_started but renders distinctly.
type BookingToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsUsed    bool      `json:"isUsed"`
}

// StageInstance is the live occurrence of a StageTemplate for one application.
type StageInstance struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"applicationId"`
	TemplateOrder int         `json:"templateOrder"`
	StageType     string      `json:"stageType"`
	Status        StageStatus `json:"status"`

	Scheduling   *Scheduling   `json:"scheduling,omitempty"`
	Assessment   *Assessment   `json:"assessment,omitempty"`
	BookingToken *BookingToken `json:"bookingToken,omitempty"`

	Feedback string `json:"feedback,omitempty"`
}

// AwaitingCandidateBooking reports whether a pending self-scheduling link
// exists: the engine still sees not_started, the UI renders
// "awaiting candidate booking".
func (si *StageInstance) AwaitingCandidateBooking(now time.Time) bool {
	return si.Status == StageNotStarted &&
		si.BookingToken != nil &&
		!si.BookingToken.IsUsed &&
		now.Before(si.BookingToken.ExpiresAt)
}

// Clone returns a deep copy.
func (si *StageInstance) Clone() *StageInstance {
	if si == nil {
		return nil
	}
	cp := *si
	if si.Scheduling != nil {
		s := *si.Scheduling
		cp.Scheduling = &s
	}
	if si.Assessment != nil {
		a := *si.Assessment
		if si.Assessment.SubmittedAt != nil {
			t := *si.Assessment.SubmittedAt
			a.SubmittedAt = &t
		}
		cp.Assessment = &a
	}
	if si.BookingToken != nil {
		b := *si.BookingToken
		cp.BookingToken = &b
	}
	return &cp
}
