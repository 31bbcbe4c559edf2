// internal/models/application.go
package models

import "fmt"

// Status is the top-level pipeline status of an application.
type Status string

const (
	StatusApplied       Status = "applied"
	StatusShortlisted   Status = "shortlisted"
	StatusInProgress    Status = "in_progress"
	StatusOfferMade     Status = "offer_made"
	StatusOfferAccepted Status = "offer_accepted"
	StatusOfferDeclined Status = "offer_declined"
	StatusRejected      Status = "rejected"
)

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusApplied, StatusShortlisted, StatusInProgress,
		StatusOfferMade, StatusOfferAccepted, StatusOfferDeclined, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTerminal reports whether no further drag-driven transitions leave this
// status. accept-offer is exempt from this check by the validator.
func (s Status) IsTerminal() bool {
	return s == StatusOfferAccepted || s == StatusOfferDeclined || s == StatusRejected
}

// OfferDetails carries the offer terms captured in the offer modal.
type OfferDetails struct {
	Salary    string `json:"salary"`
	Currency  string `json:"currency,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Application is a candidate's submission to a job, tracked through status
// and interview stage. Mutated only through validated transitions.
type Application struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidateId"`
	JobID       string `json:"jobId"`
	Status      Status `json:"status"`

	// CurrentStageOrder is meaningful only while Status == in_progress.
	CurrentStageOrder int `json:"currentStageOrder"`

	// RejectionReason is set iff Status == rejected.
	RejectionReason   string `json:"rejectionReason,omitempty"`
	RejectionFeedback string `json:"rejectionFeedback,omitempty"`

	OfferDetails      *OfferDetails `json:"offerDetails,omitempty"`
	FinalOfferDetails *OfferDetails `json:"finalOfferDetails,omitempty"`

	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	cp := *a
	if a.OfferDetails != nil {
		od := *a.OfferDetails
		cp.OfferDetails = &od
	}
	if a.FinalOfferDetails != nil {
		od := *a.FinalOfferDetails
		cp.FinalOfferDetails = &od
	}
	return &cp
}
