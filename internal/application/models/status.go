package models

import (
	"strings"

	dErrors "certreg/pkg/domain-errors"
)

// Status is the closed set of application lifecycle states. Persisted as a
// stable string code; unknown values are rejected on parse rather than
// coerced.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusSubmitted      Status = "submitted"
	StatusPendingPayment Status = "pending_payment"
	StatusInReview       Status = "in_review"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusCancelled      Status = "cancelled"
	StatusSuspended      Status = "suspended"
)

var validStatuses = map[Status]bool{
	StatusDraft:          true,
	StatusSubmitted:      true,
	StatusPendingPayment: true,
	StatusInReview:       true,
	StatusApproved:       true,
	StatusRejected:       true,
	StatusCancelled:      true,
	StatusSuspended:      true,
}

// ParseStatus validates a persisted or client-supplied status code.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !validStatuses[status] {
		return "", dErrors.New(dErrors.CodeValidation, "invalid status: "+s)
	}
	return status, nil
}

// approvableFrom are the only statuses an application may be approved from.
// Blocks approving an application that was never properly submitted.
var approvableFrom = map[Status]bool{
	StatusSubmitted: true,
	StatusInReview:  true,
	StatusSuspended: true,
}

// cancellableFrom are the statuses an applicant may cancel from.
var cancellableFrom = map[Status]bool{
	StatusDraft:          true,
	StatusSubmitted:      true,
	StatusPendingPayment: true,
	StatusInReview:       true,
}

// terminal statuses admit no further reviewer transitions.
var terminal = map[Status]bool{
	StatusRejected:  true,
	StatusCancelled: true,
}

// Upper returns the status code in upper snake case, the form audit actions
// embed.
func (s Status) Upper() string {
	return strings.ToUpper(string(s))
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return terminal[s]
}

// CertificateVisible reports whether public verification may disclose an
// application in this status. In-flight statuses stay hidden to prevent
// enumeration of pending applications.
func (s Status) CertificateVisible() bool {
	switch s {
	case StatusApproved, StatusSuspended, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ValidateTransition decides whether moving from one status to another is
// legal. Only two edges carry extra conditions: entry to approved is
// restricted to properly submitted applications, and entry to rejected is
// blocked from terminal states. The completeness gate on entry to submitted
// is enforced separately because it needs the dossier.
func ValidateTransition(from, to Status) error {
	if from == to {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"application is already "+string(from))
	}
	switch to {
	case StatusApproved:
		if !approvableFrom[from] {
			return dErrors.New(dErrors.CodeInvalidTransition,
				"cannot approve an application in status '"+string(from)+"'; it must be submitted first")
		}
	case StatusRejected:
		if from.IsTerminal() {
			return dErrors.New(dErrors.CodeInvalidTransition,
				"cannot reject an application in terminal status '"+string(from)+"'")
		}
	}
	return nil
}

// ValidateCancel decides whether the applicant may cancel from the given
// status.
func ValidateCancel(from Status) error {
	if !cancellableFrom[from] {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot cancel an application in status '"+string(from)+"'")
	}
	return nil
}
