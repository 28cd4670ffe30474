package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "certreg/pkg/domain-errors"
)

// CertificateType classifies what kind of certificate is being applied for.
type CertificateType string

const (
	TypeElectrical CertificateType = "electrical"
	TypeBuilding   CertificateType = "building"
	TypePlumbing   CertificateType = "plumbing"
	TypeCivil      CertificateType = "civil"
)

var validTypes = map[CertificateType]bool{
	TypeElectrical: true,
	TypeBuilding:   true,
	TypePlumbing:   true,
	TypeCivil:      true,
}

// ParseCertificateType validates a certificate type code.
func ParseCertificateType(s string) (CertificateType, error) {
	t := CertificateType(s)
	if !validTypes[t] {
		return "", dErrors.New(dErrors.CodeValidation, "invalid certificate type: "+s)
	}
	return t, nil
}

// Application is the aggregate root for a licensing application.
//
// Invariants:
//   - InternalUID is assigned at creation and never reassigned
//   - CertificateNumber and SecurityToken are either both empty or both set;
//     once set they never change, regardless of further status transitions
//   - IssuedDate is set exactly once, at first approval
//   - ExpiryDate is refreshed on every entry into approved, including
//     re-approval after suspension
//   - AssignedTo holds at most one reviewer; it is cleared only by its
//     holder or a super-admin override
//   - UserID (the owning applicant) is immutable after creation
type Application struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Type        CertificateType `json:"certificate_type"`
	Class       string          `json:"certificate_class,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      Status          `json:"status"`
	CurrentStep int             `json:"current_step"`

	InternalUID       uuid.UUID `json:"-"`
	CertificateNumber string    `json:"certificate_number,omitempty"`
	SecurityToken     string    `json:"-"`
	IssuedDate        *time.Time `json:"issued_date,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`

	AssignedTo *int64 `json:"assigned_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CertificateValidity is how long an issued certificate remains valid.
const CertificateValidity = 365 * 24 * time.Hour

// StepPaymentComplete is the wizard step an application lands on once its
// fees are settled. Applications at or past it have nothing left to pay.
const StepPaymentComplete = 4

// New constructs a draft application for the given applicant. The internal
// UID is minted here and never changes afterwards.
func New(userID int64, certType CertificateType, class, description string, now time.Time) *Application {
	return &Application{
		UserID:      userID,
		Type:        certType,
		Class:       class,
		Description: description,
		Status:      StatusDraft,
		CurrentStep: 1,
		InternalUID: uuid.New(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// OwnedBy reports whether the given user is the applicant.
func (a *Application) OwnedBy(userID int64) bool {
	return a.UserID == userID
}

// AssignedToReviewer reports whether the given reviewer currently holds the
// assignment.
func (a *Application) AssignedToReviewer(reviewerID int64) bool {
	return a.AssignedTo != nil && *a.AssignedTo == reviewerID
}

// CanAssign checks the exclusive-assignment invariant: succeed when the
// application is unassigned or already held by the actor. A different
// holder blocks assignment unless the actor carries override privilege.
func (a *Application) CanAssign(actorID int64, override bool) error {
	if a.AssignedTo == nil || *a.AssignedTo == actorID {
		return nil
	}
	if override {
		return nil
	}
	return dErrors.New(dErrors.CodeAlreadyAssigned, "application is already assigned to another reviewer")
}

// ApplyAssign records the actor as the exclusive holder.
// Call CanAssign first to validate.
func (a *Application) ApplyAssign(actorID int64, now time.Time) {
	a.AssignedTo = &actorID
	a.UpdatedAt = now
}

// CanUnassign checks that the actor is the holder or carries override
// privilege.
func (a *Application) CanUnassign(actorID int64, override bool) error {
	if a.AssignedToReviewer(actorID) || override {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "cannot unassign an application assigned to someone else")
}

// ApplyUnassign clears the assignment. Call CanUnassign first to validate.
func (a *Application) ApplyUnassign(now time.Time) {
	a.AssignedTo = nil
	a.UpdatedAt = now
}

// RequireAssigned gates every status-mutating reviewer action: the actor
// must hold the assignment before acting.
func (a *Application) RequireAssigned(actorID int64) error {
	if a.AssignedTo == nil {
		return dErrors.New(dErrors.CodeNotAssigned, "assign this application to yourself before taking action")
	}
	if *a.AssignedTo != actorID {
		return dErrors.New(dErrors.CodeForbidden, "application is assigned to another reviewer")
	}
	return nil
}

// ApplyStatus records a validated status transition.
func (a *Application) ApplyStatus(to Status, now time.Time) {
	a.Status = to
	a.UpdatedAt = now
}

// NeedsCertificate reports whether issuance must derive a fresh number.
// False on re-approval: the number and token are permanent once set.
func (a *Application) NeedsCertificate() bool {
	return a.CertificateNumber == ""
}

// ApplyIssuance records certificate data on entry into approved. The expiry
// date is refreshed unconditionally; the issued date and the number/token
// pair are set only the first time through this path.
func (a *Application) ApplyIssuance(number, token string, now time.Time) {
	expiry := now.Add(CertificateValidity)
	a.ExpiryDate = &expiry
	if a.IssuedDate == nil {
		issued := now
		a.IssuedDate = &issued
	}
	if a.CertificateNumber == "" {
		a.CertificateNumber = number
		a.SecurityToken = token
	}
	a.UpdatedAt = now
}

// Stats summarizes applications for the admin dashboard.
type Stats struct {
	Total         int64            `json:"total_applications"`
	Pending       int64            `json:"pending_reviews"`
	Approved      int64            `json:"approved_certificates"`
	Rejected      int64            `json:"rejected_applications"`
	TypeBreakdown map[string]int64 `json:"type_breakdown"`
}
