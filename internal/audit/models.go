// Package audit captures who did what to which application. Entries are
// written through the application store's transaction when one is open, so a
// status change and its audit trail commit together.
package audit

import (
	"time"

	"github.com/google/uuid"

	"certreg/internal/application/models"
)

// Action names follow the convention the admin UI filters on: upper snake
// case, with status updates carrying the target status as a suffix.
const (
	ActionApplicationCreated    = "APPLICATION_CREATED"
	ActionApplicationAssigned   = "APPLICATION_ASSIGNED"
	ActionApplicationUnassigned = "APPLICATION_UNASSIGNED"
	ActionUserCreated           = "USER_CREATED"
	ActionUserRoleUpdated       = "USER_ROLE_UPDATED"
	ActionUserStatusUpdated     = "USER_STATUS_UPDATED"
)

// ActionStatusUpdate derives the action name for a status transition,
// e.g. STATUS_UPDATE_APPROVED.
func ActionStatusUpdate(to models.Status) string {
	return "STATUS_UPDATE_" + to.Upper()
}

// Entry is one audit record. Keep it transport-agnostic so stores and the
// outbox publisher can fan out.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ActorID       int64     `json:"actor_id"`
	ApplicationID *int64    `json:"application_id,omitempty"`
	SubjectUserID *int64    `json:"subject_user_id,omitempty"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	IP            string    `json:"ip,omitempty"`
}
