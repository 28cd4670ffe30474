// Package notification delivers in-app messages to applicants and staff.
// Delivery is best-effort: a failed notification never fails the action that
// triggered it.
package notification

import "time"

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
