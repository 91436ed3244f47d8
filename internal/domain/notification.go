package domain

import "time"

// NotificationState is the read-tracking lifecycle of a persisted notification.
type NotificationState string

const (
	NotificationNew    NotificationState = "new"
	NotificationUnread NotificationState = "unread"
	NotificationRead   NotificationState = "read"
)

func (s NotificationState) IsValid() bool {
	switch s {
	case NotificationNew, NotificationUnread, NotificationRead:
		return true
	}
	return false
}

// Notification is the persisted, queryable projection of broadcast events.
// The stream service replays these as the historical snapshot; pipeline
// stages and the change-feed bridge create them.
type Notification struct {
	ID        string            `json:"id"`
	SubjectID string            `json:"subject_id"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	RelatedID *string           `json:"related_id,omitempty"`
	State     NotificationState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

// CanTransition reports whether the state machine allows moving to next.
// Only forward movement is permitted: new -> unread -> read.
func (n *Notification) CanTransition(next NotificationState) bool {
	switch n.State {
	case NotificationNew:
		return next == NotificationUnread || next == NotificationRead
	case NotificationUnread:
		return next == NotificationRead
	}
	return false
}
