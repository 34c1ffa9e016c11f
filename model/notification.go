package model

import "time"

// NotificationKind identifies the upstream event a notification came from.
type NotificationKind string

const (
	KindNewRequest        NotificationKind = "new-request"
	KindStatusChanged     NotificationKind = "status-changed"
	KindApproved          NotificationKind = "approved"
	KindRejected          NotificationKind = "rejected"
	KindStatsUpdate       NotificationKind = "stats-update"
	KindReuploadRequested NotificationKind = "reupload-requested"
)

// NotificationKinds lists every kind in a stable order.
var NotificationKinds = []NotificationKind{
	KindNewRequest,
	KindStatusChanged,
	KindApproved,
	KindRejected,
	KindStatsUpdate,
	KindReuploadRequested,
}

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	for _, known := range NotificationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// NotificationEvent is a single display-ready notification held in an
// admin's in-memory buffer. It is never persisted.
type NotificationEvent struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	ReceivedAt time.Time        `json:"received_at"`
}

// NotificationStatus is the view an admin dashboard polls: the connectivity
// indicator and the buffered notifications, newest first.
type NotificationStatus struct {
	Connected     bool                `json:"connected"`
	Notifications []NotificationEvent `json:"notifications"`
}
