// internal/models/queue.go
package models

import "time"

// Per-slot queue statuses.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemGenerating QueueItemStatus = "generating"
	QueueItemComplete   QueueItemStatus = "complete"
	QueueItemError      QueueItemStatus = "error"
)

// QueueItem tracks one (date, channel) slot through a generation batch.
type QueueItem struct {
	Date    string          `json:"date"`
	Channel string          `json:"channel"`
	Status  QueueItemStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// SessionState is the lifecycle of an orchestration session.
// running -> idle never happens automatically; an abandoned batch is
// discarded by the caller via cancel.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionRunning   SessionState = "running"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
)

// SessionStatus is the poll/subscription snapshot of a session.
type SessionStatus struct {
	SessionID string       `json:"session_id"`
	BrandID   string       `json:"brand_id"`
	Month     string       `json:"month"`
	State     SessionState `json:"state"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Items     []QueueItem  `json:"items"`
	Warnings  []string     `json:"warnings,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}
