package notification

import (
	"time"

	"github.com/upmon/upmon/internal/domain/check"
)

type Type string

const (
	TypeEmail   Type = "EMAIL"
	TypeWebhook Type = "WEBHOOK"
)

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "QUEUED"
	DeliveryRunning   DeliveryStatus = "RUNNING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Terminal reports whether the status is an end state for an alert.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// Notification is a delivery channel bound to a check. MaxRetries is a
// template value: alerts snapshot it at enqueue time.
type Notification struct {
	ID         int64     `json:"id"`
	CheckID    int64     `json:"check_id"`
	Name       string    `json:"name"`
	Type       Type      `json:"type"`
	Email      string    `json:"email,omitempty"`
	URL        string    `json:"url,omitempty"`
	MaxRetries int32     `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Alert is a single delivery obligation for one status transition on one
// notification channel.
type Alert struct {
	ID               int64          `json:"id"`
	CheckID          int64          `json:"check_id"`
	NotificationID   int64          `json:"notification_id"`
	CheckStatus      check.Status   `json:"check_status"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	RetriesRemaining int32          `json:"retries_remaining"`
	NextAttemptAt    time.Time      `json:"next_attempt_at"`
	ClaimedBy        string         `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
}

// CheckSnapshot carries the check fields a channel needs to render an alert.
type CheckSnapshot struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Status     check.Status `json:"status"`
	LastPingAt *time.Time   `json:"last_ping_at"`
}

// QueuedAlert is a claimed alert joined with its notification and a snapshot
// of the originating check.
type QueuedAlert struct {
	Alert        Alert
	Notification Notification
	Check        CheckSnapshot
}

// DisplayName falls back to the check name when the notification has none,
// matching how alert subjects are titled.
func (q *QueuedAlert) DisplayName() string {
	if q.Notification.Name != "" {
		return q.Notification.Name
	}
	return q.Check.Name
}
