package check

import "time"

// Status is the lifecycle state of a check. Transitions are restricted:
// CREATED->UP on first ping, UP<->DOWN via pings and sweeps, any non-deleted
// state <-> PAUSED via pause/resume.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusPaused  Status = "PAUSED"
)

type ScheduleType string

const (
	ScheduleSimple ScheduleType = "SIMPLE"
	ScheduleCron   ScheduleType = "CRON"
)

type PeriodUnit string

const (
	UnitMinutes PeriodUnit = "MINUTES"
	UnitHours   PeriodUnit = "HOURS"
	UnitDays    PeriodUnit = "DAYS"
)

// Duration converts a value in this unit to a time.Duration.
func (u PeriodUnit) Duration(value int32) time.Duration {
	switch u {
	case UnitMinutes:
		return time.Duration(value) * time.Minute
	case UnitHours:
		return time.Duration(value) * time.Hour
	case UnitDays:
		return time.Duration(value) * 24 * time.Hour
	}
	return 0
}

// Schedule describes when the next ping is expected. Exactly one form
// applies: a fixed period for SIMPLE, a cron expression for CRON.
type Schedule struct {
	Type           ScheduleType `json:"type"`
	PingPeriod     int32        `json:"ping_period"`
	PingPeriodUnit PeriodUnit   `json:"ping_period_unit"`
	CronExpression string       `json:"cron_expression,omitempty"`
}

type Check struct {
	ID              int64      `json:"id"`
	ProjectID       int64      `json:"project_id"`
	PingKey         string     `json:"ping_key"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	Schedule        Schedule   `json:"schedule"`
	GracePeriod     int32      `json:"grace_period"`
	GracePeriodUnit PeriodUnit `json:"grace_period_unit"`
	LastPingAt      *time.Time `json:"last_ping_at"`
	NextDeadlineAt  *time.Time `json:"next_deadline_at"`
	Version         int64      `json:"version"`
	Deleted         bool       `json:"deleted"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Grace returns the configured grace window as a duration.
func (c *Check) Grace() time.Duration {
	return c.GracePeriodUnit.Duration(c.GracePeriod)
}
