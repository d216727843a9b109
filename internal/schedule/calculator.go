// Package schedule computes the overdue deadline for a check: the instant
// after which a missing ping turns the check DOWN.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/upmon/upmon/internal/domain/check"
)

var (
	ErrMissingPeriod   = errors.New("simple schedule requires a positive ping period")
	ErrMissingCron     = errors.New("cron schedule requires an expression")
	ErrUnknownType     = errors.New("unknown schedule type")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate rejects malformed schedules at check-creation time so that the
// calculator never sees an invalid cron expression at runtime.
func Validate(s check.Schedule) error {
	switch s.Type {
	case check.ScheduleSimple:
		if s.PingPeriod <= 0 {
			return ErrMissingPeriod
		}
		if s.PingPeriodUnit.Duration(1) == 0 {
			return fmt.Errorf("%w: invalid period unit %q", ErrInvalidSchedule, s.PingPeriodUnit)
		}
		return nil
	case check.ScheduleCron:
		if s.CronExpression == "" {
			return ErrMissingCron
		}
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", ErrInvalidSchedule, s.CronExpression, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
}

// NextDeadline returns the instant after which the check is overdue given
// the ping observed at last, or nil for a check that has never been pinged.
// SIMPLE: last + period + grace. CRON: the next occurrence strictly after
// last, plus grace. All instants are UTC.
func NextDeadline(c *check.Check, last *time.Time) (*time.Time, error) {
	if last == nil {
		return nil, nil
	}
	base := last.UTC()

	var deadline time.Time
	switch c.Schedule.Type {
	case check.ScheduleSimple:
		period := c.Schedule.PingPeriodUnit.Duration(c.Schedule.PingPeriod)
		if period <= 0 {
			return nil, ErrMissingPeriod
		}
		deadline = base.Add(period)
	case check.ScheduleCron:
		expr, err := cronParser.Parse(c.Schedule.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", c.Schedule.CronExpression, err)
		}
		deadline = expr.Next(base)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, c.Schedule.Type)
	}

	deadline = deadline.Add(c.Grace())
	return &deadline, nil
}
