package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upmon/upmon/internal/domain/check"
)

func simpleCheck(period int32, unit check.PeriodUnit, grace int32, graceUnit check.PeriodUnit) *check.Check {
	return &check.Check{
		Schedule: check.Schedule{
			Type:           check.ScheduleSimple,
			PingPeriod:     period,
			PingPeriodUnit: unit,
		},
		GracePeriod:     grace,
		GracePeriodUnit: graceUnit,
	}
}

func TestNextDeadline_Simple(t *testing.T) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		check *check.Check
		want  time.Time
	}{
		{"minutes", simpleCheck(60, check.UnitMinutes, 10, check.UnitMinutes), last.Add(70 * time.Minute)},
		{"hours", simpleCheck(2, check.UnitHours, 30, check.UnitMinutes), last.Add(2*time.Hour + 30*time.Minute)},
		{"days", simpleCheck(1, check.UnitDays, 1, check.UnitHours), last.Add(25 * time.Hour)},
		{"zero grace", simpleCheck(15, check.UnitMinutes, 0, check.UnitMinutes), last.Add(15 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextDeadline(tc.check, &last)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
		})
	}
}

func TestNextDeadline_NeverPinged(t *testing.T) {
	c := simpleCheck(60, check.UnitMinutes, 10, check.UnitMinutes)
	got, err := NextDeadline(c, nil)
	require.NoError(t, err)
	assert.Nil(t, got, "a never-pinged check has no overdue instant")
}

func TestNextDeadline_Cron(t *testing.T) {
	c := &check.Check{
		Schedule: check.Schedule{
			Type:           check.ScheduleCron,
			CronExpression: "0 * * * *", // top of every hour
		},
		GracePeriod:     5,
		GracePeriodUnit: check.UnitMinutes,
	}

	last := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got, err := NextDeadline(c, &last)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 5, 0, 0, time.UTC), got.UTC())
}

func TestNextDeadline_CronStrictlyAfter(t *testing.T) {
	c := &check.Check{
		Schedule: check.Schedule{
			Type:           check.ScheduleCron,
			CronExpression: "0 * * * *",
		},
	}

	// Ping exactly on an occurrence: the next one counts, not this one.
	last := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	got, err := NextDeadline(c, &last)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), got.UTC())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		sched   check.Schedule
		wantErr bool
	}{
		{"simple ok", check.Schedule{Type: check.ScheduleSimple, PingPeriod: 5, PingPeriodUnit: check.UnitMinutes}, false},
		{"simple zero period", check.Schedule{Type: check.ScheduleSimple, PingPeriod: 0, PingPeriodUnit: check.UnitMinutes}, true},
		{"simple bad unit", check.Schedule{Type: check.ScheduleSimple, PingPeriod: 5, PingPeriodUnit: "WEEKS"}, true},
		{"cron ok", check.Schedule{Type: check.ScheduleCron, CronExpression: "*/5 * * * *"}, false},
		{"cron empty", check.Schedule{Type: check.ScheduleCron}, true},
		{"cron garbage", check.Schedule{Type: check.ScheduleCron, CronExpression: "not a cron"}, true},
		{"unknown type", check.Schedule{Type: "INTERVAL"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.sched)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
