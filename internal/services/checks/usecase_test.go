package checks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/repository/memory"
	"github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/schedule"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newUC(store *memory.Store, now time.Time) *Usecase {
	return NewUC(store, store.Notifications(), fixedClock{now}, zap.NewNop())
}

func simpleSchedule() check.Schedule {
	return check.Schedule{
		Type:           check.ScheduleSimple,
		PingPeriod:     60,
		PingPeriodUnit: check.UnitMinutes,
	}
}

func TestCreateAssignsKeyAndStatus(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	c := &check.Check{Name: "backup-job", Schedule: simpleSchedule(), GracePeriod: 10}
	require.NoError(t, uc.Create(context.Background(), c))

	assert.NotZero(t, c.ID)
	assert.NotEmpty(t, c.PingKey)
	assert.Equal(t, check.StatusCreated, c.Status)
	assert.Equal(t, check.UnitMinutes, c.GracePeriodUnit)
}

func TestCreateRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	err := uc.Create(context.Background(), &check.Check{
		Name:     "bad",
		Schedule: check.Schedule{Type: check.ScheduleCron},
	})
	assert.ErrorIs(t, err, schedule.ErrMissingCron)
}

func TestPauseAndResumeNeverPinged(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "k", Name: "job", Status: check.StatusCreated,
		Schedule: simpleSchedule(), Version: 1,
	})

	require.NoError(t, uc.Pause(context.Background(), 1))
	c, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusPaused, c.Status)

	// pausing again is a no-op
	require.NoError(t, uc.Pause(context.Background(), 1))

	got, err := uc.Resume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusCreated, got.Status)
	assert.Nil(t, got.LastPingAt)
}

func TestResumeResetsBaseline(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	last := t0.Add(-48 * time.Hour)
	store.PutCheck(&check.Check{
		ID: 1, PingKey: "k", Name: "job", Status: check.StatusPaused,
		Schedule:        simpleSchedule(),
		GracePeriod:     10,
		GracePeriodUnit: check.UnitMinutes,
		LastPingAt:      &last,
		Version:         3,
	})

	got, err := uc.Resume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusUp, got.Status)
	require.NotNil(t, got.LastPingAt)
	assert.True(t, got.LastPingAt.Equal(t0), "resume must not keep the stale ping baseline")
	require.NotNil(t, got.NextDeadlineAt)
	assert.True(t, got.NextDeadlineAt.Equal(t0.Add(70*time.Minute)))
}

func TestResumeRequiresPaused(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "k", Name: "job", Status: check.StatusUp,
		Schedule: simpleSchedule(), Version: 1,
	})

	_, err := uc.Resume(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestRotateKeyInvalidatesOldKey(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "old-key", Name: "job", Status: check.StatusUp,
		Schedule: simpleSchedule(), Version: 1,
	})

	newKey, err := uc.RotateKey(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, newKey)
	assert.NotEqual(t, "old-key", newKey)

	_, err = store.GetByPingKey(context.Background(), "old-key")
	assert.ErrorIs(t, err, postgres.ErrNotFound)

	c, err := store.GetByPingKey(context.Background(), newKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)
}

func TestDeleteHidesCheck(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "k", Name: "job", Status: check.StatusUp,
		Schedule: simpleSchedule(), Version: 1,
	})

	require.NoError(t, uc.Delete(context.Background(), 1))

	_, err := store.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, postgres.ErrNotFound)
	_, err = store.GetByPingKey(context.Background(), "k")
	assert.ErrorIs(t, err, postgres.ErrNotFound)

	assert.ErrorIs(t, uc.Delete(context.Background(), 1), postgres.ErrNotFound)
}

func TestAddNotificationValidation(t *testing.T) {
	store := memory.New()
	uc := newUC(store, t0)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "k", Name: "job", Status: check.StatusUp,
		Schedule: simpleSchedule(), Version: 1,
	})

	cases := []struct {
		name string
		n    notification.Notification
		ok   bool
	}{
		{"email ok", notification.Notification{CheckID: 1, Type: notification.TypeEmail, Email: "ops@example.com"}, true},
		{"webhook ok", notification.Notification{CheckID: 1, Type: notification.TypeWebhook, URL: "https://h.example.com"}, true},
		{"email missing address", notification.Notification{CheckID: 1, Type: notification.TypeEmail}, false},
		{"webhook missing url", notification.Notification{CheckID: 1, Type: notification.TypeWebhook}, false},
		{"unknown type", notification.Notification{CheckID: 1, Type: "SMS", Email: "x"}, false},
		{"negative retries", notification.Notification{CheckID: 1, Type: notification.TypeEmail, Email: "x@y.z", MaxRetries: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.n
			err := uc.AddNotification(context.Background(), &n)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidNotification)
			}
		})
	}

	err := uc.AddNotification(context.Background(), &notification.Notification{
		CheckID: 99, Type: notification.TypeEmail, Email: "ops@example.com",
	})
	assert.ErrorIs(t, err, postgres.ErrNotFound)
}
