package ping

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
	"github.com/upmon/upmon/internal/services/dispatcher"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, now time.Time) (*memory.Store, *Usecase) {
	t.Helper()
	store := memory.New()
	disp := dispatcher.New(zap.NewNop(), store.Notifications(), store, store.Outbox(), fixedClock{now})
	uc := NewUC(store, disp, store, fixedClock{now}, zap.NewNop())
	return store, uc
}

func seedCheck(status check.Status, last *time.Time) *check.Check {
	return &check.Check{
		ID:      1,
		PingKey: "key-1",
		Name:    "backup-job",
		Status:  status,
		Schedule: check.Schedule{
			Type:           check.ScheduleSimple,
			PingPeriod:     60,
			PingPeriodUnit: check.UnitMinutes,
		},
		GracePeriod:     10,
		GracePeriodUnit: check.UnitMinutes,
		LastPingAt:      last,
		Version:         1,
	}
}

func TestRecordPingFirstPing(t *testing.T) {
	store, uc := newFixture(t, t0)
	store.PutCheck(seedCheck(check.StatusCreated, nil))

	recovered, err := uc.RecordPing(context.Background(), "key-1", t0)
	require.NoError(t, err)
	assert.False(t, recovered)

	c, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusUp, c.Status)
	require.NotNil(t, c.LastPingAt)
	assert.True(t, c.LastPingAt.Equal(t0))
	require.NotNil(t, c.NextDeadlineAt)
	assert.True(t, c.NextDeadlineAt.Equal(t0.Add(70*time.Minute)))
	assert.Empty(t, store.Alerts())
}

func TestRecordPingRecovery(t *testing.T) {
	store, uc := newFixture(t, t0)
	last := t0.Add(-3 * time.Hour)
	store.PutCheck(seedCheck(check.StatusDown, &last))
	require.NoError(t, store.Notifications().Create(context.Background(), &notification.Notification{
		CheckID:    1,
		Type:       notification.TypeWebhook,
		URL:        "https://hooks.example.com/x",
		MaxRetries: 3,
	}))

	recovered, err := uc.RecordPing(context.Background(), "key-1", t0)
	require.NoError(t, err)
	assert.True(t, recovered)

	c, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusUp, c.Status)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, check.StatusUp, alerts[0].CheckStatus)
	assert.Equal(t, int32(3), alerts[0].RetriesRemaining)
}

func TestRecordPingPausedIsIgnored(t *testing.T) {
	store, uc := newFixture(t, t0)
	last := t0.Add(-time.Hour)
	store.PutCheck(seedCheck(check.StatusPaused, &last))

	recovered, err := uc.RecordPing(context.Background(), "key-1", t0)
	require.NoError(t, err)
	assert.False(t, recovered)

	c, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusPaused, c.Status)
	assert.True(t, c.LastPingAt.Equal(last))
}

func TestRecordPingStaleIsNoop(t *testing.T) {
	store, uc := newFixture(t, t0)
	last := t0
	store.PutCheck(seedCheck(check.StatusUp, &last))

	recovered, err := uc.RecordPing(context.Background(), "key-1", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, recovered)

	c, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, c.LastPingAt.Equal(t0))
	assert.Equal(t, int64(1), c.Version)
}

func TestRecordPingUnknownKey(t *testing.T) {
	_, uc := newFixture(t, t0)

	_, err := uc.RecordPing(context.Background(), "nope", t0)
	assert.ErrorIs(t, err, postgres.ErrNotFound)
}
