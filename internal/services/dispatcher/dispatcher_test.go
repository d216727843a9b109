package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	intoutbox "github.com/upmon/upmon/internal/outbox"
	"github.com/upmon/upmon/internal/repository/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, notifs ...*notification.Notification) *check.Check {
	t.Helper()
	chk := &check.Check{ID: 7, PingKey: "k", Name: "nightly-etl", Status: check.StatusDown, Version: 2}
	store.PutCheck(chk)
	for _, n := range notifs {
		n.CheckID = chk.ID
		require.NoError(t, store.Notifications().Create(context.Background(), n))
	}
	return chk
}

func TestDispatchFansOutToAllNotifications(t *testing.T) {
	store := memory.New()
	chk := seed(t, store,
		&notification.Notification{Type: notification.TypeEmail, Email: "ops@example.com", MaxRetries: 3},
		&notification.Notification{Type: notification.TypeWebhook, URL: "https://hooks.example.com/x", MaxRetries: 1},
	)
	d := New(zap.NewNop(), store.Notifications(), store, store.Outbox(), fixedClock{t0})

	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))

	alerts := store.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, int32(3), alerts[0].RetriesRemaining)
	assert.Equal(t, int32(1), alerts[1].RetriesRemaining)
	for _, a := range alerts {
		assert.Equal(t, check.StatusDown, a.CheckStatus)
		assert.Equal(t, notification.DeliveryQueued, a.DeliveryStatus)
	}
}

func TestDispatchIsIdempotentPerTransition(t *testing.T) {
	store := memory.New()
	chk := seed(t, store,
		&notification.Notification{Type: notification.TypeWebhook, URL: "https://hooks.example.com/x", MaxRetries: 2},
	)
	d := New(zap.NewNop(), store.Notifications(), store, nil, fixedClock{t0})

	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))
	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))

	assert.Len(t, store.Alerts(), 1)
}

func TestDispatchOppositeTransitionsCoexist(t *testing.T) {
	store := memory.New()
	chk := seed(t, store,
		&notification.Notification{Type: notification.TypeWebhook, URL: "https://hooks.example.com/x", MaxRetries: 2},
	)
	d := New(zap.NewNop(), store.Notifications(), store, nil, fixedClock{t0})

	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))
	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusDown, check.StatusUp))

	alerts := store.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, check.StatusDown, alerts[0].CheckStatus)
	assert.Equal(t, check.StatusUp, alerts[1].CheckStatus)
}

func TestDispatchWritesOutboxEvent(t *testing.T) {
	store := memory.New()
	chk := seed(t, store)
	d := New(zap.NewNop(), store.Notifications(), store, store.Outbox(), fixedClock{t0})

	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))

	events := store.Events()
	require.Len(t, events, 1)

	var p intoutbox.StatusChangedPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &p))
	assert.Equal(t, chk.ID, p.CheckID)
	assert.Equal(t, check.StatusUp, p.Old)
	assert.Equal(t, check.StatusDown, p.New)
	assert.True(t, p.At.Equal(t0))
}

func TestDispatchNoEventStream(t *testing.T) {
	store := memory.New()
	chk := seed(t, store)
	d := New(zap.NewNop(), store.Notifications(), store, nil, fixedClock{t0})

	require.NoError(t, d.Dispatch(context.Background(), chk, check.StatusUp, check.StatusDown))
	assert.Empty(t, store.Events())
}
