package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
)

func webhookFixture(url string) (*notification.Notification, notification.CheckSnapshot, *notification.Alert) {
	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := &notification.Notification{ID: 7, CheckID: 3, Type: notification.TypeWebhook, URL: url, MaxRetries: 2}
	snap := notification.CheckSnapshot{ID: 3, Name: "backup-job", Status: check.StatusDown, LastPingAt: &last}
	a := &notification.Alert{ID: 11, CheckID: 3, NotificationID: 7, CheckStatus: check.StatusDown}
	return n, snap, a
}

func TestWebhook_Delivered(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{Timeout: time.Second}, zap.NewNop())
	n, snap, a := webhookFixture(srv.URL)

	require.NoError(t, wh.Send(context.Background(), n, snap, a))
	assert.Equal(t, int64(3), got.CheckID)
	assert.Equal(t, "DOWN", got.CheckStatus)
	assert.Equal(t, "backup-job", got.Name)
}

func TestWebhook_StatusClassification(t *testing.T) {
	cases := []struct {
		code          int
		wantDelivered bool
		wantPermanent bool
	}{
		{200, true, false},
		{204, true, false},
		{400, false, true},
		{404, false, true},
		{408, false, false},
		{429, false, false},
		{500, false, false},
		{503, false, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.code)
		}))
		wh := NewWebhook(WebhookConfig{Timeout: time.Second}, zap.NewNop())
		n, snap, a := webhookFixture(srv.URL)

		err := wh.Send(context.Background(), n, snap, a)
		if tc.wantDelivered {
			assert.NoError(t, err, "status %d", tc.code)
		} else {
			require.Error(t, err, "status %d", tc.code)
			assert.Equal(t, tc.wantPermanent, IsPermanent(err), "status %d", tc.code)
		}
		srv.Close()
	}
}

func TestWebhook_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	wh := NewWebhook(WebhookConfig{Timeout: time.Second}, zap.NewNop())
	n, snap, a := webhookFixture(srv.URL)

	err := wh.Send(context.Background(), n, snap, a)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestWebhook_BadURLIsPermanent(t *testing.T) {
	wh := NewWebhook(WebhookConfig{Timeout: time.Second}, zap.NewNop())
	n, snap, a := webhookFixture("not-a-url")

	err := wh.Send(context.Background(), n, snap, a)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestRegistry_UnknownTypeIsPermanent(t *testing.T) {
	reg := Registry{}
	n, snap, a := webhookFixture("http://example.com")

	err := reg.Send(context.Background(), n, snap, a)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
