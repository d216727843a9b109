package channel

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
)

func TestRenderEmailSubject(t *testing.T) {
	last := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	snap := notification.CheckSnapshot{ID: 3, Name: "backup-job", Status: check.StatusDown, LastPingAt: &last}
	a := &notification.Alert{CheckStatus: check.StatusDown}

	subject, body := renderEmail("upmon", &notification.Notification{}, snap, a)
	assert.Equal(t, "upmon [DOWN] backup-job", subject)
	assert.Contains(t, body, "missed its expected ping")
	assert.Contains(t, body, "2025-03-01T11:00:00Z")

	// a named notification overrides the check name
	subject, _ = renderEmail("", &notification.Notification{Name: "prod backups"}, snap, a)
	assert.Equal(t, "[DOWN] prod backups", subject)

	a.CheckStatus = check.StatusUp
	subject, body = renderEmail("upmon", &notification.Notification{}, snap, a)
	assert.Equal(t, "upmon [UP] backup-job", subject)
	assert.Contains(t, body, "is back up")
}

func TestRenderEmailNeverPinged(t *testing.T) {
	snap := notification.CheckSnapshot{ID: 3, Name: "backup-job", Status: check.StatusDown}
	_, body := renderEmail("upmon", &notification.Notification{}, snap, &notification.Alert{CheckStatus: check.StatusDown})
	assert.Contains(t, body, "Last ping: never")
}

func TestEmailSendHonorsDeadline(t *testing.T) {
	// a server that accepts the connection and never sends an SMTP greeting
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, conn)
		_ = conn.Close()
	}()

	m := NewEmail(SMTPConfig{Addr: ln.Addr().String(), From: "alerts@upmon.local"}, zap.NewNop())
	snap := notification.CheckSnapshot{ID: 3, Name: "backup-job", Status: check.StatusDown}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = m.Send(ctx, &notification.Notification{ID: 1, Email: "ops@upmon.local"},
		snap, &notification.Alert{CheckStatus: check.StatusDown})
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "a timed-out attempt must stay retryable")
	assert.Less(t, time.Since(start), 2*time.Second, "send must return once the deadline passes")
}

func TestEmailSendRejectsBadAddress(t *testing.T) {
	m := NewEmail(SMTPConfig{Addr: "localhost:2525", From: "alerts@upmon.local"}, zap.NewNop())

	for _, addr := range []string{"", "   ", "not-an-address"} {
		err := m.Send(context.Background(), &notification.Notification{ID: 1, Email: addr},
			notification.CheckSnapshot{}, &notification.Alert{})
		require.Error(t, err)
		assert.True(t, IsPermanent(err), "address %q must fail permanently", addr)
	}
}
