package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/notification"
)

// Webhook POSTs a JSON alert payload to the notification URL.
type Webhook struct {
	client    *http.Client
	userAgent string
	log       *zap.Logger
}

type WebhookConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

func NewWebhook(cfg WebhookConfig, log *zap.Logger) *Webhook {
	if log == nil {
		log = zap.L()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "upmon-alerter/1.0"
	}
	return &Webhook{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: ua,
		log:       log.With(zap.String("component", "channel.webhook")),
	}
}

type webhookPayload struct {
	CheckID     int64      `json:"check_id"`
	Name        string     `json:"name"`
	CheckStatus string     `json:"check_status"`
	LastPingAt  *time.Time `json:"last_ping_at"`
	AlertID     int64      `json:"alert_id"`
	SentAt      time.Time  `json:"sent_at"`
}

func (w *Webhook) Send(ctx context.Context, n *notification.Notification, snap notification.CheckSnapshot, a *notification.Alert) error {
	target := strings.TrimSpace(n.URL)
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "http" && u.Scheme != "https" {
		return Permanent(fmt.Sprintf("notification %d has no usable webhook url", n.ID), err)
	}

	body, err := json.Marshal(webhookPayload{
		CheckID:     snap.ID,
		Name:        snap.Name,
		CheckStatus: string(a.CheckStatus),
		LastPingAt:  snap.LastPingAt,
		AlertID:     a.ID,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return Permanent("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return Transient("http post", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	w.log.Debug("webhook posted",
		zap.Int64("alert_id", a.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps a webhook response code to a delivery outcome: 2xx is
// delivered, 408/429/5xx are retryable, everything else is permanent.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return Transient(fmt.Sprintf("http status %d", code), nil)
	default:
		return Permanent(fmt.Sprintf("http status %d", code), nil)
	}
}
