// Package memory holds an in-process implementation of the store ports. It
// honors the same conditional-update contracts as the postgres layer under a
// single mutex and backs unit tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/domain/outbox"
	"github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/schedule"
)

type Store struct {
	mu sync.Mutex

	checks map[int64]*check.Check
	byKey  map[string]int64
	notifs map[int64]*notification.Notification
	alerts map[int64]*notification.Alert
	events map[string]*outbox.Message

	nextCheckID int64
	nextNotifID int64
	nextAlertID int64
}

var (
	_ check.Repo             = (*Store)(nil)
	_ notification.Repo      = (*NotificationView)(nil)
	_ notification.AlertRepo = (*Store)(nil)
	_ outbox.Repository      = (*OutboxView)(nil)
	_ postgres.Transactor    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		checks: make(map[int64]*check.Check),
		byKey:  make(map[string]int64),
		notifs: make(map[int64]*notification.Notification),
		alerts: make(map[int64]*notification.Alert),
		events: make(map[string]*outbox.Message),
	}
}

// WithTx satisfies the transactor port; the memory store applies every
// operation atomically already, so the function just runs.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

/* check.Repo */

func (s *Store) Create(_ context.Context, c *check.Check) error {
	if err := schedule.Validate(c.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCheckID++
	now := time.Now().UTC()
	c.ID = s.nextCheckID
	c.PingKey = uuid.NewString()
	c.Status = check.StatusCreated
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	cp := *c
	s.checks[c.ID] = &cp
	s.byKey[c.PingKey] = c.ID
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*check.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCheckLocked(id)
}

func (s *Store) GetByPingKey(_ context.Context, key string) (*check.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return s.getCheckLocked(id)
}

func (s *Store) getCheckLocked(id int64) (*check.Check, error) {
	c, ok := s.checks[id]
	if !ok || c.Deleted {
		return nil, postgres.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) FetchDue(_ context.Context, now time.Time, limit int) ([]*check.Check, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*check.Check
	for _, c := range s.checks {
		if c.Deleted || (c.Status != check.StatusUp && c.Status != check.StatusDown) {
			continue
		}
		if c.NextDeadlineAt == nil || c.NextDeadlineAt.After(now) {
			continue
		}
		cp := *c
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDeadlineAt.Before(*due[j].NextDeadlineAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) TryTransition(_ context.Context, id int64, from, to check.Status, expectVersion int64, nextDeadline *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[id]
	if !ok || c.Deleted {
		return false, postgres.ErrNotFound
	}
	if c.Status != from || c.Version != expectVersion {
		return false, nil
	}
	c.Status = to
	c.NextDeadlineAt = nextDeadline
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ApplyPing(_ context.Context, id int64, at time.Time, to check.Status, expectVersion int64, nextDeadline *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[id]
	if !ok || c.Deleted {
		return false, postgres.ErrNotFound
	}
	if c.Version != expectVersion {
		return false, nil
	}
	if c.LastPingAt != nil && !c.LastPingAt.Before(at) {
		return false, nil
	}
	t := at.UTC()
	c.LastPingAt = &t
	c.Status = to
	c.NextDeadlineAt = nextDeadline
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ResetPingKey(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[id]
	if !ok || c.Deleted {
		return "", postgres.ErrNotFound
	}
	delete(s.byKey, c.PingKey)
	c.PingKey = uuid.NewString()
	s.byKey[c.PingKey] = id
	c.UpdatedAt = time.Now().UTC()
	return c.PingKey, nil
}

func (s *Store) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[id]
	if !ok || c.Deleted {
		return postgres.ErrNotFound
	}
	now := time.Now().UTC()
	c.Deleted = true
	c.DeletedAt = &now
	return nil
}

/* notification.Repo */

// NotificationView exposes the store's notifications under the
// notification.Repo port; Create would otherwise collide with the check port
// on Store.
type NotificationView struct{ s *Store }

func (s *Store) Notifications() *NotificationView { return &NotificationView{s: s} }

func (v *NotificationView) Create(_ context.Context, n *notification.Notification) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNotifID++
	now := time.Now().UTC()
	n.ID = s.nextNotifID
	n.CreatedAt = now
	n.UpdatedAt = now

	cp := *n
	s.notifs[n.ID] = &cp
	return nil
}

func (v *NotificationView) ListForCheck(_ context.Context, checkID int64) ([]*notification.Notification, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*notification.Notification
	for _, n := range s.notifs {
		if n.CheckID == checkID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

/* notification.AlertRepo */

func (s *Store) Enqueue(_ context.Context, checkID, notificationID int64, status check.Status, retries int32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.NotificationID == notificationID && a.CheckStatus == status && !a.DeliveryStatus.Terminal() {
			return false, nil
		}
	}

	s.nextAlertID++
	now := time.Now().UTC()
	s.alerts[s.nextAlertID] = &notification.Alert{
		ID:               s.nextAlertID,
		CheckID:          checkID,
		NotificationID:   notificationID,
		CheckStatus:      status,
		DeliveryStatus:   notification.DeliveryQueued,
		RetriesRemaining: retries,
		NextAttemptAt:    now,
		CreatedAt:        now,
	}
	return true, nil
}

func (s *Store) ClaimNext(_ context.Context, workerID string, now time.Time) (*notification.QueuedAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *notification.Alert
	for _, a := range s.alerts {
		if a.DeliveryStatus != notification.DeliveryQueued || a.NextAttemptAt.After(now) {
			continue
		}
		if candidate == nil || a.CreatedAt.Before(candidate.CreatedAt) ||
			(a.CreatedAt.Equal(candidate.CreatedAt) && a.ID < candidate.ID) {
			candidate = a
		}
	}
	if candidate == nil {
		return nil, nil
	}

	t := now.UTC()
	candidate.DeliveryStatus = notification.DeliveryRunning
	candidate.ClaimedBy = workerID
	candidate.ClaimedAt = &t

	n, ok := s.notifs[candidate.NotificationID]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	c, ok := s.checks[candidate.CheckID]
	if !ok {
		return nil, postgres.ErrNotFound
	}

	qa := &notification.QueuedAlert{
		Alert:        *candidate,
		Notification: *n,
		Check: notification.CheckSnapshot{
			ID:         c.ID,
			Name:       c.Name,
			Status:     c.Status,
			LastPingAt: c.LastPingAt,
		},
	}
	return qa, nil
}

func (s *Store) Finish(_ context.Context, alertID int64, claimedBy string, status notification.DeliveryStatus, at time.Time) error {
	if !status.Terminal() {
		return postgres.ErrConstraint
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return postgres.ErrNotFound
	}
	if a.DeliveryStatus != notification.DeliveryRunning || a.ClaimedBy != claimedBy {
		return postgres.ErrConflict
	}
	t := at.UTC()
	a.DeliveryStatus = status
	a.FinishedAt = &t
	a.ClaimedBy = ""
	a.ClaimedAt = nil
	return nil
}

func (s *Store) Requeue(_ context.Context, alertID int64, claimedBy string, retriesRemaining int32, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return postgres.ErrNotFound
	}
	if a.DeliveryStatus != notification.DeliveryRunning || a.ClaimedBy != claimedBy {
		return postgres.ErrConflict
	}
	a.DeliveryStatus = notification.DeliveryQueued
	a.RetriesRemaining = retriesRemaining
	a.NextAttemptAt = nextAttempt.UTC()
	a.ClaimedBy = ""
	a.ClaimedAt = nil
	return nil
}

func (s *Store) ReclaimStale(_ context.Context, lease time.Duration, now time.Time) (requeued, failed []int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-lease)
	for _, a := range s.alerts {
		if a.DeliveryStatus != notification.DeliveryRunning || a.ClaimedAt == nil || !a.ClaimedAt.Before(cutoff) {
			continue
		}
		a.ClaimedBy = ""
		a.ClaimedAt = nil
		if a.RetriesRemaining > 0 {
			a.RetriesRemaining--
			a.DeliveryStatus = notification.DeliveryQueued
			a.NextAttemptAt = now.UTC()
			requeued = append(requeued, a.ID)
		} else {
			t := now.UTC()
			a.DeliveryStatus = notification.DeliveryFailed
			a.FinishedAt = &t
			failed = append(failed, a.ID)
		}
	}
	sort.Slice(requeued, func(i, j int) bool { return requeued[i] < requeued[j] })
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return requeued, failed, nil
}

/* outbox.Repository */

// OutboxView exposes the store's outbox table under the outbox.Repository
// port. It is a separate view because the alert queue already claims the
// Enqueue method name on Store.
type OutboxView struct{ s *Store }

func (s *Store) Outbox() *OutboxView { return &OutboxView{s: s} }

func (v *OutboxView) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[key]; exists {
		return nil
	}
	now := time.Now().UTC()
	s.events[key] = &outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           data,
		Status:         "CREATED",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return nil
}

func (v *OutboxView) PickBatch(_ context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []outbox.Message
	for _, m := range s.events {
		if len(out) >= batch {
			break
		}
		stale := m.Status == "IN_PROGRESS" && m.UpdatedAt.Before(now.Add(-inProgressTTL))
		if m.Status == "CREATED" || stale {
			m.Status = "IN_PROGRESS"
			m.UpdatedAt = now
			out = append(out, *m)
		}
	}
	return out, nil
}

func (v *OutboxView) MarkSuccess(_ context.Context, keys []string) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, k := range keys {
		if m, ok := s.events[k]; ok {
			m.Status = "SUCCESS"
			m.UpdatedAt = now
		}
	}
	return nil
}

/* test helpers */

// PutCheck installs a check as-is, indexing its ping key.
func (s *Store) PutCheck(c *check.Check) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.nextCheckID++
		c.ID = s.nextCheckID
	} else if c.ID > s.nextCheckID {
		s.nextCheckID = c.ID
	}
	cp := *c
	s.checks[c.ID] = &cp
	if c.PingKey != "" {
		s.byKey[c.PingKey] = c.ID
	}
}

// Alerts returns a snapshot of all alert rows ordered by id.
func (s *Store) Alerts() []notification.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notification.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns a snapshot of the outbox contents.
func (s *Store) Events() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Message, 0, len(s.events))
	for _, m := range s.events {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
