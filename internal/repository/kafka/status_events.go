package kafka

import (
	"context"
	"time"

	"github.com/upmon/upmon/internal/domain/check"
)

// StatusChanged is the event published for every check status transition.
// Consumers are external; the payload is plain JSON.
type StatusChanged struct {
	CheckID   int64        `json:"check_id"`
	OldStatus check.Status `json:"old_status"`
	NewStatus check.Status `json:"new_status"`
	At        time.Time    `json:"at"`
}

type StatusEventsKafka struct {
	p *Producer
}

func NewStatusEventsKafka(p *Producer) *StatusEventsKafka { return &StatusEventsKafka{p: p} }

func (e *StatusEventsKafka) PublishStatusChanged(ctx context.Context, ev StatusChanged) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(ev.CheckID), ev)
}
