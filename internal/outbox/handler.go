package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/outbox"
	"github.com/upmon/upmon/internal/obs/retry"
	kafkax "github.com/upmon/upmon/internal/repository/kafka"
)

// StatusChangedPayload is the persisted form of a status transition event.
// It is written by the dispatcher inside the transition's transaction and
// relayed to Kafka by the runner.
type StatusChangedPayload struct {
	CheckID int64        `json:"check_id"`
	Old     check.Status `json:"old"`
	New     check.Status `json:"new"`
	At      time.Time    `json:"at"`
}

var (
	handlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		handlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			handlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

// MakeGlobalHandler maps outbox kinds to their relay handlers. Status-change
// events go out to Kafka.
func MakeGlobalHandler(pub *kafkax.StatusEventsKafka, pol retry.Policy) outbox.GlobalHandler {
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindStatusChanged:
			base := func(ctx context.Context, data []byte) error {
				var p StatusChangedPayload
				if err := json.Unmarshal(data, &p); err != nil {
					return fmt.Errorf("unmarshal status-changed payload: %w", err)
				}
				return pub.PublishStatusChanged(ctx, kafkax.StatusChanged{
					CheckID:   p.CheckID,
					OldStatus: p.Old,
					NewStatus: p.New,
					At:        p.At,
				})
			}
			return instrument("status_changed", base, pol), nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
	}
}
