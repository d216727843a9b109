package alerter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/notification"
)

var mClaimErr = promauto.NewCounter(prometheus.CounterOpts{
	Name: "alerter_claim_errors_total", Help: "Errors while claiming alerts",
})

// Pool runs a fixed set of delivery workers. Each worker claims the oldest
// due alert, delivers it, and polls again; an empty queue backs the worker
// off for the poll interval.
type Pool struct {
	Worker   *Worker
	Alerts   notification.AlertRepo
	Size     int
	PollTick time.Duration
	Log      *zap.Logger
}

func (p *Pool) Run(ctx context.Context) error {
	size := p.Size
	if size <= 0 {
		size = 1
	}
	host, _ := os.Hostname()

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(fmt.Sprintf("%s-%d", host, i))
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	log := p.Log.With(zap.String("worker_id", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		qa, err := p.Alerts.ClaimNext(ctx, workerID, p.Worker.Clock.Now().UTC())
		if err != nil {
			mClaimErr.Inc()
			log.Warn("claim failed", zap.Error(err))
			qa = nil
		}
		if qa == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.PollTick):
			}
			continue
		}
		if err := p.Worker.Process(ctx, qa); err != nil {
			log.Warn("alert outcome not recorded", zap.Int64("alert_id", qa.Alert.ID), zap.Error(err))
		}
	}
}
