package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher fans events out to every matching subscription of an owner
type Publisher struct {
	store       Store
	scheduler   *Scheduler
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	deliveries  sync.WaitGroup
}

func NewPublisher(store Store, scheduler *Scheduler, maxAttempts int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:       store,
		scheduler:   scheduler,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// Publish looks up subscriptions with ctx and delivers in the background.
// Deliveries outlive ctx; retries may take several seconds.
func (p *Publisher) Publish(ctx context.Context, ownerID, event string, data map[string]any) {
	subs, err := p.store.ListActiveForEvent(ctx, ownerID, event)
	if err != nil {
		p.logger.Warn("failed to load webhook subscriptions", "owner_id", ownerID, "event", event, "error", err)
		return
	}

	e := Event{Name: event, Data: data, Timestamp: p.now().UTC()}
	for i := range subs {
		sub := subs[i]
		p.deliveries.Add(1)
		go func() {
			defer p.deliveries.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("panic in webhook delivery", "subscription_id", sub.ID, "panic", r)
				}
			}()

			report := p.scheduler.DispatchWithRetry(context.Background(), &sub, e, p.maxAttempts)
			if report.Delivered {
				p.logger.Info("webhook delivered", "subscription_id", sub.ID, "event", event, "attempts", len(report.Attempts))
			}
		}()
	}
}

// Wait blocks until started deliveries and their audit records finish
func (p *Publisher) Wait() {
	p.deliveries.Wait()
	p.scheduler.Wait()
}
