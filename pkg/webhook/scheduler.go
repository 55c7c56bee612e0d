package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/types"
)

// Dispatch performs one delivery attempt. *Dispatcher satisfies it.
type Dispatch interface {
	DispatchWebhook(ctx context.Context, sub *types.WebhookSubscription, event Event) Attempt
}

// AttemptRecorder persists delivery audit records
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *types.WebhookDeliveryAttempt) error
}

// Report summarises a delivery with retries
type Report struct {
	Attempts  []Attempt
	Delays    []time.Duration
	Delivered bool
}

// Last returns the final attempt
func (r Report) Last() Attempt {
	if len(r.Attempts) == 0 {
		return Attempt{}
	}
	return r.Attempts[len(r.Attempts)-1]
}

// Scheduler retries transient delivery failures with exponential backoff
type Scheduler struct {
	dispatch    Dispatch
	recorder    AttemptRecorder
	baseBackoff time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	audits      sync.WaitGroup
}

// NewScheduler creates a scheduler. recorder may be nil.
func NewScheduler(dispatch Dispatch, recorder AttemptRecorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatch:    dispatch,
		recorder:    recorder,
		baseBackoff: constants.WebhookBaseBackoff,
		logger:      logger,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff is the delay before attempt n (1-based, n >= 2)
func (s *Scheduler) backoff(n int) time.Duration {
	return s.baseBackoff << (n - 2)
}

// DispatchWithRetry delivers event, retrying transient failures up to maxAttempts in total.
// Terminal failures stop immediately. There is no wait after the last attempt.
func (s *Scheduler) DispatchWithRetry(ctx context.Context, sub *types.WebhookSubscription, event Event, maxAttempts int) Report {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var report Report
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			delay := s.backoff(n)
			report.Delays = append(report.Delays, delay)
			if err := s.sleep(ctx, delay); err != nil {
				s.logger.Warn("webhook retry abandoned", "subscription_id", sub.ID, "event", event.Name, "error", err)
				break
			}
		}

		attempt := s.dispatch.DispatchWebhook(ctx, sub, event)
		report.Attempts = append(report.Attempts, attempt)
		s.audit(sub, event, n, attempt)

		if attempt.Succeeded() {
			report.Delivered = true
			break
		}
		if attempt.Terminal() {
			s.logger.Warn("webhook delivery failed permanently",
				"subscription_id", sub.ID,
				"event", event.Name,
				"attempt", n,
				"outcome", attempt.Outcome(),
				"status_code", attempt.StatusCode)
			break
		}
		s.logger.Info("webhook delivery failed",
			"subscription_id", sub.ID,
			"event", event.Name,
			"attempt", n,
			"outcome", attempt.Outcome(),
			"status_code", attempt.StatusCode,
			"error", attempt.Err)
	}
	return report
}

// audit writes the attempt record without blocking delivery
func (s *Scheduler) audit(sub *types.WebhookSubscription, event Event, n int, attempt Attempt) {
	if s.recorder == nil {
		return
	}
	record := &types.WebhookDeliveryAttempt{
		SubscriptionID: sub.ID,
		Event:          event.Name,
		Attempt:        n,
		Outcome:        attempt.Outcome(),
		StatusCode:     attempt.StatusCode,
		DurationMs:     attempt.Duration.Milliseconds(),
	}

	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.RecordAttempt(ctx, record); err != nil {
			s.logger.Warn("failed to record webhook attempt", "subscription_id", record.SubscriptionID, "error", err)
		}
	}()
}

// Wait blocks until pending audit writes finish
func (s *Scheduler) Wait() {
	s.audits.Wait()
}
