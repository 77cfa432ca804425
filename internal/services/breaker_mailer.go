package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerMailer stops calling a failing mail server for a while instead of
// paying the SMTP timeout on every alert.
type BreakerMailer struct {
	next    Mailer
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerMailer(next Mailer, timeout time.Duration, maxFailures uint32) *BreakerMailer {
	settings := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &BreakerMailer{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerMailer) Send(ctx context.Context, msg Message) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", b.breaker.Name(), err)
	}
	return nil
}

// State is "closed", "half-open" or "open". The health endpoint reports it.
func (b *BreakerMailer) State() string {
	return b.breaker.State().String()
}
