package translator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes Breaker. Failures consecutive errors open the
// circuit; it half-opens again after Cooldown.
type BreakerSettings struct {
	Failures uint32        `mapstructure:"failures"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Breaker wraps a TranslationService in a circuit breaker so a failing
// provider is short-circuited instead of hammered by every pending fragment.
type Breaker struct {
	TranslationService
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(svc TranslationService, s BreakerSettings, logger *slog.Logger) *Breaker {
	if s.Failures == 0 {
		s.Failures = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	failures := s.Failures
	return &Breaker{
		TranslationService: svc,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    svc.Name(),
			Timeout: s.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellation says nothing about provider health.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *Breaker) Translate(ctx context.Context, cfg ServiceConfig, req TranslateRequest) (*ServiceResult, error) {
	var last *ServiceResult
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := b.TranslationService.Translate(ctx, cfg, req)
		last = res
		return res, err
	})
	if err != nil {
		if last == nil {
			last = &ServiceResult{ServiceName: b.Name(), Error: err.Error()}
		}
		return last, err
	}
	return out.(*ServiceResult), nil
}

// State reports the breaker state, for logs and status output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
