package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

var ErrExecutorUnavailable = errors.New("payment executor unavailable")

type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	Timeout             time.Duration
	MaxRequests         uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "payment-executor",
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		MaxRequests:         1,
	}
}

// Breaker stops calling a failing executor until it has had time to recover.
// While open, instructions fail fast with ErrExecutorUnavailable.
type Breaker struct {
	next    interfaces.PaymentExecutor
	breaker *gobreaker.CircuitBreaker
}

func NewBreaker(next interfaces.PaymentExecutor, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A rejected beneficiary is a business outcome, not an outage.
			return err == nil || errors.Is(err, ErrBeneficiaryRejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("payment executor circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *Breaker) Execute(ctx context.Context, instruction models.PaymentInstruction) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.Execute(ctx, instruction)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(fmt.Errorf("%w: %v", ErrExecutorUnavailable, err), apperr.ExecutionFailed, "Payment executor unavailable")
	}
	return err
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

var _ interfaces.PaymentExecutor = (*Breaker)(nil)
