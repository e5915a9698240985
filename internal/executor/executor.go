// Package executor holds PaymentExecutor implementations. Real rail
// connectivity lives outside this repository.
package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

var ErrBeneficiaryRejected = errors.New("beneficiary account rejected by payment rail")

// Simulated accepts every instruction except those addressed to blocked
// beneficiary accounts. It stands in for the payment gateway.
type Simulated struct {
	mu      sync.RWMutex
	blocked map[string]string
}

func NewSimulated() *Simulated {
	return &Simulated{blocked: make(map[string]string)}
}

// Block makes every instruction to account fail with reason.
func (s *Simulated) Block(account, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked[account] = reason
}

func (s *Simulated) Execute(ctx context.Context, instruction models.PaymentInstruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	reason, blocked := s.blocked[instruction.Beneficiary.Account]
	s.mu.RUnlock()

	if blocked {
		return apperr.Wrap(ErrBeneficiaryRejected, apperr.ExecutionFailed, "Beneficiary rejected the payment: "+reason)
	}
	return nil
}

var _ interfaces.PaymentExecutor = (*Simulated)(nil)
