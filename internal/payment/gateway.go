package payment

import (
	"context"
	"errors"
	"fmt"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
	RefundStatusCanceled  = "canceled"
)

type Refund struct {
	ID            string
	Status        string
	AmountCents   int64
	FailureReason string
}

// Gateway is the external payment collaborator. Implementations must be safe
// to call outside any database transaction: the cancellation workflow and
// the sweeper both hold no locks across these calls.
type Gateway interface {
	Refund(ctx context.Context, paymentRef string, amountCents int64) (*Refund, error)
	RetrieveRefund(ctx context.Context, refundID string) (*Refund, error)
	// ListRefunds returns all refunds issued against a payment, used by the
	// sweeper when a crash lost the refund id.
	ListRefunds(ctx context.Context, paymentRef string) ([]*Refund, error)
}

// GatewayError marks failures originating at the gateway so the state
// machine can park the booking in a retryable state instead of aborting.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
