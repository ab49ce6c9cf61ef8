package payment

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway issues refunds against payment intents.
type StripeGateway struct{}

func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(amountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx

	ref, err := refund.New(params)
	if err != nil {
		return nil, &GatewayError{Op: "refund", Err: err}
	}
	return fromStripe(ref), nil
}

func (g *StripeGateway) RetrieveRefund(ctx context.Context, refundID string) (*Refund, error) {
	params := &stripe.RefundParams{}
	params.Context = ctx

	ref, err := refund.Get(refundID, params)
	if err != nil {
		return nil, &GatewayError{Op: "retrieve_refund", Err: err}
	}
	return fromStripe(ref), nil
}

func (g *StripeGateway) ListRefunds(ctx context.Context, paymentRef string) ([]*Refund, error) {
	params := &stripe.RefundListParams{PaymentIntent: stripe.String(paymentRef)}
	params.Context = ctx

	var refunds []*Refund
	iter := refund.List(params)
	for iter.Next() {
		refunds = append(refunds, fromStripe(iter.Refund()))
	}
	if err := iter.Err(); err != nil {
		return nil, &GatewayError{Op: "list_refunds", Err: err}
	}
	return refunds, nil
}

func fromStripe(ref *stripe.Refund) *Refund {
	return &Refund{
		ID:            ref.ID,
		Status:        string(ref.Status),
		AmountCents:   ref.Amount,
		FailureReason: string(ref.FailureReason),
	}
}

var _ Gateway = (*StripeGateway)(nil)
