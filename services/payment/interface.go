package payment

import (
	"context"

	"counsel/models"
)

// PaymentService drives checkout for one consultation: order creation,
// server-side verification, and activation of the controller matching the
// selected mode. The gateway's checkout widget itself is an external
// collaborator; this service only handles the order and the proof.
type PaymentService interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	VerifyPayment(ctx context.Context, proof models.PaymentProof) (*models.SessionGrant, error)
}

// Activator is the controller side of a successful verification. Implemented
// by the call and chat services.
type Activator interface {
	Activate(ctx context.Context, grant models.SessionGrant) error
}
