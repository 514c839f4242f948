package inheritance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/session"
)

var (
	// ErrPaymentDeclined is returned by the simulated gateway for declined cards.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrNotProcessable is returned when a payment is not PENDING.
	ErrNotProcessable = errors.New("payment is not pending")
)

// declinedSuffix marks test card numbers the gateway always declines.
const declinedSuffix = "0000"

// Gateway charges a payment.
type Gateway interface {
	Charge(ctx context.Context, p Payment) error
}

// ProcessOptions configure Process.
type ProcessOptions struct {
	// Gateway charges the payment. Nil uses a SimulatedGateway built from
	// the delays below.
	Gateway Gateway
	// CardDelay and TransferDelay are how long the simulated gateway takes.
	CardDelay     time.Duration
	TransferDelay time.Duration
}

// DefaultProcessOptions returns the delays of a realistic gateway.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{CardDelay: time.Second, TransferDelay: 2 * time.Second}
}

func (o ProcessOptions) gateway() Gateway {
	if o.Gateway != nil {
		return o.Gateway
	}
	return SimulatedGateway{CardDelay: o.CardDelay, TransferDelay: o.TransferDelay}
}

// SimulatedGateway waits for the configured delay and approves everything
// except cards ending in 0000.
type SimulatedGateway struct {
	CardDelay     time.Duration
	TransferDelay time.Duration
}

func (g SimulatedGateway) Charge(ctx context.Context, p Payment) error {
	switch v := p.(type) {
	case *CreditCardPayment:
		if err := sleep(ctx, g.CardDelay); err != nil {
			return err
		}
		if strings.HasSuffix(v.CardNumber, declinedSuffix) {
			return fmt.Errorf("%w: card ending in %s", ErrPaymentDeclined, declinedSuffix)
		}
	case *BankTransferPayment:
		if err := sleep(ctx, g.TransferDelay); err != nil {
			return err
		}
		if v.ReferenceNumber == "" {
			v.ReferenceNumber = "REF" + v.TransactionID
		}
	default:
		return fmt.Errorf("unsupported payment type %T", p)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Process validates and charges a PENDING payment. The status moves to
// PROCESSING and then to COMPLETED, or to FAILED when the gateway refuses
// the charge or ctx ends first. Process only changes the in-memory payment;
// callers persist the outcome.
func Process(ctx context.Context, p Payment, opts ProcessOptions) error {
	core := p.Core()
	if core.Status == "" {
		core.Status = StatusPending
	}
	if core.Status != StatusPending {
		return goerrors.Wrap(ErrNotProcessable, goerrors.CategoryConflict,
			fmt.Sprintf("payment %s is %s", core.ID, core.Status)).
			WithTextCode("NOT_PROCESSABLE")
	}
	if err := p.Validate(); err != nil {
		return session.ValidationFailed(string(p.Type()), err)
	}

	core.Status = StatusProcessing
	if err := opts.gateway().Charge(ctx, p); err != nil {
		core.Status = StatusFailed
		return goerrors.Wrap(err, goerrors.CategoryOperation, "payment processing failed").
			WithTextCode("PAYMENT_FAILED").
			WithMetadata(map[string]any{"payment_id": core.ID.String(), "type": string(p.Type())})
	}
	core.Status = StatusCompleted
	return nil
}
