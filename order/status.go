package order

import (
	"errors"
	"fmt"
)

// Status is the order lifecycle state. The literal values are persisted and
// read by reporting tooling, so they must not be renamed.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusEscrowed       Status = "escrowed"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusDisputed       Status = "disputed"
	StatusCancelled      Status = "cancelled"
)

// PayoutStatus tracks fund movement out of escrow.
type PayoutStatus string

const (
	PayoutNone     PayoutStatus = "none"
	PayoutPending  PayoutStatus = "pending"
	PayoutReleased PayoutStatus = "released"
)

// Delivery is the listing fulfillment mode.
type Delivery string

const (
	DeliveryInstant     Delivery = "instant"
	DeliveryCoordinated Delivery = "coordinated"
)

// Event names a cause for an order state change.
type Event string

const (
	// EventPayInstant is the payment signal for an instant-delivery listing;
	// the credential is already on file so the order completes immediately.
	EventPayInstant Event = "pay_instant"
	// EventPayEscrow is the payment signal for a coordinated-delivery listing.
	EventPayEscrow Event = "pay_escrow"
	// EventDeliver is the seller's delivery confirmation.
	EventDeliver Event = "deliver"
	// EventReceive is the buyer's receipt confirmation.
	EventReceive Event = "receive"
	// EventAutoConfirm is the sweeper completing a delivered order whose
	// confirmation window elapsed.
	EventAutoConfirm Event = "auto_confirm"
	// EventDispute freezes the order for arbitration.
	EventDispute Event = "dispute"
	// EventResolveRefund is the arbitrator ruling for the buyer.
	EventResolveRefund Event = "resolve_refund"
	// EventResolveRelease is the arbitrator ruling for the seller.
	EventResolveRelease Event = "resolve_release"
	// EventCancel is the buyer abandoning an unpaid order.
	EventCancel Event = "cancel"
)

// ErrInvalidTransition signals an event not permitted from the current state.
var ErrInvalidTransition = errors.New("order: invalid transition")

// transitions is the complete legal state graph. Anything absent here is
// rejected, so illegal moves fail by construction rather than by scattered
// conditionals.
var transitions = map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventPayInstant: StatusCompleted,
		EventPayEscrow:  StatusEscrowed,
		EventCancel:     StatusCancelled,
	},
	StatusEscrowed: {
		EventDeliver: StatusDelivered,
		EventDispute: StatusDisputed,
	},
	StatusDelivered: {
		EventReceive:     StatusCompleted,
		EventAutoConfirm: StatusCompleted,
		EventDispute:     StatusDisputed,
	},
	StatusCompleted: {
		EventDispute: StatusDisputed,
	},
	StatusDisputed: {
		EventResolveRefund:  StatusCancelled,
		EventResolveRelease: StatusCompleted,
	},
}

// Next returns the state the event leads to, or ErrInvalidTransition.
func Next(current Status, event Event) (Status, error) {
	next, ok := transitions[current][event]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
	}
	return next, nil
}

// CanDispute reports whether the state admits a dispute at all; callers still
// check resolution and payout guards.
func CanDispute(current Status) bool {
	_, ok := transitions[current][EventDispute]
	return ok
}
