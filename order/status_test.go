package order

import (
	"errors"
	"testing"
)

func TestNext_LegalTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
		want  Status
	}{
		{StatusPendingPayment, EventPayInstant, StatusCompleted},
		{StatusPendingPayment, EventPayEscrow, StatusEscrowed},
		{StatusPendingPayment, EventCancel, StatusCancelled},
		{StatusEscrowed, EventDeliver, StatusDelivered},
		{StatusEscrowed, EventDispute, StatusDisputed},
		{StatusDelivered, EventReceive, StatusCompleted},
		{StatusDelivered, EventAutoConfirm, StatusCompleted},
		{StatusDelivered, EventDispute, StatusDisputed},
		{StatusCompleted, EventDispute, StatusDisputed},
		{StatusDisputed, EventResolveRefund, StatusCancelled},
		{StatusDisputed, EventResolveRelease, StatusCompleted},
	}
	for _, c := range cases {
		got, err := Next(c.from, c.event)
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", c.from, c.event, err)
			continue
		}
		if got != c.want {
			t.Errorf("Next(%s, %s) = %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestNext_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
	}{
		{StatusPendingPayment, EventDeliver},
		{StatusPendingPayment, EventDispute},
		{StatusEscrowed, EventReceive},
		{StatusEscrowed, EventCancel},
		{StatusDelivered, EventPayEscrow},
		{StatusCompleted, EventDeliver},
		{StatusCompleted, EventCancel},
		{StatusCancelled, EventDispute},
		{StatusCancelled, EventPayInstant},
		{StatusDisputed, EventDispute},
		{StatusDisputed, EventDeliver},
	}
	for _, c := range cases {
		if _, err := Next(c.from, c.event); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Next(%s, %s): expected ErrInvalidTransition, got %v", c.from, c.event, err)
		}
	}
}

// Cancelled is terminal except as a resolution target: no event leaves it.
func TestCancelledIsTerminal(t *testing.T) {
	events := []Event{
		EventPayInstant, EventPayEscrow, EventDeliver, EventReceive,
		EventAutoConfirm, EventDispute, EventResolveRefund, EventResolveRelease, EventCancel,
	}
	for _, e := range events {
		if _, err := Next(StatusCancelled, e); err == nil {
			t.Errorf("cancelled admits %s", e)
		}
	}
}

func TestCanDispute(t *testing.T) {
	cases := map[Status]bool{
		StatusPendingPayment: false,
		StatusEscrowed:       true,
		StatusDelivered:      true,
		StatusCompleted:      true,
		StatusDisputed:       false,
		StatusCancelled:      false,
	}
	for status, want := range cases {
		if got := CanDispute(status); got != want {
			t.Errorf("CanDispute(%s) = %v, want %v", status, got, want)
		}
	}
}

// Every non-initial state is reachable from pending_payment.
func TestAllStatesReachable(t *testing.T) {
	reached := map[Status]bool{StatusPendingPayment: true}
	frontier := []Status{StatusPendingPayment}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, next := range transitions[current] {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for _, status := range []Status{
		StatusEscrowed, StatusDelivered, StatusCompleted, StatusDisputed, StatusCancelled,
	} {
		if !reached[status] {
			t.Errorf("status %s unreachable from pending_payment", status)
		}
	}
}
