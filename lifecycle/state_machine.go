// Package lifecycle owns every change to an order's status. Callers describe
// the change as a Command; Apply either performs it completely or leaves the
// order untouched and returns an invalid-transition error.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/models"
)

// Transition names an operation on an order.
type Transition string

const (
	ConfirmPayment      Transition = "confirmPayment"
	FailPayment         Transition = "failPayment"
	AcceptCOD           Transition = "acceptCOD"
	AdvanceFulfillment  Transition = "advanceFulfillment"
	RequestReturn       Transition = "requestReturn"
	RequestExchange     Transition = "requestExchange"
	DecideReturn        Transition = "decideReturn"
	DecideExchange      Transition = "decideExchange"
	Cancel              Transition = "cancel"
	SetExpectedDelivery Transition = "setExpectedDelivery"
)

// Actor is who asks for a transition.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	// ActorGateway is the payment verifier acting on a gateway callback.
	ActorGateway Actor = "gateway"
)

// Decision resolves a pending return or exchange request.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Command is one requested transition with its arguments.
type Command struct {
	Transition  Transition
	Actor       Actor
	Target      models.OrderStatus         // AdvanceFulfillment
	Reason      string                     // RequestReturn, RequestExchange, Cancel
	Decision    Decision                   // DecideReturn, DecideExchange
	Note        string                     // DecideReturn, DecideExchange
	Transaction *models.PaymentTransaction // ConfirmPayment, FailPayment
	Date        time.Time                  // SetExpectedDelivery
	At          time.Time
}

// edges lists every status move the machine can make.
var edges = map[models.OrderStatus]map[models.OrderStatus]bool{
	models.OrderStatusPending:    {models.OrderStatusProcessing: true, models.OrderStatusCancelled: true},
	models.OrderStatusProcessing: {models.OrderStatusShipped: true, models.OrderStatusCancelled: true},
	models.OrderStatusShipped:    {models.OrderStatusDelivered: true},
	models.OrderStatusDelivered:  {models.OrderStatusCancelled: true},
	models.OrderStatusCancelled:  {},
}

// CanMove reports whether from → to is an edge of the machine.
func CanMove(from, to models.OrderStatus) bool {
	return edges[from][to]
}

var adminOnly = map[Transition]bool{
	AcceptCOD:           true,
	AdvanceFulfillment:  true,
	DecideReturn:        true,
	DecideExchange:      true,
	SetExpectedDelivery: true,
}

// Apply performs cmd on o. It reports changed=false for an idempotent repeat
// of a payment outcome that is already reflected on the order. On error o is
// not modified.
func Apply(o *models.Order, cmd Command) (changed bool, err error) {
	if err := authorize(o, cmd); err != nil {
		return false, err
	}
	if cmd.At.IsZero() {
		cmd.At = time.Now().UTC()
	}

	next := o.Clone()
	changed, err = apply(next, cmd)
	if err != nil || !changed {
		return false, err
	}
	if next.Status != o.Status && !CanMove(o.Status, next.Status) {
		return false, invalid(cmd.Transition, o)
	}
	*o = *next
	return true, nil
}

func authorize(o *models.Order, cmd Command) error {
	switch {
	case adminOnly[cmd.Transition] && cmd.Actor != ActorAdmin:
		return apperrors.Forbidden(fmt.Sprintf("%s requires an admin", cmd.Transition))
	case (cmd.Transition == ConfirmPayment || cmd.Transition == FailPayment) && cmd.Actor != ActorGateway:
		return apperrors.Forbidden(fmt.Sprintf("%s is driven by payment verification only", cmd.Transition))
	}
	return nil
}

func apply(o *models.Order, cmd Command) (bool, error) {
	switch cmd.Transition {
	case ConfirmPayment:
		return confirmPayment(o, cmd)
	case FailPayment:
		return failPayment(o, cmd)
	case AcceptCOD:
		if o.PaymentMethod != models.PaymentMethodCashOnDelivery || o.Status != models.OrderStatusPending {
			return false, invalid(cmd.Transition, o)
		}
		o.Status = models.OrderStatusProcessing
		return true, nil
	case AdvanceFulfillment:
		return advance(o, cmd)
	case RequestReturn:
		return request(o, cmd, &o.ReturnRequested, &o.ReturnReason)
	case RequestExchange:
		return request(o, cmd, &o.ExchangeRequested, &o.ExchangeReason)
	case DecideReturn:
		return decide(o, cmd, "return", &o.ReturnRequested, &o.ReturnReason, &o.ReturnDecisionNote)
	case DecideExchange:
		return decide(o, cmd, "exchange", &o.ExchangeRequested, &o.ExchangeReason, &o.ExchangeDecisionNote)
	case Cancel:
		return cancel(o, cmd)
	case SetExpectedDelivery:
		if o.Status == models.OrderStatusDelivered || o.Status == models.OrderStatusCancelled {
			return false, invalid(cmd.Transition, o)
		}
		if cmd.Date.IsZero() {
			return false, apperrors.Validation("expected delivery date is required")
		}
		o.ExpectedDeliveryDate = cmd.Date.UTC()
		return true, nil
	}
	return false, apperrors.Validation(fmt.Sprintf("unknown transition %q", cmd.Transition))
}

func confirmPayment(o *models.Order, cmd Command) (bool, error) {
	txn := cmd.Transaction
	if o.PaymentMethod != models.PaymentMethodOnlineGateway || txn == nil ||
		txn.OrderID != o.ID || txn.Status != models.TransactionVerified {
		return false, invalid(cmd.Transition, o)
	}
	if o.Status == models.OrderStatusProcessing && o.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}
	if o.Status != models.OrderStatusPending {
		return false, invalid(cmd.Transition, o)
	}
	o.Status = models.OrderStatusProcessing
	o.PaymentStatus = models.PaymentStatusPaid
	o.PaidAt = &cmd.At
	return true, nil
}

func failPayment(o *models.Order, cmd Command) (bool, error) {
	txn := cmd.Transaction
	if o.PaymentMethod != models.PaymentMethodOnlineGateway || txn == nil ||
		txn.OrderID != o.ID || txn.Status != models.TransactionFailed {
		return false, invalid(cmd.Transition, o)
	}
	if o.Status == models.OrderStatusCancelled && o.PaymentStatus == models.PaymentStatusFailed {
		return false, nil
	}
	if o.Status != models.OrderStatusPending {
		return false, invalid(cmd.Transition, o)
	}
	o.Status = models.OrderStatusCancelled
	o.PaymentStatus = models.PaymentStatusFailed
	o.CancelReason = "payment failed"
	o.CancelledAt = &cmd.At
	return true, nil
}

func advance(o *models.Order, cmd Command) (bool, error) {
	switch {
	case o.Status == models.OrderStatusProcessing && cmd.Target == models.OrderStatusShipped:
		o.Status = models.OrderStatusShipped
		o.ShippedAt = &cmd.At
	case o.Status == models.OrderStatusShipped && cmd.Target == models.OrderStatusDelivered:
		o.Status = models.OrderStatusDelivered
		o.DeliveredAt = &cmd.At
		if o.PaymentMethod == models.PaymentMethodCashOnDelivery {
			// cash is collected at the door
			o.PaymentStatus = models.PaymentStatusPaid
			o.PaidAt = &cmd.At
		}
	default:
		return false, invalid(cmd.Transition, o)
	}
	return true, nil
}

func request(o *models.Order, cmd Command, flag *bool, reason *string) (bool, error) {
	if o.Status != models.OrderStatusDelivered || *flag {
		return false, invalid(cmd.Transition, o)
	}
	r := strings.TrimSpace(cmd.Reason)
	if r == "" {
		return false, apperrors.Validation("a reason is required")
	}
	*flag = true
	*reason = r
	return true, nil
}

func decide(o *models.Order, cmd Command, kind string, flag *bool, reason, note *string) (bool, error) {
	if !*flag {
		return false, invalid(cmd.Transition, o)
	}
	switch cmd.Decision {
	case DecisionAccept:
		if o.Status != models.OrderStatusDelivered {
			return false, invalid(cmd.Transition, o)
		}
		o.Status = models.OrderStatusCancelled
		o.CancelReason = fmt.Sprintf("%s accepted: %s", kind, *reason)
		o.CancelledAt = &cmd.At
	case DecisionDecline:
	default:
		return false, apperrors.Validation(fmt.Sprintf("decision must be %q or %q", DecisionAccept, DecisionDecline))
	}
	*flag = false
	*note = strings.TrimSpace(cmd.Note)
	return true, nil
}

func cancel(o *models.Order, cmd Command) (bool, error) {
	allowed := o.Status == models.OrderStatusPending ||
		(cmd.Actor == ActorAdmin && o.Status == models.OrderStatusProcessing)
	if !allowed {
		return false, invalid(cmd.Transition, o)
	}
	r := strings.TrimSpace(cmd.Reason)
	if r == "" {
		r = fmt.Sprintf("cancelled by %s", cmd.Actor)
	}
	o.Status = models.OrderStatusCancelled
	o.CancelReason = r
	o.CancelledAt = &cmd.At
	return true, nil
}

func invalid(t Transition, o *models.Order) error {
	return apperrors.InvalidTransition(string(t), string(o.Status))
}
