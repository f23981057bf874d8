package status

import (
	"time"

	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
)

// Machine validates order status transitions. The canonical lifecycle is
// pending -> {confirmed, cancelled}, confirmed -> {delivered, cancelled};
// delivered and cancelled are terminal.
type Machine struct {
	transitions map[enums.OrderStatus][]enums.OrderStatus
}

// NewMachine creates the order status machine.
func NewMachine() *Machine {
	return &Machine{
		transitions: map[enums.OrderStatus][]enums.OrderStatus{
			enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
			enums.OrderStatusConfirmed: {enums.OrderStatusDelivered, enums.OrderStatusCancelled},
			enums.OrderStatusDelivered: {},
			enums.OrderStatusCancelled: {},
		},
	}
}

// CanTransition reports whether from -> to is a valid transition.
func (m *Machine) CanTransition(from, to enums.OrderStatus) bool {
	allowed, ok := m.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the transitions reachable from the given status.
func (m *Machine) AllowedFrom(from enums.OrderStatus) []enums.OrderStatus {
	allowed, ok := m.transitions[from]
	if !ok {
		return nil
	}
	out := make([]enums.OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

// Plan describes the column updates a transition must apply alongside the
// status change. NoOp is set when the order already has the target status.
type Plan struct {
	From    enums.OrderStatus
	To      enums.OrderStatus
	NoOp    bool
	Updates map[string]any
}

// PlanTransition validates from -> to and returns the update set to apply
// under compare-and-swap. Re-requesting the current status is a no-op
// success.
func (m *Machine) PlanTransition(from, to enums.OrderStatus, actor string, now time.Time) (Plan, error) {
	if !to.IsValid() {
		return Plan{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	if from == to {
		return Plan{From: from, To: to, NoOp: true}, nil
	}
	if !m.CanTransition(from, to) {
		return Plan{}, pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
			WithDetails(map[string]any{"from": from.String(), "to": to.String()})
	}

	updates := map[string]any{"status": to}
	switch to {
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		updates["cancelled_by"] = actor
	}
	return Plan{From: from, To: to, Updates: updates}, nil
}
