package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/pagination"
	"github.com/mandiflow/produce-backend/pkg/types"
)

// Actor identifies who issued a command. Role decides which edits are allowed:
// customers operate on their own orders with restricted fields, staff commands
// may override rates and add lines.
type Actor struct {
	ID   string
	Role enums.ActorRole
}

// Ref renders the actor for ledger entries and audit rows.
func (a Actor) Ref() string {
	return string(a.Role) + ":" + a.ID
}

// IsStaff reports whether the actor may use staff-only fields.
func (a Actor) IsStaff() bool {
	return a.Role == enums.ActorRoleStaff
}

func (a Actor) validate() error {
	if a.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !a.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown actor role")
	}
	return nil
}

// LineInput is one requested order line. Rate is a staff-supplied override;
// nil means "resolve from the customer's pricing model".
type LineInput struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	Rate      *decimal.Decimal
}

// CreateOrderInput carries a new order request.
type CreateOrderInput struct {
	CustomerID     uuid.UUID
	Lines          []LineInput
	IdempotencyKey *string
	BatchID        *uuid.UUID
	Actor          Actor
}

// UpdatePricesInput carries a price revision for an existing order. Submitted
// lines are matched to the order's lines by product; quantity 0 removes a
// line, an unknown product adds one (staff only).
type UpdatePricesInput struct {
	OrderID uuid.UUID
	Lines   []LineInput
	Actor   Actor
}

// RecordPaymentInput sets the cumulative paid amount on an order.
type RecordPaymentInput struct {
	OrderID    uuid.UUID
	PaidAmount decimal.Decimal
	Actor      Actor
}

// TransitionInput requests an order status change.
type TransitionInput struct {
	OrderID   uuid.UUID
	NewStatus enums.OrderStatus
	Actor     Actor
}

// ListFilters narrows an order listing.
type ListFilters struct {
	CustomerID *uuid.UUID
	Status     *enums.OrderStatus
}

// ListInput requests one page of orders. Customer actors are always scoped
// to their own orders regardless of the filter they submit.
type ListInput struct {
	Filters ListFilters
	Params  pagination.Params
	Actor   Actor
}

// OrderList is a page of orders plus the cursor for the following page.
// NextCursor is empty on the last page.
type OrderList struct {
	Orders     []models.Order
	NextCursor string
}

// CancelInput requests order cancellation.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// Result is the outcome of a lifecycle operation, carrying what the route
// layer reports back: the persisted order, whether an idempotency key matched
// an existing order, any pricing fallback, and newly locked contract prices.
type Result struct {
	Order             *models.Order
	Idempotent        bool
	PricingFallback   bool
	NewContractPrices types.ContractPriceMap
}
