package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/api/middleware"
	"github.com/mandiflow/produce-backend/api/responses"
	"github.com/mandiflow/produce-backend/api/validators"
	"github.com/mandiflow/produce-backend/internal/orders"
	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
	"github.com/mandiflow/produce-backend/pkg/pagination"
	"github.com/mandiflow/produce-backend/pkg/types"
)

type orderLineRequest struct {
	ProductID string  `json:"product_id" validate:"required,uuid"`
	Quantity  string  `json:"quantity" validate:"required"`
	Rate      *string `json:"rate,omitempty"`
}

type createOrderRequest struct {
	CustomerID     string             `json:"customer_id" validate:"required,uuid"`
	IdempotencyKey *string            `json:"idempotency_key,omitempty"`
	BatchID        *string            `json:"batch_id,omitempty" validate:"omitempty,uuid"`
	Lines          []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updatePricesRequest struct {
	Lines []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type recordPaymentRequest struct {
	PaidAmount string `json:"paid_amount" validate:"required"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type orderLineResponse struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	Quantity       string    `json:"quantity"`
	Rate           string    `json:"rate"`
	Amount         string    `json:"amount"`
	IsContractRate bool      `json:"is_contract_rate"`
}

type orderResponse struct {
	ID              uuid.UUID              `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	CustomerID      uuid.UUID              `json:"customer_id"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"payment_status"`
	TotalAmount     string                 `json:"total_amount"`
	PaidAmount      string                 `json:"paid_amount"`
	BatchID         *uuid.UUID             `json:"batch_id,omitempty"`
	PricingFallback bool                   `json:"pricing_fallback"`
	PriceChanges    types.PriceChangeTrail `json:"price_changes,omitempty"`
	Items           []orderLineResponse    `json:"items"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
	CancelledBy     *string                `json:"cancelled_by,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	ReconciledAt    *time.Time             `json:"reconciled_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

type orderResultResponse struct {
	Order             orderResponse     `json:"order"`
	Idempotent        bool              `json:"idempotent"`
	PricingFallback   bool              `json:"pricing_fallback"`
	NewContractPrices map[string]string `json:"new_contract_prices,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderLineResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Unit:           item.Unit.String(),
			Quantity:       item.Quantity.String(),
			Rate:           item.Rate.String(),
			Amount:         item.Amount.String(),
			IsContractRate: item.IsContractRate,
		})
	}
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerID:      order.CustomerID,
		Status:          order.Status.String(),
		PaymentStatus:   order.PaymentStatus.String(),
		TotalAmount:     order.TotalAmount.String(),
		PaidAmount:      order.PaidAmount.String(),
		BatchID:         order.BatchID,
		PricingFallback: order.PricingFallback,
		PriceChanges:    order.PriceChanges,
		Items:           items,
		CancelledAt:     order.CancelledAt,
		CancelledBy:     order.CancelledBy,
		DeliveredAt:     order.DeliveredAt,
		ReconciledAt:    order.ReconciledAt,
		CreatedAt:       order.CreatedAt,
	}
}

func newResultResponse(res *orders.Result) orderResultResponse {
	out := orderResultResponse{
		Order:           newOrderResponse(res.Order),
		Idempotent:      res.Idempotent,
		PricingFallback: res.PricingFallback,
	}
	if len(res.NewContractPrices) > 0 {
		out.NewContractPrices = make(map[string]string, len(res.NewContractPrices))
		for productID, rate := range res.NewContractPrices {
			out.NewContractPrices[productID.String()] = rate.String()
		}
	}
	return out
}

func actorFromRequest(r *http.Request) (orders.Actor, error) {
	identity, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "actor context missing")
	}
	return orders.Actor{ID: identity.ID, Role: identity.Role}, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

func parseLines(raw []orderLineRequest) ([]orders.LineInput, error) {
	lines := make([]orders.LineInput, 0, len(raw))
	for _, line := range raw {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
		}
		quantity, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quantity")
		}
		input := orders.LineInput{ProductID: productID, Quantity: quantity}
		if line.Rate != nil {
			rate, err := decimal.NewFromString(*line.Rate)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rate")
			}
			input.Rate = &rate
		}
		lines = append(lines, input)
	}
	return lines, nil
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ListOrders returns a page of orders, newest first. Customer callers are
// scoped to their own orders.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		input := orders.ListInput{
			Actor: actor,
			Params: pagination.Params{
				Cursor: query.Get("cursor"),
			},
		}
		if raw := query.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			input.Params.Limit = limit
		}
		if raw := query.Get("customer_id"); raw != "" {
			customerID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
				return
			}
			input.Filters.CustomerID = &customerID
		}
		if raw := query.Get("status"); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Filters.Status = &status
		}

		list, err := svc.List(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := orderListResponse{
			Orders:     make([]orderResponse, 0, len(list.Orders)),
			NextCursor: list.NextCursor,
		}
		for i := range list.Orders {
			out.Orders = append(out.Orders, newOrderResponse(&list.Orders[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// CreateOrder creates a wholesale order for a customer.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, err := uuid.Parse(req.CustomerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
			return
		}
		lines, err := parseLines(req.Lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := orders.CreateOrderInput{
			CustomerID:     customerID,
			Lines:          lines,
			IdempotencyKey: req.IdempotencyKey,
			Actor:          actor,
		}
		if req.BatchID != nil {
			batchID, err := uuid.Parse(*req.BatchID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid batch id"))
				return
			}
			input.BatchID = &batchID
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Idempotent {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newResultResponse(result))
	}
}

// GetOrder returns one order with its lines. Customer callers may only read
// their own orders.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// UpdateOrderPrices revises line rates on an existing order.
func UpdateOrderPrices(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updatePricesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines, err := parseLines(req.Lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.UpdatePrices(r.Context(), orders.UpdatePricesInput{
			OrderID: orderID,
			Lines:   lines,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResultResponse(result))
	}
}

// RecordPayment sets the cumulative paid amount on an order.
func RecordPayment(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req recordPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paid, err := decimal.NewFromString(req.PaidAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paid amount"))
			return
		}

		result, err := svc.RecordPayment(r.Context(), orders.RecordPaymentInput{
			OrderID:    orderID,
			PaidAmount: paid,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResultResponse(result))
	}
}

// TransitionOrderStatus moves an order through its lifecycle.
func TransitionOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		newStatus, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		result, err := svc.TransitionStatus(r.Context(), orders.TransitionInput{
			OrderID:   orderID,
			NewStatus: newStatus,
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResultResponse(result))
	}
}

// CancelOrder cancels an order and restores the unpaid remainder of the
// customer's credit.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), orders.CancelInput{OrderID: orderID, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResultResponse(result))
	}
}
