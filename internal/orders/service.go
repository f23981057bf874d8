package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/internal/audit"
	"github.com/mandiflow/produce-backend/internal/customers"
	"github.com/mandiflow/produce-backend/internal/ledger"
	"github.com/mandiflow/produce-backend/internal/pricing"
	"github.com/mandiflow/produce-backend/internal/products"
	"github.com/mandiflow/produce-backend/internal/rates"
	"github.com/mandiflow/produce-backend/internal/sequence"
	"github.com/mandiflow/produce-backend/internal/status"
	"github.com/mandiflow/produce-backend/pkg/db"
	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
	"github.com/mandiflow/produce-backend/pkg/money"
	"github.com/mandiflow/produce-backend/pkg/types"
)

const idempotencyIndex = "idx_orders_idempotency_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service implements the order lifecycle: creation, price revision, payment
// recording, status transitions, and cancellation. Every balance-affecting
// operation runs its storage effects inside one transaction.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*Result, error)
	UpdatePrices(ctx context.Context, input UpdatePricesInput) (*Result, error)
	RecordPayment(ctx context.Context, input RecordPaymentInput) (*Result, error)
	TransitionStatus(ctx context.Context, input TransitionInput) (*Result, error)
	Cancel(ctx context.Context, input CancelInput) (*Result, error)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	List(ctx context.Context, input ListInput) (*OrderList, error)
}

// Deps carries the collaborators the lifecycle service orchestrates.
type Deps struct {
	Repo      Repository
	Tx        txRunner
	Customers customers.Repository
	Products  products.Repository
	Rates     rates.Service
	Ledger    ledger.Service
	Sequence  sequence.Generator
	Machine   *status.Machine
	Audit     audit.Sink
	Logger    *logger.Logger
	// MaxLineQuantity bounds a single line's quantity.
	MaxLineQuantity decimal.Decimal
	// PriceTrailLimit caps the per-order price-change audit trail.
	PriceTrailLimit int
}

type service struct {
	repo      Repository
	tx        txRunner
	customers customers.Repository
	products  products.Repository
	rates     rates.Service
	ledger    ledger.Service
	sequence  sequence.Generator
	machine   *status.Machine
	audit     audit.Sink
	logg      *logger.Logger
	maxQty    decimal.Decimal
	trailCap  int
}

// NewService builds the order lifecycle service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Customers == nil {
		return nil, fmt.Errorf("customers repository required")
	}
	if deps.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("rates service required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if deps.Sequence == nil {
		return nil, fmt.Errorf("sequence generator required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("status machine required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.MaxLineQuantity.IsZero() || deps.MaxLineQuantity.IsNegative() {
		return nil, fmt.Errorf("max line quantity must be positive")
	}
	if deps.PriceTrailLimit <= 0 {
		return nil, fmt.Errorf("price trail limit must be positive")
	}
	return &service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		customers: deps.Customers,
		products:  deps.Products,
		rates:     deps.Rates,
		ledger:    deps.Ledger,
		sequence:  deps.Sequence,
		machine:   deps.Machine,
		audit:     deps.Audit,
		logg:      deps.Logger,
		maxQty:    deps.MaxLineQuantity,
		trailCap:  deps.PriceTrailLimit,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureActorOwns(order.CustomerID, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// ensureActorOwns rejects customer actors acting on another customer's
// records. Staff actors pass through.
func ensureActorOwns(customerID uuid.UUID, actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	actorID, err := uuid.Parse(actor.ID)
	if err != nil || actorID != customerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to the requesting customer")
	}
	return nil
}

func (s *service) List(ctx context.Context, input ListInput) (*OrderList, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}

	filters := input.Filters
	if !input.Actor.IsStaff() {
		// Customer actors only ever see their own orders.
		customerID, err := uuid.Parse(input.Actor.ID)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer identity is not a valid customer id")
		}
		filters.CustomerID = &customerID
	}

	return s.repo.List(ctx, filters, input.Params)
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*Result, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if err := ensureActorOwns(input.CustomerID, input.Actor); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customers may only create orders for themselves")
	}

	// A replayed key wins before anything else: the original order is
	// returned untouched even when the replayed body differs.
	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, *input.IdempotencyKey)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		if existing != nil {
			return &Result{Order: existing, Idempotent: true}, nil
		}
	}

	if err := s.validateLines(input.Lines); err != nil {
		return nil, err
	}

	customer, err := s.customers.FindByID(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if !customer.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer is inactive")
	}
	if err := s.checkRoleRestrictions(customer, input.Lines, input.Actor); err != nil {
		return nil, err
	}

	productIDs := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	catalog, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingProducts(productIDs, catalog); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_ids": missing})
	}
	marketRates, err := s.rates.LatestByProductIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	var (
		items        []models.OrderLineItem
		total        = decimal.Zero
		newContracts = types.ContractPriceMap{}
		fallback     bool
	)
	for _, line := range input.Lines {
		product := catalog[line.ProductID]
		var marketRate *decimal.Decimal
		if rate, ok := marketRates[line.ProductID]; ok {
			marketRate = &rate
		}
		res := pricing.Resolve(customer, line.ProductID, marketRate, line.Rate)
		amount := money.LineAmount(line.Quantity, res.Rate)
		items = append(items, models.OrderLineItem{
			ProductID:      line.ProductID,
			Name:           product.Name,
			Unit:           product.Unit,
			Quantity:       line.Quantity,
			Rate:           res.Rate,
			Amount:         amount,
			IsContractRate: res.IsContractRate,
		})
		total = total.Add(amount)
		if res.PersistAsContract {
			newContracts[line.ProductID] = res.Rate
		}
		fallback = fallback || res.UsedFallback
	}
	total = money.Round2(total)

	now := time.Now().UTC()
	order := &models.Order{
		CustomerID:      input.CustomerID,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusUnpaid,
		TotalAmount:     total,
		PaidAmount:      decimal.Zero,
		IdempotencyKey:  input.IdempotencyKey,
		BatchID:         input.BatchID,
		PricingFallback: fallback,
		Items:           items,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		seq, err := s.sequence.WithTx(tx).Next(ctx, sequence.OrderCounterName(now))
		if err != nil {
			return err
		}
		order.OrderNumber = sequence.FormatOrderNumber(now, seq)

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if len(newContracts) > 0 {
			if err := s.customers.WithTx(tx).PersistContractPrices(ctx, customer.ID, newContracts); err != nil {
				return err
			}
		}
		_, err = s.ledger.Apply(ctx, tx, ledger.ApplyInput{
			CustomerID: customer.ID,
			OrderID:    order.ID,
			Type:       enums.LedgerEntryTypeOrderCreated,
			Delta:      total,
			Actor:      input.Actor.Ref(),
		})
		return err
	})
	if err != nil {
		// A concurrent request with the same key won the insert race;
		// resolve to the existing order instead of failing.
		if input.IdempotencyKey != nil && db.IsUniqueViolation(err, idempotencyIndex) {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, *input.IdempotencyKey)
			if findErr == nil {
				return &Result{Order: existing, Idempotent: true}, nil
			}
		}
		return nil, err
	}

	logCtx := s.logg.WithOrderNumber(ctx, order.OrderNumber)
	logCtx = s.logg.WithCustomerID(logCtx, customer.ID.String())
	s.logg.Info(logCtx, "order created")
	s.audit.Record(ctx, audit.Entry{
		Actor:    input.Actor.Ref(),
		Action:   "order.created",
		Entity:   "order",
		EntityID: order.ID,
		Detail:   map[string]any{"order_number": order.OrderNumber, "total": total.String()},
	})

	return &Result{
		Order:             order,
		PricingFallback:   fallback,
		NewContractPrices: newContracts,
	}, nil
}

func (s *service) UpdatePrices(ctx context.Context, input UpdatePricesInput) (*Result, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	if err := rejectDuplicateProducts(input.Lines); err != nil {
		return nil, err
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if err := ensureActorOwns(order.CustomerID, input.Actor); err != nil {
			return err
		}
		if order.IsReconciled() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "reconciled order is locked against price edits")
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled order cannot be edited")
		}

		customer, err := s.customers.WithTx(tx).FindByID(ctx, order.CustomerID)
		if err != nil {
			return err
		}

		revision, err := s.planRevision(ctx, tx, order, customer, input)
		if err != nil {
			return err
		}

		oldTotal := order.TotalAmount
		newTotal := revision.total
		if money.Cents(order.PaidAmount) > money.Cents(newTotal) {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid amount exceeds revised total").
				WithDetails(map[string]any{
					"paid_amount": order.PaidAmount.String(),
					"new_total":   newTotal.String(),
				})
		}

		for _, id := range revision.removedIDs {
			if err := repo.DeleteLineItems(ctx, []uuid.UUID{id}); err != nil {
				return err
			}
		}
		for id, updates := range revision.lineUpdates {
			if err := repo.UpdateLineItem(ctx, id, updates); err != nil {
				return err
			}
		}
		if err := repo.CreateLineItems(ctx, revision.added); err != nil {
			return err
		}
		if len(revision.newContracts) > 0 {
			if err := s.customers.WithTx(tx).PersistContractPrices(ctx, customer.ID, revision.newContracts); err != nil {
				return err
			}
		}

		paymentStatus := paymentStatusFor(order.PaidAmount, newTotal)
		orderUpdates := map[string]any{
			"total_amount":     newTotal,
			"payment_status":   paymentStatus,
			"price_changes":    revision.trail,
			"pricing_fallback": order.PricingFallback || revision.fallback,
		}
		// The ledger delta below is computed from the totals read above, so
		// the write is conditioned on them still being current.
		changed, err := repo.UpdateCAS(ctx, order.ID, map[string]any{
			"total_amount": oldTotal,
			"paid_amount":  order.PaidAmount,
		}, orderUpdates)
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, refresh and retry")
		}

		delta := newTotal.Sub(oldTotal)
		if !delta.IsZero() {
			metadata, _ := json.Marshal(map[string]string{
				"old_total": oldTotal.String(),
				"new_total": newTotal.String(),
			})
			_, err = s.ledger.Apply(ctx, tx, ledger.ApplyInput{
				CustomerID: customer.ID,
				OrderID:    order.ID,
				Type:       enums.LedgerEntryTypePriceAdjustment,
				Delta:      delta,
				Actor:      input.Actor.Ref(),
				Metadata:   metadata,
			})
			if err != nil {
				return err
			}
		}

		order.TotalAmount = newTotal
		order.PaymentStatus = paymentStatus
		order.PriceChanges = revision.trail
		order.PricingFallback = order.PricingFallback || revision.fallback
		order.Items = revision.items
		result = &Result{
			Order:             order,
			PricingFallback:   revision.fallback,
			NewContractPrices: revision.newContracts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderNumber(ctx, result.Order.OrderNumber)
	s.logg.Info(logCtx, "order prices updated")
	s.audit.Record(ctx, audit.Entry{
		Actor:    input.Actor.Ref(),
		Action:   "order.prices_updated",
		Entity:   "order",
		EntityID: result.Order.ID,
		Detail:   map[string]any{"total": result.Order.TotalAmount.String()},
	})
	return result, nil
}

// revision is the in-memory outcome of applying a price-update request to an
// order's current lines.
type revision struct {
	items        []models.OrderLineItem
	lineUpdates  map[uuid.UUID]map[string]any
	removedIDs   []uuid.UUID
	added        []models.OrderLineItem
	trail        types.PriceChangeTrail
	total        decimal.Decimal
	newContracts types.ContractPriceMap
	fallback     bool
}

func (s *service) planRevision(ctx context.Context, tx *gorm.DB, order *models.Order, customer *models.Customer, input UpdatePricesInput) (*revision, error) {
	byProduct := make(map[uuid.UUID]*models.OrderLineItem, len(order.Items))
	for i := range order.Items {
		byProduct[order.Items[i].ProductID] = &order.Items[i]
	}

	rev := &revision{
		lineUpdates:  map[uuid.UUID]map[string]any{},
		trail:        order.PriceChanges,
		newContracts: types.ContractPriceMap{},
	}
	now := time.Now().UTC()
	removed := map[uuid.UUID]bool{}

	var addInputs []LineInput
	for _, line := range input.Lines {
		existing, ok := byProduct[line.ProductID]
		if !ok {
			if !input.Actor.IsStaff() {
				return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only staff may add lines to an order")
			}
			addInputs = append(addInputs, line)
			continue
		}

		if line.Quantity.IsZero() {
			rev.removedIDs = append(rev.removedIDs, existing.ID)
			removed[existing.ID] = true
			continue
		}
		if !line.Quantity.Equal(existing.Quantity) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity is immutable on the price-update path").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if line.Rate == nil {
			continue
		}
		newRate := money.Round2(*line.Rate)
		if money.Equal(newRate, existing.Rate) {
			continue
		}
		if !input.Actor.IsStaff() {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "rate changes require a staff actor").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if existing.IsContractRate {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "contract-priced line rate is locked").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if newRate.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must not be negative")
		}

		rev.trail = rev.trail.Append(types.PriceChange{
			ProductID: line.ProductID,
			OldRate:   existing.Rate,
			NewRate:   newRate,
			Actor:     input.Actor.Ref(),
			ChangedAt: now,
		}, s.trailCap)

		amount := money.LineAmount(existing.Quantity, newRate)
		rev.lineUpdates[existing.ID] = map[string]any{
			"rate":   newRate,
			"amount": amount,
		}
		existing.Rate = newRate
		existing.Amount = amount
	}

	if len(addInputs) > 0 {
		if err := s.validateLines(addInputs); err != nil {
			return nil, err
		}
		added, err := s.resolveAddedLines(ctx, tx, order, customer, addInputs, rev)
		if err != nil {
			return nil, err
		}
		rev.added = added
	}

	total := decimal.Zero
	for i := range order.Items {
		if removed[order.Items[i].ID] {
			continue
		}
		rev.items = append(rev.items, order.Items[i])
		total = total.Add(order.Items[i].Amount)
	}
	for _, item := range rev.added {
		rev.items = append(rev.items, item)
		total = total.Add(item.Amount)
	}
	rev.total = money.Round2(total)
	return rev, nil
}

func (s *service) resolveAddedLines(ctx context.Context, tx *gorm.DB, order *models.Order, customer *models.Customer, lines []LineInput, rev *revision) ([]models.OrderLineItem, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	catalog, err := s.products.WithTx(tx).FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if missing := missingProducts(ids, catalog); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_ids": missing})
	}
	marketRates, err := s.rates.LatestByProductIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderLineItem, 0, len(lines))
	for _, line := range lines {
		product := catalog[line.ProductID]
		var marketRate *decimal.Decimal
		if rate, ok := marketRates[line.ProductID]; ok {
			marketRate = &rate
		}
		res := pricing.Resolve(customer, line.ProductID, marketRate, line.Rate)
		items = append(items, models.OrderLineItem{
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			Name:           product.Name,
			Unit:           product.Unit,
			Quantity:       line.Quantity,
			Rate:           res.Rate,
			Amount:         money.LineAmount(line.Quantity, res.Rate),
			IsContractRate: res.IsContractRate,
		})
		if res.PersistAsContract {
			rev.newContracts[line.ProductID] = res.Rate
		}
		rev.fallback = rev.fallback || res.UsedFallback
	}
	return items, nil
}

func (s *service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*Result, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.PaidAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paid amount must not be negative")
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if err := ensureActorOwns(order.CustomerID, input.Actor); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled order cannot accept payments")
		}

		paid := money.Round2(input.PaidAmount)
		if money.Cents(paid) > money.Cents(order.TotalAmount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid amount exceeds order total").
				WithDetails(map[string]any{
					"paid_amount":  paid.String(),
					"total_amount": order.TotalAmount.String(),
				})
		}

		paymentStatus := paymentStatusFor(paid, order.TotalAmount)
		// The ledger delta is paid relative to the amount read above; a
		// concurrent payment or price revision invalidates both.
		changed, err := repo.UpdateCAS(ctx, order.ID, map[string]any{
			"paid_amount":  order.PaidAmount,
			"total_amount": order.TotalAmount,
		}, map[string]any{
			"paid_amount":    paid,
			"payment_status": paymentStatus,
		})
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, refresh and retry")
		}

		delta := order.PaidAmount.Sub(paid)
		if !delta.IsZero() {
			_, err = s.ledger.Apply(ctx, tx, ledger.ApplyInput{
				CustomerID: order.CustomerID,
				OrderID:    order.ID,
				Type:       enums.LedgerEntryTypePayment,
				Delta:      delta,
				Actor:      input.Actor.Ref(),
			})
			if err != nil {
				return err
			}
		}

		order.PaidAmount = paid
		order.PaymentStatus = paymentStatus
		result = &Result{Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderNumber(ctx, result.Order.OrderNumber)
	s.logg.Info(logCtx, "payment recorded")
	s.audit.Record(ctx, audit.Entry{
		Actor:    input.Actor.Ref(),
		Action:   "order.payment_recorded",
		Entity:   "order",
		EntityID: result.Order.ID,
		Detail: map[string]any{
			"paid_amount":    result.Order.PaidAmount.String(),
			"payment_status": result.Order.PaymentStatus.String(),
		},
	})
	return result, nil
}

func (s *service) TransitionStatus(ctx context.Context, input TransitionInput) (*Result, error) {
	return s.transition(ctx, input.OrderID, input.NewStatus, input.Actor, false)
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*Result, error) {
	return s.transition(ctx, input.OrderID, enums.OrderStatusCancelled, input.Actor, true)
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, actor Actor, rejectRepeat bool) (*Result, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ensureActorOwns(order.CustomerID, actor); err != nil {
			return err
		}
		if rejectRepeat && order.Status == to {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already cancelled")
		}

		now := time.Now().UTC()
		plan, err := s.machine.PlanTransition(order.Status, to, actor.Ref(), now)
		if err != nil {
			return err
		}
		if plan.NoOp {
			result = &Result{Order: order}
			return nil
		}

		observed := map[string]any{"status": plan.From}
		if plan.To == enums.OrderStatusCancelled {
			// The restore below is computed from these amounts; a concurrent
			// payment or price revision must fail the cancel, not leak credit.
			observed["paid_amount"] = order.PaidAmount
			observed["total_amount"] = order.TotalAmount
		}
		changed, err := repo.UpdateCAS(ctx, order.ID, observed, plan.Updates)
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, refresh and retry")
		}

		if plan.To == enums.OrderStatusCancelled {
			restore := order.TotalAmount.Sub(order.PaidAmount)
			if restore.IsPositive() {
				metadata, _ := json.Marshal(map[string]string{
					"total_amount": order.TotalAmount.String(),
					"paid_amount":  order.PaidAmount.String(),
				})
				_, err = s.ledger.Apply(ctx, tx, ledger.ApplyInput{
					CustomerID: order.CustomerID,
					OrderID:    order.ID,
					Type:       enums.LedgerEntryTypeCancellationRestore,
					Delta:      restore.Neg(),
					Actor:      actor.Ref(),
					Metadata:   metadata,
				})
				if err != nil {
					return err
				}
			}
		}

		order.Status = plan.To
		ref := actor.Ref()
		switch plan.To {
		case enums.OrderStatusDelivered:
			order.DeliveredAt = &now
		case enums.OrderStatusCancelled:
			order.CancelledAt = &now
			order.CancelledBy = &ref
		}
		result = &Result{Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderNumber(ctx, result.Order.OrderNumber)
	s.logg.Info(logCtx, "order status is "+result.Order.Status.String())
	s.audit.Record(ctx, audit.Entry{
		Actor:    actor.Ref(),
		Action:   "order.status_changed",
		Entity:   "order",
		EntityID: result.Order.ID,
		Detail:   map[string]any{"status": result.Order.Status.String()},
	})
	return result, nil
}

// rejectDuplicateProducts keeps one line per product so revisions can address
// every line by its product id.
func rejectDuplicateProducts(lines []LineInput) error {
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, line := range lines {
		if seen[line.ProductID] {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate product line").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		seen[line.ProductID] = true
	}
	return nil
}

func (s *service) validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	if err := rejectDuplicateProducts(lines); err != nil {
		return err
	}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "line product id required")
		}
		if !line.Quantity.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if line.Quantity.GreaterThan(s.maxQty) {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity exceeds the allowed maximum").
				WithDetails(map[string]any{
					"product_id": line.ProductID.String(),
					"max":        s.maxQty.String(),
				})
		}
		if line.Rate != nil && line.Rate.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "line rate must not be negative").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
	}
	return nil
}

// checkRoleRestrictions enforces the customer-role limits on order creation:
// no rate overrides, and for contract customers no products without an
// established contract price. Staff commands skip both.
func (s *service) checkRoleRestrictions(customer *models.Customer, lines []LineInput, actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	for _, line := range lines {
		if line.Rate != nil {
			return pkgerrors.New(pkgerrors.CodeForbidden, "rate overrides require a staff actor")
		}
		if customer.PricingModel == enums.PricingModelContract {
			if _, ok := customer.ContractPrices.Rate(line.ProductID); !ok {
				return pkgerrors.New(pkgerrors.CodeForbidden, "product has no contract price for this customer").
					WithDetails(map[string]any{"product_id": line.ProductID.String()})
			}
		}
	}
	return nil
}

func missingProducts(ids []uuid.UUID, catalog map[uuid.UUID]*models.Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := catalog[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	return missing
}

func paymentStatusFor(paid, total decimal.Decimal) enums.PaymentStatus {
	paidCents := money.Cents(paid)
	totalCents := money.Cents(total)
	switch {
	case paidCents <= 0:
		return enums.PaymentStatusUnpaid
	case paidCents >= totalCents:
		return enums.PaymentStatusPaid
	default:
		return enums.PaymentStatusPartial
	}
}
