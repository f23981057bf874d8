package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/internal/audit"
	"github.com/mandiflow/produce-backend/internal/customers"
	"github.com/mandiflow/produce-backend/internal/ledger"
	"github.com/mandiflow/produce-backend/internal/products"
	"github.com/mandiflow/produce-backend/internal/sequence"
	"github.com/mandiflow/produce-backend/internal/status"
	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
	"github.com/mandiflow/produce-backend/pkg/pagination"
	"github.com/mandiflow/produce-backend/pkg/types"
)

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOrdersRepo struct {
	orders map[uuid.UUID]*models.Order
	// keyLookupMisses makes the next N idempotency-key lookups miss, to
	// simulate an insert race where the winner commits between the
	// pre-check and our insert.
	keyLookupMisses int
	createErr       error
	casResult       *bool
	// casBarrier runs just before the guarded write, standing in for a
	// concurrent transaction committing between our read and our update.
	casBarrier      func()
	lastListFilters *ListFilters
}

func newStubOrdersRepo() *stubOrdersRepo {
	return &stubOrdersRepo{orders: map[uuid.UUID]*models.Order{}}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = make([]models.OrderLineItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	base := time.Now().UTC()
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
		order.Items[i].OrderID = order.ID
		// preserve submission order for FindByID
		order.Items[i].CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return cloneOrder(order), nil
}

func (s *stubOrdersRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if s.keyLookupMisses > 0 {
		s.keyLookupMisses--
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	for _, order := range s.orders {
		if order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			return cloneOrder(order), nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (s *stubOrdersRepo) List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	s.lastListFilters = &filters
	list := &OrderList{}
	for _, order := range s.orders {
		if filters.CustomerID != nil && order.CustomerID != *filters.CustomerID {
			continue
		}
		if filters.Status != nil && order.Status != *filters.Status {
			continue
		}
		list.Orders = append(list.Orders, *cloneOrder(order))
	}
	return list, nil
}

func applyOrderUpdates(order *models.Order, updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "status":
			order.Status = value.(enums.OrderStatus)
		case "total_amount":
			order.TotalAmount = value.(decimal.Decimal)
		case "paid_amount":
			order.PaidAmount = value.(decimal.Decimal)
		case "payment_status":
			order.PaymentStatus = value.(enums.PaymentStatus)
		case "price_changes":
			order.PriceChanges = value.(types.PriceChangeTrail)
		case "pricing_fallback":
			order.PricingFallback = value.(bool)
		case "delivered_at":
			at := value.(time.Time)
			order.DeliveredAt = &at
		case "cancelled_at":
			at := value.(time.Time)
			order.CancelledAt = &at
		case "cancelled_by":
			by := value.(string)
			order.CancelledBy = &by
		}
	}
}

func (s *stubOrdersRepo) Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	applyOrderUpdates(order, updates)
	return nil
}

func (s *stubOrdersRepo) UpdateCAS(ctx context.Context, orderID uuid.UUID, observed map[string]any, updates map[string]any) (bool, error) {
	if s.casBarrier != nil {
		s.casBarrier()
	}
	if s.casResult != nil {
		return *s.casResult, nil
	}
	order, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	for column, value := range observed {
		switch column {
		case "status":
			if order.Status != value.(enums.OrderStatus) {
				return false, nil
			}
		case "paid_amount":
			if !order.PaidAmount.Equal(value.(decimal.Decimal)) {
				return false, nil
			}
		case "total_amount":
			if !order.TotalAmount.Equal(value.(decimal.Decimal)) {
				return false, nil
			}
		}
	}
	applyOrderUpdates(order, updates)
	return true, nil
}

func (s *stubOrdersRepo) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	for i := range items {
		order, ok := s.orders[items[i].OrderID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		order.Items = append(order.Items, items[i])
	}
	return nil
}

func (s *stubOrdersRepo) UpdateLineItem(ctx context.Context, lineItemID uuid.UUID, updates map[string]any) error {
	for _, order := range s.orders {
		for i := range order.Items {
			if order.Items[i].ID != lineItemID {
				continue
			}
			if rate, ok := updates["rate"]; ok {
				order.Items[i].Rate = rate.(decimal.Decimal)
			}
			if amount, ok := updates["amount"]; ok {
				order.Items[i].Amount = amount.(decimal.Decimal)
			}
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "line item not found")
}

func (s *stubOrdersRepo) DeleteLineItems(ctx context.Context, ids []uuid.UUID) error {
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	for _, order := range s.orders {
		kept := order.Items[:0]
		for _, item := range order.Items {
			if !drop[item.ID] {
				kept = append(kept, item)
			}
		}
		order.Items = kept
	}
	return nil
}

type stubCustomersRepo struct {
	customers map[uuid.UUID]*models.Customer
	persisted int
}

func newStubCustomersRepo() *stubCustomersRepo {
	return &stubCustomersRepo{customers: map[uuid.UUID]*models.Customer{}}
}

func (s *stubCustomersRepo) WithTx(tx *gorm.DB) customers.Repository { return s }

func (s *stubCustomersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, ok := s.customers[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	cp := *customer
	return &cp, nil
}

func (s *stubCustomersRepo) PersistContractPrices(ctx context.Context, customerID uuid.UUID, prices types.ContractPriceMap) error {
	customer, ok := s.customers[customerID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	customer.ContractPrices = customer.ContractPrices.MergeNew(prices)
	s.persisted++
	return nil
}

type stubProductsRepo struct {
	products map[uuid.UUID]*models.Product
}

func newStubProductsRepo() *stubProductsRepo {
	return &stubProductsRepo{products: map[uuid.UUID]*models.Product{}}
}

func (s *stubProductsRepo) WithTx(tx *gorm.DB) products.Repository { return s }

func (s *stubProductsRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	found := map[uuid.UUID]*models.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			found[id] = p
		}
	}
	return found, nil
}

type stubRatesService struct {
	rates map[uuid.UUID]decimal.Decimal
}

func newStubRatesService() *stubRatesService {
	return &stubRatesService{rates: map[uuid.UUID]decimal.Decimal{}}
}

func (s *stubRatesService) LatestByProductIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	found := map[uuid.UUID]decimal.Decimal{}
	for _, id := range ids {
		if rate, ok := s.rates[id]; ok {
			found[id] = rate
		}
	}
	return found, nil
}

// stubLedger mirrors the real clamp-at-zero semantics so scenario tests can
// assert end-to-end balances.
type stubLedger struct {
	balances map[uuid.UUID]decimal.Decimal
	entries  []ledger.ApplyInput
}

func newStubLedger() *stubLedger {
	return &stubLedger{balances: map[uuid.UUID]decimal.Decimal{}}
}

func (s *stubLedger) Apply(ctx context.Context, tx *gorm.DB, input ledger.ApplyInput) (*models.LedgerEntry, error) {
	next := s.balances[input.CustomerID].Add(input.Delta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	s.balances[input.CustomerID] = next
	s.entries = append(s.entries, input)
	return &models.LedgerEntry{
		CustomerID: input.CustomerID,
		OrderID:    input.OrderID,
		Type:       input.Type,
		Amount:     input.Delta,
		Actor:      input.Actor,
	}, nil
}

func (s *stubLedger) EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (s *stubLedger) EntriesForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (s *stubLedger) entriesOfType(t enums.LedgerEntryType) []ledger.ApplyInput {
	var out []ledger.ApplyInput
	for _, e := range s.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type stubSequence struct {
	counters map[string]int64
}

func newStubSequence() *stubSequence {
	return &stubSequence{counters: map[string]int64{}}
}

func (s *stubSequence) WithTx(tx *gorm.DB) sequence.Generator { return s }

func (s *stubSequence) Next(ctx context.Context, counterName string) (int64, error) {
	s.counters[counterName]++
	return s.counters[counterName], nil
}

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) Record(ctx context.Context, entry audit.Entry) {
	s.entries = append(s.entries, entry)
}

func (s *stubAudit) Close() {}

type fixture struct {
	svc       Service
	repo      *stubOrdersRepo
	customers *stubCustomersRepo
	products  *stubProductsRepo
	rates     *stubRatesService
	ledger    *stubLedger
	audit     *stubAudit
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTrailLimit(t, 100)
}

func newFixtureWithTrailLimit(t *testing.T, trailLimit int) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newStubOrdersRepo(),
		customers: newStubCustomersRepo(),
		products:  newStubProductsRepo(),
		rates:     newStubRatesService(),
		ledger:    newStubLedger(),
		audit:     &stubAudit{},
	}
	svc, err := NewService(Deps{
		Repo:            f.repo,
		Tx:              stubTx{},
		Customers:       f.customers,
		Products:        f.products,
		Rates:           f.rates,
		Ledger:          f.ledger,
		Sequence:        newStubSequence(),
		Machine:         status.NewMachine(),
		Audit:           f.audit,
		Logger:          logger.New(logger.Options{ServiceName: "orders-test"}),
		MaxLineQuantity: decimal.NewFromInt(10000),
		PriceTrailLimit: trailLimit,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addCustomer(t *testing.T, model enums.PricingModel) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		ID:            uuid.New(),
		Name:          "Fresh Mart",
		IsActive:      true,
		PricingModel:  model,
		MarkupPercent: decimal.Zero,
		CurrentCredit: decimal.Zero,
	}
	f.customers.customers[customer.ID] = customer
	return customer
}

func (f *fixture) addProduct(t *testing.T, name string) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:       uuid.New(),
		Name:     name,
		Unit:     enums.ProductUnitKg,
		IsActive: true,
	}
	f.products.products[product.ID] = product
	return product
}

func staffActor() Actor {
	return Actor{ID: "ops-1", Role: enums.ActorRoleStaff}
}

func customerActor() Actor {
	return Actor{ID: "cust-1", Role: enums.ActorRoleCustomer}
}

func ownerActor(customer *models.Customer) Actor {
	return Actor{ID: customer.ID.String(), Role: enums.ActorRoleCustomer}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOrderMarketCustomer(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("10")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)

	order := res.Order
	assert.True(t, order.TotalAmount.Equal(dec("1000")))
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusUnpaid, order.PaymentStatus)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Tomatoes", order.Items[0].Name)
	assert.Equal(t, enums.ProductUnitKg, order.Items[0].Unit)
	assert.True(t, order.Items[0].Rate.Equal(dec("100")))
	assert.True(t, order.Items[0].Amount.Equal(dec("1000")))
	assert.False(t, res.Idempotent)
	assert.False(t, res.PricingFallback)

	now := time.Now().UTC()
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD"+now.Format("0601")))
	assert.Len(t, order.OrderNumber, 11)

	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")))
	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, enums.LedgerEntryTypeOrderCreated, f.ledger.entries[0].Type)
}

func TestCreateOrderTotalMatchesLineSum(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	tomatoes := f.addProduct(t, "Tomatoes")
	onions := f.addProduct(t, "Onions")
	f.rates.rates[tomatoes.ID] = dec("33.335")
	f.rates.rates[onions.ID] = dec("7.77")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines: []LineInput{
			{ProductID: tomatoes.ID, Quantity: dec("3.5")},
			{ProductID: onions.ID, Quantity: dec("12")},
		},
		Actor: staffActor(),
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range res.Order.Items {
		assert.True(t, item.Amount.Equal(item.Quantity.Mul(item.Rate).Round(2)))
		sum = sum.Add(item.Amount)
	}
	assert.True(t, res.Order.TotalAmount.Equal(sum.Round(2)))
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")
	key := "retry-abc"

	first, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID:     customer.ID,
		Lines:          []LineInput{{ProductID: product.ID, Quantity: dec("10")}},
		IdempotencyKey: &key,
		Actor:          staffActor(),
	})
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	// Replay with a different body: same order, no new credit.
	second, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID:     customer.ID,
		Lines:          []LineInput{{ProductID: product.ID, Quantity: dec("99")}},
		IdempotencyKey: &key,
		Actor:          staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.True(t, second.Order.TotalAmount.Equal(dec("1000")))
	assert.Len(t, f.ledger.entries, 1)
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")))
}

func TestCreateOrderIdempotencyInsertRace(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")
	key := "race-key"

	// The winner's order is already durable; our insert loses the race.
	existing := &models.Order{
		ID:             uuid.New(),
		OrderNumber:    "ORD26080001",
		CustomerID:     customer.ID,
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusUnpaid,
		TotalAmount:    dec("500"),
		PaidAmount:     decimal.Zero,
		IdempotencyKey: &key,
	}
	f.repo.orders[existing.ID] = existing
	f.repo.keyLookupMisses = 1
	f.repo.createErr = errors.New("UNIQUE constraint failed: idx_orders_idempotency_key")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID:     customer.ID,
		Lines:          []LineInput{{ProductID: product.ID, Quantity: dec("10")}},
		IdempotencyKey: &key,
		Actor:          staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.Equal(t, existing.ID, res.Order.ID)
}

func TestCreateOrderContractStability(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelContract)
	product := f.addProduct(t, "Potatoes")
	customer.ContractPrices = types.ContractPriceMap{product.ID: dec("80")}
	f.rates.rates[product.ID] = dec("120")

	// A staff-supplied rate must not displace the locked contract rate.
	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("5"), Rate: decPtr("999")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Order.Items[0].Rate.Equal(dec("80")))
	assert.True(t, res.Order.Items[0].IsContractRate)
	assert.Empty(t, res.NewContractPrices)
}

func TestCreateOrderEstablishesContractPrice(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelContract)
	product := f.addProduct(t, "Cabbage")
	f.rates.rates[product.ID] = dec("50")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("2"), Rate: decPtr("42.50")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Order.Items[0].IsContractRate)
	require.Contains(t, res.NewContractPrices, product.ID)
	assert.True(t, res.NewContractPrices[product.ID].Equal(dec("42.50")))
	assert.Equal(t, 1, f.customers.persisted)

	// Every later order uses the locked rate no matter what is requested.
	res2, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("2"), Rate: decPtr("60")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res2.Order.Items[0].Rate.Equal(dec("42.50")))
	assert.Empty(t, res2.NewContractPrices)
}

func TestCreateOrderContractFallbackToMarket(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelContract)
	product := f.addProduct(t, "Spinach")
	f.rates.rates[product.ID] = dec("25")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("4")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.PricingFallback)
	assert.True(t, res.Order.PricingFallback)
	assert.True(t, res.Order.Items[0].Rate.Equal(dec("25")))
	assert.False(t, res.Order.Items[0].IsContractRate)
	assert.Empty(t, res.NewContractPrices)
}

func TestCreateOrderMarkupCustomer(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarkup)
	customer.MarkupPercent = dec("12.5")
	product := f.addProduct(t, "Carrots")
	f.rates.rates[product.ID] = dec("40")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Order.Items[0].Rate.Equal(dec("45")), "40 * 1.125 = 45")
}

func TestCreateOrderMissingMarketRateDegeneratesToZero(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Exotic Greens")

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("3")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Order.TotalAmount.IsZero())
	assert.True(t, res.Order.Items[0].Rate.IsZero())
}

func TestCreateOrderCustomerRoleRestrictions(t *testing.T) {
	f := newFixture(t)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")

	t.Run("rate override requires staff", func(t *testing.T) {
		customer := f.addCustomer(t, enums.PricingModelMarket)
		_, err := f.svc.Create(context.Background(), CreateOrderInput{
			CustomerID: customer.ID,
			Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1"), Rate: decPtr("5")}},
			Actor:      ownerActor(customer),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("contract customer limited to contracted products", func(t *testing.T) {
		customer := f.addCustomer(t, enums.PricingModelContract)
		_, err := f.svc.Create(context.Background(), CreateOrderInput{
			CustomerID: customer.ID,
			Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
			Actor:      ownerActor(customer),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("staff may order uncontracted products", func(t *testing.T) {
		customer := f.addCustomer(t, enums.PricingModelContract)
		_, err := f.svc.Create(context.Background(), CreateOrderInput{
			CustomerID: customer.ID,
			Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
			Actor:      staffActor(),
		})
		require.NoError(t, err)
	})
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")

	cases := []struct {
		name  string
		input CreateOrderInput
		code  pkgerrors.Code
	}{
		{
			name:  "empty lines",
			input: CreateOrderInput{CustomerID: customer.ID, Actor: staffActor()},
			code:  pkgerrors.CodeValidation,
		},
		{
			name: "zero quantity",
			input: CreateOrderInput{
				CustomerID: customer.ID,
				Lines:      []LineInput{{ProductID: product.ID, Quantity: decimal.Zero}},
				Actor:      staffActor(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "quantity above bound",
			input: CreateOrderInput{
				CustomerID: customer.ID,
				Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("10001")}},
				Actor:      staffActor(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "duplicate product lines",
			input: CreateOrderInput{
				CustomerID: customer.ID,
				Lines: []LineInput{
					{ProductID: product.ID, Quantity: dec("1")},
					{ProductID: product.ID, Quantity: dec("2")},
				},
				Actor: staffActor(),
			},
			code: pkgerrors.CodeValidation,
		},
		{
			name: "unknown product",
			input: CreateOrderInput{
				CustomerID: customer.ID,
				Lines:      []LineInput{{ProductID: uuid.New(), Quantity: dec("1")}},
				Actor:      staffActor(),
			},
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "unknown customer",
			input: CreateOrderInput{
				CustomerID: uuid.New(),
				Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
				Actor:      staffActor(),
			},
			code: pkgerrors.CodeNotFound,
		},
		{
			name: "missing actor",
			input: CreateOrderInput{
				CustomerID: customer.ID,
				Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
			},
			code: pkgerrors.CodeValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code))
		})
	}
	assert.Empty(t, f.ledger.entries, "rejected creates must not touch the ledger")
}

func TestCreateOrderInactiveCustomer(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelMarket)
	customer.IsActive = false
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec("100")

	_, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
		Actor:      staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func createMarketOrder(t *testing.T, f *fixture, qty, rate string) (*models.Customer, *models.Product, *models.Order) {
	t.Helper()
	customer := f.addCustomer(t, enums.PricingModelMarket)
	product := f.addProduct(t, "Tomatoes")
	f.rates.rates[product.ID] = dec(rate)

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec(qty)}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	return customer, product, res.Order
}

func TestUpdatePricesRateChange(t *testing.T) {
	f := newFixture(t)
	customer, product, order := createMarketOrder(t, f, "10", "100")

	res, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("150")}},
		Actor:   staffActor(),
	})
	require.NoError(t, err)

	assert.True(t, res.Order.TotalAmount.Equal(dec("1500")))
	require.Len(t, res.Order.PriceChanges, 1)
	assert.True(t, res.Order.PriceChanges[0].OldRate.Equal(dec("100")))
	assert.True(t, res.Order.PriceChanges[0].NewRate.Equal(dec("150")))
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1500")))

	adjustments := f.ledger.entriesOfType(enums.LedgerEntryTypePriceAdjustment)
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].Delta.Equal(dec("500")))
}

func TestUpdatePricesCustomerCannotChangeRates(t *testing.T) {
	f := newFixture(t)
	customer, product, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("1")}},
		Actor:   ownerActor(customer),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	assert.True(t, reloaded.TotalAmount.Equal(dec("1000")), "rate must stay untouched")
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")), "no debt may be shed")
	assert.Empty(t, f.ledger.entriesOfType(enums.LedgerEntryTypePriceAdjustment))
}

func TestUpdatePricesConcurrentPaymentRejected(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")

	// A payment of 950 lands between our read and our guarded write; the
	// stale revision would drop the total below what was paid.
	f.repo.casBarrier = func() {
		f.repo.casBarrier = nil
		stored := f.repo.orders[order.ID]
		stored.PaidAmount = dec("950")
		stored.PaymentStatus = enums.PaymentStatusPartial
	}

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("90")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.ledger.entriesOfType(enums.LedgerEntryTypePriceAdjustment))
}

func TestUpdatePricesDuplicateProductRejected(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines: []LineInput{
			{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("150")},
			{ProductID: product.ID, Quantity: decimal.Zero},
		},
		Actor: staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdatePricesQuantityChangeRejected(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("7"), Rate: decPtr("150")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	assert.True(t, reloaded.TotalAmount.Equal(dec("1000")), "rejection must leave the order untouched")
}

func TestUpdatePricesContractLineLocked(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t, enums.PricingModelContract)
	product := f.addProduct(t, "Potatoes")
	customer.ContractPrices = types.ContractPriceMap{product.ID: dec("80")}

	res, err := f.svc.Create(context.Background(), CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("5")}},
		Actor:      staffActor(),
	})
	require.NoError(t, err)

	_, err = f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: res.Order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("5"), Rate: decPtr("90")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestUpdatePricesReconciledOrderLocked(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")

	now := time.Now().UTC()
	f.repo.orders[order.ID].ReconciledAt = &now

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("150")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestUpdatePricesCancelledOrderRejected(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")
	f.repo.orders[order.ID].Status = enums.OrderStatusCancelled

	_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("150")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestUpdatePricesLineAddAndRemove(t *testing.T) {
	f := newFixture(t)
	customer, product, order := createMarketOrder(t, f, "10", "100")
	onions := f.addProduct(t, "Onions")
	f.rates.rates[onions.ID] = dec("20")

	t.Run("customer cannot add lines", func(t *testing.T) {
		_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
			OrderID: order.ID,
			Lines:   []LineInput{{ProductID: onions.ID, Quantity: dec("5")}},
			Actor:   ownerActor(customer),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("staff adds a line", func(t *testing.T) {
		res, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
			OrderID: order.ID,
			Lines:   []LineInput{{ProductID: onions.ID, Quantity: dec("5")}},
			Actor:   staffActor(),
		})
		require.NoError(t, err)
		assert.Len(t, res.Order.Items, 2)
		assert.True(t, res.Order.TotalAmount.Equal(dec("1100")))
		assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1100")))
	})

	t.Run("quantity zero removes a line", func(t *testing.T) {
		res, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
			OrderID: order.ID,
			Lines:   []LineInput{{ProductID: onions.ID, Quantity: decimal.Zero}},
			Actor:   staffActor(),
		})
		require.NoError(t, err)
		assert.Len(t, res.Order.Items, 1)
		assert.Equal(t, product.ID, res.Order.Items[0].ProductID)
		assert.True(t, res.Order.TotalAmount.Equal(dec("1000")))
		assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")))
	})
}

func TestUpdatePricesPaidAmountGuard(t *testing.T) {
	f := newFixture(t)
	_, product, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("900"),
		Actor:      staffActor(),
	})
	require.NoError(t, err)

	// Dropping the rate to 80 would put the total below what was paid.
	_, err = f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("80")}},
		Actor:   staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdatePricesTrailEviction(t *testing.T) {
	f := newFixtureWithTrailLimit(t, 2)
	_, product, order := createMarketOrder(t, f, "1", "10")

	for _, rate := range []string{"11", "12", "13"} {
		_, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
			OrderID: order.ID,
			Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("1"), Rate: decPtr(rate)}},
			Actor:   staffActor(),
		})
		require.NoError(t, err)
	}

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	require.Len(t, reloaded.PriceChanges, 2, "oldest entries evicted beyond the cap")
	assert.True(t, reloaded.PriceChanges[0].NewRate.Equal(dec("12")))
	assert.True(t, reloaded.PriceChanges[1].NewRate.Equal(dec("13")))
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	customer, _, order := createMarketOrder(t, f, "10", "100")

	res, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("400"),
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPartial, res.Order.PaymentStatus)
	assert.True(t, res.Order.PaidAmount.Equal(dec("400")))
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("600")))

	res, err = f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("1000"),
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, res.Order.PaymentStatus)
	assert.True(t, f.ledger.balances[customer.ID].IsZero())
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("1000.01"),
		Actor:      staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("-1"),
		Actor:      staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRecordPaymentConcurrentPaymentRejected(t *testing.T) {
	f := newFixture(t)
	customer, _, order := createMarketOrder(t, f, "10", "100")

	// A competing payment of 600 commits between our read of paid_amount=0
	// and our guarded write of 400; absorbing both deltas would desync the
	// balance from the order row.
	f.repo.casBarrier = func() {
		f.repo.casBarrier = nil
		stored := f.repo.orders[order.ID]
		stored.PaidAmount = dec("600")
		stored.PaymentStatus = enums.PaymentStatusPartial
	}

	_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("400"),
		Actor:      staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// The loser leaves no trace: no payment entry, balance still the order
	// total from creation.
	assert.Empty(t, f.ledger.entriesOfType(enums.LedgerEntryTypePayment))
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")))

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	assert.True(t, reloaded.PaidAmount.Equal(dec("600")), "winner's amount survives")
}

func TestTransitionLifecycle(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	res, err := f.svc.TransitionStatus(context.Background(), TransitionInput{
		OrderID:   order.ID,
		NewStatus: enums.OrderStatusConfirmed,
		Actor:     staffActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, res.Order.Status)

	res, err = f.svc.TransitionStatus(context.Background(), TransitionInput{
		OrderID:   order.ID,
		NewStatus: enums.OrderStatusDelivered,
		Actor:     staffActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, res.Order.Status)
	assert.NotNil(t, res.Order.DeliveredAt)
}

func TestTransitionPendingToDeliveredRejected(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.TransitionStatus(context.Background(), TransitionInput{
		OrderID:   order.ID,
		NewStatus: enums.OrderStatusDelivered,
		Actor:     staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.DeliveredAt)
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	res, err := f.svc.TransitionStatus(context.Background(), TransitionInput{
		OrderID:   order.ID,
		NewStatus: enums.OrderStatusPending,
		Actor:     staffActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, res.Order.Status)
	assert.Empty(t, f.ledger.entriesOfType(enums.LedgerEntryTypeCancellationRestore))
}

func TestTransitionCASConflict(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	lost := false
	f.repo.casResult = &lost

	_, err := f.svc.TransitionStatus(context.Background(), TransitionInput{
		OrderID:   order.ID,
		NewStatus: enums.OrderStatusConfirmed,
		Actor:     staffActor(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelRestoresUnpaidRemainder(t *testing.T) {
	f := newFixture(t)
	customer, _, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("400"),
		Actor:      staffActor(),
	})
	require.NoError(t, err)

	res, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: staffActor()})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, res.Order.Status)
	assert.NotNil(t, res.Order.CancelledAt)
	require.NotNil(t, res.Order.CancelledBy)
	assert.Equal(t, "staff:ops-1", *res.Order.CancelledBy)
	assert.True(t, f.ledger.balances[customer.ID].IsZero())

	restores := f.ledger.entriesOfType(enums.LedgerEntryTypeCancellationRestore)
	require.Len(t, restores, 1)
	assert.True(t, restores[0].Delta.Equal(dec("-600")))
}

func TestCancelAlreadyCancelled(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	_, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: staffActor()})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: staffActor()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// The restore must have been applied exactly once.
	restores := f.ledger.entriesOfType(enums.LedgerEntryTypeCancellationRestore)
	assert.Len(t, restores, 1)
}

func TestCancelConcurrentPaymentRejected(t *testing.T) {
	f := newFixture(t)
	_, _, order := createMarketOrder(t, f, "10", "100")

	// A payment lands between the cancel's read and its guarded write; the
	// restore computed from the stale amounts would return too much credit.
	f.repo.casBarrier = func() {
		f.repo.casBarrier = nil
		stored := f.repo.orders[order.ID]
		stored.PaidAmount = dec("400")
		stored.PaymentStatus = enums.PaymentStatusPartial
	}

	_, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: staffActor()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.ledger.entriesOfType(enums.LedgerEntryTypeCancellationRestore))

	reloaded, err := f.svc.Get(context.Background(), order.ID, staffActor())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
}

func TestCustomerActorScopedToOwnOrders(t *testing.T) {
	f := newFixture(t)
	owner, _, order := createMarketOrder(t, f, "10", "100")
	stranger := f.addCustomer(t, enums.PricingModelMarket)

	t.Run("owner reads own order", func(t *testing.T) {
		got, err := f.svc.Get(context.Background(), order.ID, ownerActor(owner))
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
	})

	t.Run("stranger cannot read", func(t *testing.T) {
		_, err := f.svc.Get(context.Background(), order.ID, ownerActor(stranger))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("stranger cannot pay", func(t *testing.T) {
		_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
			OrderID:    order.ID,
			PaidAmount: dec("100"),
			Actor:      ownerActor(stranger),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		_, err := f.svc.Cancel(context.Background(), CancelInput{
			OrderID: order.ID,
			Actor:   ownerActor(stranger),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("customer cannot create for another customer", func(t *testing.T) {
		product := f.addProduct(t, "Onions")
		f.rates.rates[product.ID] = dec("20")
		_, err := f.svc.Create(context.Background(), CreateOrderInput{
			CustomerID: owner.ID,
			Lines:      []LineInput{{ProductID: product.ID, Quantity: dec("1")}},
			Actor:      ownerActor(stranger),
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})
}

func TestCreditConservationScenario(t *testing.T) {
	f := newFixture(t)
	customer, product, order := createMarketOrder(t, f, "10", "100")
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1000")))

	_, err := f.svc.RecordPayment(context.Background(), RecordPaymentInput{
		OrderID:    order.ID,
		PaidAmount: dec("400"),
		Actor:      staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("600")))

	res, err := f.svc.UpdatePrices(context.Background(), UpdatePricesInput{
		OrderID: order.ID,
		Lines:   []LineInput{{ProductID: product.ID, Quantity: dec("10"), Rate: decPtr("150")}},
		Actor:   staffActor(),
	})
	require.NoError(t, err)
	assert.True(t, res.Order.TotalAmount.Equal(dec("1500")))
	assert.Equal(t, enums.PaymentStatusPartial, res.Order.PaymentStatus)
	assert.True(t, f.ledger.balances[customer.ID].Equal(dec("1100")))

	_, err = f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, Actor: staffActor()})
	require.NoError(t, err)
	assert.True(t, f.ledger.balances[customer.ID].IsZero(),
		"credit returns to its pre-order level, never negative")
}

func TestListScopesCustomerActorsToOwnOrders(t *testing.T) {
	f := newFixture(t)
	customer, _, _ := createMarketOrder(t, f, "10", "100")

	otherID := uuid.New()
	list, err := f.svc.List(context.Background(), ListInput{
		Filters: ListFilters{CustomerID: &otherID},
		Actor:   Actor{ID: customer.ID.String(), Role: enums.ActorRoleCustomer},
	})
	require.NoError(t, err)

	// The submitted filter is overridden with the caller's own id.
	require.NotNil(t, f.repo.lastListFilters.CustomerID)
	assert.Equal(t, customer.ID, *f.repo.lastListFilters.CustomerID)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, customer.ID, list.Orders[0].CustomerID)
}

func TestListRejectsCustomerActorWithOpaqueID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.List(context.Background(), ListInput{Actor: customerActor()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestListStaffFiltersPassThrough(t *testing.T) {
	f := newFixture(t)
	createMarketOrder(t, f, "10", "100")

	pending := enums.OrderStatusPending
	list, err := f.svc.List(context.Background(), ListInput{
		Filters: ListFilters{Status: &pending},
		Actor:   staffActor(),
	})
	require.NoError(t, err)
	assert.Nil(t, f.repo.lastListFilters.CustomerID)
	assert.Len(t, list.Orders, 1)
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	require.Error(t, err)
}
