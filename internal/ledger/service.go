package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	"github.com/mandiflow/produce-backend/pkg/money"
)

// Service applies signed credit movements. Every change to the cached
// customer balance goes through Apply, which also writes an immutable entry;
// the balance and the entry log therefore stay reconcilable.
type Service interface {
	Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.LedgerEntry, error)
	EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	EntriesForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LedgerEntry, error)
}

// ApplyInput captures one balance movement.
type ApplyInput struct {
	CustomerID uuid.UUID
	OrderID    uuid.UUID
	Type       enums.LedgerEntryType
	Delta      decimal.Decimal
	Actor      string
	Metadata   json.RawMessage
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.LedgerEntry, error) {
	if input.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("customer id is required")
	}
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger entry type %q", input.Type)
	}
	if input.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	repo := s.repo.WithTx(tx)
	delta := money.Round2(input.Delta)

	if err := repo.ApplyDelta(ctx, input.CustomerID, delta); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		CustomerID: input.CustomerID,
		OrderID:    input.OrderID,
		Type:       input.Type,
		Amount:     delta,
		Actor:      input.Actor,
		Metadata:   input.Metadata,
	}
	if err := repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) EntriesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}

func (s *service) EntriesForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.LedgerEntry, error) {
	if customerID == uuid.Nil {
		return nil, fmt.Errorf("customer id is required")
	}
	return s.repo.ListByCustomerID(ctx, customerID)
}
