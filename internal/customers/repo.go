package customers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/types"
)

// Repository provides customer lookups and contract-price persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	// PersistContractPrices merges new locked rates into the customer's
	// contract map. Rates already present are never overwritten; only the
	// customer-management surface outside this core may change them.
	PersistContractPrices(ctx context.Context, customerID uuid.UUID, prices types.ContractPriceMap) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a customers repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	return &customer, nil
}

// persistRetries bounds the merge loop; each retry re-reads a fresh map.
const persistRetries = 3

func (r *repository) PersistContractPrices(ctx context.Context, customerID uuid.UUID, prices types.ContractPriceMap) error {
	if len(prices) == 0 {
		return nil
	}

	// The merge is a read-modify-write on the jsonb map, so the write is
	// conditioned on updated_at: a concurrent writer bumps it and forces a
	// re-read, which re-merges against the committed map. Established rates
	// survive either ordering because MergeNew never replaces existing keys.
	for attempt := 0; attempt < persistRetries; attempt++ {
		customer, err := r.FindByID(ctx, customerID)
		if err != nil {
			return err
		}

		merged := customer.ContractPrices.MergeNew(prices)
		res := r.db.WithContext(ctx).
			Model(&models.Customer{}).
			Where("id = ? AND updated_at = ?", customerID, customer.UpdatedAt).
			Update("contract_prices", merged)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "persist contract prices")
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "customer contract prices changed concurrently, retry")
}
