package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
)

// Repository persists ledger entries and applies balance deltas.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ApplyDelta(ctx context.Context, customerID uuid.UUID, delta decimal.Decimal) error
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	ListByCustomerID(ctx context.Context, customerID uuid.UUID) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ApplyDelta increments the cached balance in one statement, clamping the
// result at zero. No read-modify-write pair, so concurrent orders for the
// same customer cannot lose updates.
func (r *repository) ApplyDelta(ctx context.Context, customerID uuid.UUID, delta decimal.Decimal) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE customers
		SET current_credit = CASE
			WHEN current_credit + ? < 0 THEN 0
			ELSE current_credit + ?
		END,
		updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, delta, delta, customerID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "apply credit delta")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger entry")
	}
	return nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries by order")
	}
	return entries, nil
}

func (r *repository) ListByCustomerID(ctx context.Context, customerID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries by customer")
	}
	return entries, nil
}
