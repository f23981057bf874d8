package rates

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
)

// Repository reads published market rates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// LatestByProductIDs returns the most recently effective rate per product
	// in a single query. Products without any published rate are absent.
	LatestByProductIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a rates repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LatestByProductIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	result := make(map[uuid.UUID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []models.MarketRate
	err := r.db.WithContext(ctx).
		Where("product_id IN ?", ids).
		Order("effective_at DESC, created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load market rates")
	}

	// Rows arrive newest first; keep the first rate seen per product.
	for _, row := range rows {
		if _, seen := result[row.ProductID]; !seen {
			result[row.ProductID] = row.Rate
		}
	}
	return result, nil
}
