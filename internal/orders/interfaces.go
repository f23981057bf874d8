package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	// UpdateCAS applies updates only while every observed column still holds
	// the given value; it reports whether a row changed. Callers guard the
	// columns their deltas were computed from.
	UpdateCAS(ctx context.Context, orderID uuid.UUID, observed map[string]any, updates map[string]any) (bool, error)
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	UpdateLineItem(ctx context.Context, lineItemID uuid.UUID, updates map[string]any) error
	DeleteLineItems(ctx context.Context, ids []uuid.UUID) error
}
