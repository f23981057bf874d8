package sequence

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"gorm.io/gorm"
)

// OrderCounterPrefix scopes the order-number counters. Each year-month gets a
// distinct counter name, so the sequence resets implicitly per period.
const OrderCounterPrefix = "orders"

// Generator issues strictly increasing integers per named counter, safe under
// concurrent callers across processes.
type Generator interface {
	WithTx(tx *gorm.DB) Generator
	Next(ctx context.Context, counterName string) (int64, error)
}

type generator struct {
	db *gorm.DB
}

// NewGenerator builds a durable counter generator bound to the provided DB.
func NewGenerator(db *gorm.DB) Generator {
	return &generator{db: db}
}

func (g *generator) WithTx(tx *gorm.DB) Generator {
	if tx == nil {
		return g
	}
	return &generator{db: tx}
}

// Next reserves and returns the next value for counterName with a single
// atomic upsert. A failure is a hard failure; callers must never fabricate a
// number.
func (g *generator) Next(ctx context.Context, counterName string) (int64, error) {
	if counterName == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "counter name required")
	}

	var value int64
	err := g.db.WithContext(ctx).Raw(`
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, counterName).Scan(&value).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment counter")
	}
	return value, nil
}

// OrderCounterName returns the period-scoped counter name for order numbers.
func OrderCounterName(at time.Time) string {
	return fmt.Sprintf("%s:%s", OrderCounterPrefix, at.Format("0601"))
}

// FormatOrderNumber renders an order number as ORD + yy + mm + 4-digit seq.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD%s%04d", at.Format("0601"), seq)
}
