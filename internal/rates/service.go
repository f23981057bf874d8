package rates

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
	"github.com/mandiflow/produce-backend/pkg/redis"
)

// Service resolves the current market rate per product, consulting the cache
// before the database. Cache failures degrade to DB reads and never fail the
// lookup.
type Service interface {
	LatestByProductIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type service struct {
	repo  Repository
	cache redis.Cache
	ttl   time.Duration
	logg  *logger.Logger
}

// NewService wires the rate lookup with an optional cache. A nil cache is
// allowed; lookups then always hit the database.
func NewService(repo Repository, cache redis.Cache, ttl time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates service requires a repository")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates service requires a logger")
	}
	return &service{repo: repo, cache: cache, ttl: ttl, logg: logg}, nil
}

func (s *service) LatestByProductIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	result := make(map[uuid.UUID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missing := ids
	if s.cache != nil {
		missing = make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			raw, err := s.cache.Get(ctx, s.cache.MarketRateKey(id.String()))
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					logCtx := s.logg.WithFields(ctx, map[string]any{"product_id": id.String()})
					s.logg.Warn(logCtx, "market rate cache read failed")
				}
				missing = append(missing, id)
				continue
			}
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				missing = append(missing, id)
				continue
			}
			result[id] = rate
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := s.repo.LatestByProductIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, rate := range fresh {
		result[id] = rate
		if s.cache != nil {
			key := s.cache.MarketRateKey(id.String())
			if err := s.cache.Set(ctx, key, rate.String(), s.ttl); err != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{"product_id": id.String()})
				s.logg.Warn(logCtx, "market rate cache write failed")
			}
		}
	}
	return result, nil
}
