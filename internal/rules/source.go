package rules

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
)

const rulesCacheKey = "fraud_rules"

// Store is the persistence the rule source reads from.
type Store interface {
	ListFraudRules(ctx context.Context, orgID string) ([]*domain.FraudRule, error)
}

// Source serves each organization's enabled rules in priority order from
// the cache, loading them from the store on a miss. Concurrent misses for
// one organization share a single store read.
type Source struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewSource creates a rule source. cache may be nil to always read the store.
func NewSource(store Store, c domain.Cache, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Source{store: store, cache: c, ttl: ttl}
}

// Rules returns the enabled rules of orgID.
func (s *Source) Rules(ctx context.Context, orgID string) ([]*domain.FraudRule, error) {
	if s.cache != nil {
		var cached []*domain.FraudRule
		hit, err := cache.GetJSON(ctx, s.cache, orgID, rulesCacheKey, &cached)
		if err != nil {
			slog.Warn("rule cache read failed", "org_id", orgID, "error", err)
		} else if hit {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(orgID, func() (any, error) {
		rules, err := s.store.ListFraudRules(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := cache.SetJSON(ctx, s.cache, orgID, rulesCacheKey, rules, s.ttl); err != nil {
				slog.Warn("rule cache write failed", "org_id", orgID, "error", err)
			}
		}
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.FraudRule), nil
}

// Invalidate drops the cached rules of orgID after a write.
func (s *Source) Invalidate(ctx context.Context, orgID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, orgID, rulesCacheKey)
}
