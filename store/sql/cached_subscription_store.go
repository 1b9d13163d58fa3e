package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-dispatch/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const (
	subscriptionCacheKeyPrefix  = "go-dispatch::subscription::v1"
	activeSubscriptionsCacheKey = "go-dispatch::subscriptions_active::v1"
)

// SubscriptionSource is the write-through surface the cache wraps.
type SubscriptionSource interface {
	core.SubscriptionStore
	ListActiveSubscriptions(ctx context.Context) ([]core.Subscription, error)
}

// CachedSubscriptionStore layers a read cache over the SQL subscription
// store. The active set is fetched once per poll burst instead of once per
// event, and every write invalidates it.
type CachedSubscriptionStore struct {
	base  SubscriptionSource
	cache repositorycache.CacheService
}

func NewCachedSubscriptionStore(
	base SubscriptionSource,
	cacheService repositorycache.CacheService,
) (*CachedSubscriptionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscription store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscription cache service is required")
	}
	return &CachedSubscriptionStore{base: base, cache: cacheService}, nil
}

// SubscriptionCacheKey is the deterministic per-record key:
// go-dispatch::subscription::v1::<id> with the id URL-path escaped.
func SubscriptionCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: subscription id is required")
	}
	return subscriptionCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedSubscriptionStore) CreateSubscription(ctx context.Context, in core.CreateSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	created, err := s.base.CreateSubscription(ctx, in)
	if err != nil {
		return core.Subscription{}, err
	}
	if err := s.cache.Delete(ctx, activeSubscriptionsCacheKey); err != nil {
		return core.Subscription{}, err
	}
	return created, nil
}

func (s *CachedSubscriptionStore) GetSubscription(ctx context.Context, id string) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	cacheKey, err := SubscriptionCacheKey(id)
	if err != nil {
		return core.Subscription{}, err
	}
	subscription, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Subscription, error) {
		return s.base.GetSubscription(ctx, id)
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return subscription, nil
}

func (s *CachedSubscriptionStore) CancelSubscription(ctx context.Context, id string, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	if err := s.base.CancelSubscription(ctx, id, reason); err != nil {
		return err
	}
	cacheKey, err := SubscriptionCacheKey(id)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return err
	}
	return s.cache.Delete(ctx, activeSubscriptionsCacheKey)
}

// GetMatchingSubscriptions filters the cached active set against the
// event. The set is shared across events, so one cache entry serves every
// match during its lifetime.
func (s *CachedSubscriptionStore) GetMatchingSubscriptions(ctx context.Context, event core.Event) ([]core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	active, err := repositorycache.GetOrFetch(ctx, s.cache, activeSubscriptionsCacheKey, func(ctx context.Context) ([]core.Subscription, error) {
		return s.base.ListActiveSubscriptions(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Subscription, 0, len(active))
	for _, subscription := range active {
		if subscription.Filter.Matches(event) {
			out = append(out, subscription)
		}
	}
	return out, nil
}

var _ core.SubscriptionStore = (*CachedSubscriptionStore)(nil)
