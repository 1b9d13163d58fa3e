package sqlstore

import "github.com/goliatone/go-dispatch/core"

var (
	_ core.EventStore        = (*EventStore)(nil)
	_ core.SubscriptionStore = (*SubscriptionStore)(nil)
	_ SubscriptionSource     = (*SubscriptionStore)(nil)
	_ core.SubscriptionStore = (*CachedSubscriptionStore)(nil)
	_ core.DeliveryStore     = (*DeliveryStore)(nil)
	_ core.DeliveryReader    = (*DeliveryStore)(nil)
)
