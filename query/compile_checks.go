package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

var (
	_ gocmd.Querier[GetEventMessage, core.Event]               = (*GetEventQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription] = (*GetSubscriptionQuery)(nil)
	_ gocmd.Querier[GetDeliveryMessage, core.Delivery]         = (*GetDeliveryQuery)(nil)
	_ gocmd.Querier[ListDeliveriesMessage, core.DeliveryPage]  = (*ListDeliveriesQuery)(nil)
)
