package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[PublishEventMessage]       = (*PublishEventCommand)(nil)
	_ gocmd.Commander[SubscribeMessage]          = (*SubscribeCommand)(nil)
	_ gocmd.Commander[CancelSubscriptionMessage] = (*CancelSubscriptionCommand)(nil)
	_ gocmd.Commander[ProcessDeliveriesMessage]  = (*ProcessDeliveriesCommand)(nil)
)
