package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[HandleEventMessage]         = (*HandleEventCommand)(nil)
	_ gocmd.Commander[EnqueueNotificationMessage] = (*EnqueueNotificationCommand)(nil)
	_ gocmd.Commander[DispatchPendingMessage]     = (*DispatchPendingCommand)(nil)
)
