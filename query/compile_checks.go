package query

import (
	"github.com/goliatone/go-billing-hooks/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetJobStatusMessage, core.JobStatusView]        = (*GetJobStatusQuery)(nil)
	_ gocmd.Querier[ListJobAttemptsMessage, []core.DeliveryOutcome] = (*ListJobAttemptsQuery)(nil)
)
