package alert

import "backend-selfbell/internal/api"

type (
	Kind          = api.AlertKind
	Alert         = api.Alert
	RaiseRequest  = api.RaiseAlertRequest
	RaiseResponse = api.RaiseAlertResponse
)

const (
	KindSOS         = api.AlertSOS
	KindWalkTimeout = api.AlertWalkTimeout
)

const inboxLimit = 100
