package devops

// Environment release statuses reported by the release service.
const (
	EnvStatusCanceled           = "canceled"
	EnvStatusInProgress         = "inProgress"
	EnvStatusNotStarted         = "notStarted"
	EnvStatusPartiallySucceeded = "partiallySucceeded"
	EnvStatusQueued             = "queued"
	EnvStatusRejected           = "rejected"
	EnvStatusScheduled          = "scheduled"
	EnvStatusSucceeded          = "succeeded"
	EnvStatusUndefined          = "undefined"
)

// Approval statuses.
const (
	ApprovalStatusApproved   = "approved"
	ApprovalStatusCanceled   = "canceled"
	ApprovalStatusPending    = "pending"
	ApprovalStatusReassigned = "reassigned"
	ApprovalStatusRejected   = "rejected"
	ApprovalStatusSkipped    = "skipped"
	ApprovalStatusUndefined  = "undefined"
)
