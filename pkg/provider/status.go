package provider

import (
	"slices"
	"strings"
)

// Remote stack statuses the orchestrator branches on. The remote system
// reports many more; anything ending in _IN_PROGRESS is considered
// non-terminal.
const (
	StatusCreateInProgress = "CREATE_IN_PROGRESS"
	StatusCreateComplete   = "CREATE_COMPLETE"
	StatusCreateFailed     = "CREATE_FAILED"

	StatusUpdateInProgress        = "UPDATE_IN_PROGRESS"
	StatusUpdateCleanupInProgress = "UPDATE_COMPLETE_CLEANUP_IN_PROGRESS"
	StatusUpdateComplete          = "UPDATE_COMPLETE"

	StatusDeleteInProgress = "DELETE_IN_PROGRESS"
	StatusDeleteComplete   = "DELETE_COMPLETE"

	StatusRollbackInProgress = "ROLLBACK_IN_PROGRESS"
	StatusRollbackComplete   = "ROLLBACK_COMPLETE"

	// StatusGone is the local sentinel for "the remote system no longer
	// knows this stack at all", reported when a describe or event call
	// fails with a does-not-exist error mid-watch.
	StatusGone = "STACK_GONE"
)

// In-progress status sets passed to the event watcher by each operation.
var (
	CreateInProgressStatuses = []string{StatusCreateInProgress}
	UpdateInProgressStatuses = []string{StatusUpdateInProgress, StatusUpdateCleanupInProgress}
	DeleteInProgressStatuses = []string{StatusDeleteInProgress}
)

// InProgress reports whether the status belongs to the *_IN_PROGRESS
// family, i.e. the remote operation has not reached a terminal state.
func InProgress(status string) bool {
	return strings.HasSuffix(status, "_IN_PROGRESS")
}

// Deleted reports whether the status marks a stack as logically deleted.
func Deleted(status string) bool {
	return status == StatusDeleteComplete || status == StatusGone
}

// StatusIn reports whether status is a member of the given set.
func StatusIn(status string, set []string) bool {
	return slices.Contains(set, status)
}
