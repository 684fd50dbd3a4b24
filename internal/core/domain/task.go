package domain

import "time"

// DeleteTransferTask schedules the deferred local deletion of a
// concluded transfer. At most one task exists per transfer; creating a
// new one supersedes the old.
type DeleteTransferTask struct {
	TaskID       int64
	UserID       int64
	TransferURI  string
	ScheduledFor time.Time
}
