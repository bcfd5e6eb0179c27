package models

import (
	"encoding/json"
	"time"
)

// JobOptions carries per-job queue behavior.
type JobOptions struct {
	// LockWindow is how long a pick or a heartbeat renewal holds the lock.
	LockWindow time.Duration `json:"lock_window"`
}

// Job is one unit of work persisted in the job store.
//
// A job is visible to pickers only while LockedUntil <= now. Picking and
// renewing both set LockedUntil = now + LockWindow; nothing else mutates a
// job until it is deleted after successful handling.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Namespace   string          `json:"namespace"`
	Params      json.RawMessage `json:"params"`
	LockedUntil int64           `json:"locked_until"` // unix millis, 0 = unlocked
	CreatedAt   int64           `json:"created_at"`   // unix millis
	Options     JobOptions      `json:"options"`
}

// Locked reports whether the job lock is active at the given instant.
func (j Job) Locked(now time.Time) bool {
	return j.LockedUntil > now.UnixMilli()
}
