package queue

import (
	"context"
	"encoding/json"

	"extraction-worker/internal/models"
)

// JobStore is the durable, lockable queue every producer and worker goes
// through. Implementations must make PickJob a single atomic
// check-and-update: no two concurrent pickers may receive the same job
// while its lock is active.
type JobStore interface {
	// PushJob inserts an unlocked job and returns its id.
	PushJob(ctx context.Context, queue, name, namespace string, params json.RawMessage, opts models.JobOptions) (string, error)

	// PickJob returns the oldest unlocked job in the queue with its lock
	// taken for the job's lock window, or nil if none is available.
	PickJob(ctx context.Context, queue string) (*models.Job, error)

	// RenewJobLock extends the lock to now + lock window. The extension is
	// always measured from now, not from the previous deadline.
	RenewJobLock(ctx context.Context, job *models.Job) error

	// DeleteJob removes the job permanently.
	DeleteJob(ctx context.Context, job *models.Job) error
}
