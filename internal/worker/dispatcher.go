package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"extraction-worker/internal/models"
	"extraction-worker/internal/queue"
)

// NamespacedDispatcher pushes jobs tagged with one namespace. Several
// dispatchers (one per tenant) can share a queue and a worker; the
// namespace travels on the job and reaches the handler factory at pop
// time. Queue identity governs polling and locking scope, namespace
// governs handler construction scope; the two stay separate fields.
type NamespacedDispatcher struct {
	namespace  string
	queueName  string
	store      queue.JobStore
	lockWindow time.Duration
}

// NewNamespacedDispatcher binds a dispatcher to a (namespace, queue, store)
// triple. lockWindow is stamped on every dispatched job.
func NewNamespacedDispatcher(namespace, queueName string, store queue.JobStore, lockWindow time.Duration) *NamespacedDispatcher {
	return &NamespacedDispatcher{
		namespace:  namespace,
		queueName:  queueName,
		store:      store,
		lockWindow: lockWindow,
	}
}

// Dispatch marshals params and pushes a job for the named handler.
func (d *NamespacedDispatcher) Dispatch(ctx context.Context, name string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params for %s: %w", name, err)
	}
	return d.store.PushJob(ctx, d.queueName, name, d.namespace, raw, models.JobOptions{
		LockWindow: d.lockWindow,
	})
}

// Namespace returns the namespace this dispatcher stamps on jobs.
func (d *NamespacedDispatcher) Namespace() string {
	return d.namespace
}
