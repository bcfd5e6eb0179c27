package worker

import (
	"context"
	"encoding/json"
	"fmt"
)

// HeartbeatFunc renews the lock of the job currently being handled. It is
// handed to the handler as a capability so a handler can only ever renew
// its own job.
type HeartbeatFunc func(ctx context.Context) error

// Dispatchable is a job handler. Long-running handlers should call the
// heartbeat periodically: the initial lock window does not bound handler
// duration, the renewals do.
type Dispatchable interface {
	HandleDispatch(ctx context.Context, heartbeat HeartbeatFunc, params json.RawMessage) error
}

// DispatchableFunc adapts a function to the Dispatchable interface.
type DispatchableFunc func(ctx context.Context, heartbeat HeartbeatFunc, params json.RawMessage) error

func (f DispatchableFunc) HandleDispatch(ctx context.Context, heartbeat HeartbeatFunc, params json.RawMessage) error {
	return f(ctx, heartbeat, params)
}

// Factory builds a handler instance scoped to the job's namespace. This is
// how tenant-scoped resources reach handlers on a shared queue.
type Factory func(ctx context.Context, namespace string) (Dispatchable, error)

// UnregisteredJobError reports a picked job whose name has no registered
// factory. The job is left in the store so it can be retried once a
// handler is registered, or alerted on.
type UnregisteredJobError struct {
	Name string
}

func (e *UnregisteredJobError) Error() string {
	return fmt.Sprintf("no handler registered for job %q", e.Name)
}
