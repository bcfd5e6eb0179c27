package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"extraction-worker/internal/taskmanager"
	"extraction-worker/internal/worker"
)

// Job names dispatched onto the extraction queue.
const (
	JobTrain   = "extraction_train"
	JobResults = "extraction_results"
)

// TrainParams is the payload of a train job.
type TrainParams struct {
	ExtractorID string `json:"extractorId"`
}

// EngineFactory builds an engine scoped to one tenant. The worker resolves
// it with the namespace of each picked job.
type EngineFactory func(ctx context.Context, tenant string) (*Engine, error)

// TrainFactory returns the worker factory for train jobs.
func TrainFactory(engines EngineFactory) worker.Factory {
	return func(ctx context.Context, namespace string) (worker.Dispatchable, error) {
		engine, err := engines(ctx, namespace)
		if err != nil {
			return nil, err
		}
		return worker.DispatchableFunc(func(ctx context.Context, heartbeat worker.HeartbeatFunc, params json.RawMessage) error {
			var p TrainParams
			if err := json.Unmarshal(params, &p); err != nil {
				return fmt.Errorf("bad train job params: %w", err)
			}
			_, err := engine.TrainModel(ctx, p.ExtractorID)
			return err
		}), nil
	}
}

// ResultsFactory returns the worker factory for result-callback jobs. The
// params are the task service's results message verbatim; the job's
// heartbeat keeps the lock alive across large batch ingestion.
func ResultsFactory(engines EngineFactory) worker.Factory {
	return func(ctx context.Context, namespace string) (worker.Dispatchable, error) {
		engine, err := engines(ctx, namespace)
		if err != nil {
			return nil, err
		}
		return worker.DispatchableFunc(func(ctx context.Context, heartbeat worker.HeartbeatFunc, params json.RawMessage) error {
			var msg taskmanager.ResultsMessage
			if err := json.Unmarshal(params, &msg); err != nil {
				return fmt.Errorf("bad results job params: %w", err)
			}
			return engine.ProcessResults(ctx, msg, heartbeat)
		}), nil
	}
}
