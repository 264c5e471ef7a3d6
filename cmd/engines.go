package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/worker"
)

// newEngine starts inference engine id. Tests replace it with a fake.
var newEngine = func(ctx context.Context, id int, cfg *config.Config) (worker.Engine, error) {
	if cfg.Worker.InferenceURL != "" {
		e := worker.NewHTTPEngine(cfg.Worker.InferenceURL, cfg.GetReadTimeout())
		if err := e.CheckHealth(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("inference service %s: %w", cfg.Worker.InferenceURL, err)
		}
		return e, nil
	}
	return worker.NewPythonWorker(ctx, id, worker.Config{
		Python:       cfg.Worker.Python,
		Script:       cfg.Worker.Script,
		PoseModel:    cfg.Worker.PoseModel,
		FeatureModel: cfg.Worker.FeatureModel,
		ReadTimeout:  cfg.GetReadTimeout(),
	})
}

// startEngines starts n engines. On failure every engine already started is closed.
func startEngines(ctx context.Context, n int, cfg *config.Config) ([]worker.Engine, error) {
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", n)
	engines := make([]worker.Engine, 0, n)
	for i := 0; i < n; i++ {
		e, err := newEngine(ctx, i, cfg)
		if err != nil {
			closeEngines(engines)
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

func closeEngines(engines []worker.Engine) {
	for _, e := range engines {
		e.Close()
	}
}
