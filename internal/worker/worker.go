// Package worker dispatches pending generations to the provider.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/provider"
	"github.com/pixelmint/pixelmint-api/internal/repository"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// Worker polls for pending generations and submits them to the provider.
// Results come back asynchronously over the provider webhook; the worker only
// handles dispatch and the stale-processing sweep.
type Worker struct {
	genRepo       repository.GenerationRepository
	generationSvc *service.GenerationService
	provider      provider.Client
	pollInterval  time.Duration
	concurrency   int
	sweepInterval time.Duration
	staleAge      time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval  time.Duration
	Concurrency   int
	SweepInterval time.Duration
	StaleAge      time.Duration
}

// New creates a new worker.
func New(
	genRepo repository.GenerationRepository,
	generationSvc *service.GenerationService,
	providerClient provider.Client,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.StaleAge == 0 {
		cfg.StaleAge = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		genRepo:       genRepo,
		generationSvc: generationSvc,
		provider:      providerClient,
		pollInterval:  cfg.PollInterval,
		concurrency:   cfg.Concurrency,
		sweepInterval: cfg.SweepInterval,
		staleAge:      cfg.StaleAge,
		stop:          make(chan struct{}),
		logger:        logger.With("component", "worker"),
	}
}

// Start begins dispatching generations.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runDispatcher(ctx, i)
	}

	w.wg.Add(1)
	go w.runSweeper(ctx)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runDispatcher(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatchNext(ctx, workerID)
		}
	}
}

func (w *Worker) runSweeper(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.generationSvc.SweepStaleProcessing(ctx, w.staleAge); err != nil {
				w.logger.Error("stale sweep failed", "error", err)
			}
		}
	}
}

// dispatchNext claims the oldest pending generation and submits it. The claim
// moves the row to processing, so two dispatchers never pick up the same one.
func (w *Worker) dispatchNext(ctx context.Context, workerID int) {
	gen, err := w.genRepo.ClaimPending(ctx)
	if err != nil {
		w.logger.Error("failed to claim generation", "worker_id", workerID, "error", err)
		return
	}
	if gen == nil {
		return
	}

	w.logger.Info("dispatching generation",
		"worker_id", workerID,
		"generation_id", gen.ID,
		"model", gen.Model,
		"retry_count", gen.RetryCount,
	)

	var params models.GenerationParams
	if err := json.Unmarshal([]byte(gen.ParamsJSON), &params); err != nil {
		w.failDispatch(ctx, gen, "invalid generation parameters")
		return
	}

	prediction, err := w.provider.CreatePrediction(ctx, provider.CreatePredictionRequest{
		Model: gen.Model,
		Input: params,
	})
	if err != nil {
		w.logger.Error("provider submission failed",
			"generation_id", gen.ID,
			"model", gen.Model,
			"error", err,
		)
		w.failDispatch(ctx, gen, "provider submission failed")
		return
	}

	if err := w.genRepo.SetExternalID(ctx, gen.ID, prediction.ID); err != nil {
		// The prediction is running but we lost the link to it; the stale
		// sweep will eventually fail the generation.
		w.logger.Error("failed to record prediction id",
			"generation_id", gen.ID,
			"prediction_id", prediction.ID,
			"error", err,
		)
		return
	}

	w.logger.Info("dispatched generation",
		"generation_id", gen.ID,
		"prediction_id", prediction.ID,
	)
}

func (w *Worker) failDispatch(ctx context.Context, gen *models.Generation, reason string) {
	if err := w.generationSvc.FailDispatch(ctx, gen, reason); err != nil {
		w.logger.Error("failed to mark generation failed", "generation_id", gen.ID, "error", err)
	}
}
