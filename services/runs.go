package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autolist/models"
	"autolist/storage"
)

// runTracker does the best-effort EngineRun bookkeeping shared by both
// services. Nothing here may fail a run.
type runTracker struct {
	runs     storage.RunStore
	archiver storage.RunArchiver
	logger   *zap.Logger
	now      func() time.Time
}

func newRunTracker(runs storage.RunStore, archiver storage.RunArchiver, logger *zap.Logger, now func() time.Time) *runTracker {
	if archiver == nil {
		archiver = storage.NoOpArchiver{}
	}
	return &runTracker{runs: runs, archiver: archiver, logger: logger, now: now}
}

func (t *runTracker) start(ctx context.Context, kind models.RunKind, params any) *models.EngineRun {
	run := &models.EngineRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.RunStatusRunning,
		StartedAt: t.now(),
	}
	if raw, err := json.Marshal(params); err == nil {
		run.Params = raw
	}

	if err := t.runs.CreateRun(ctx, run); err != nil {
		t.logger.Warn("Failed to record run start", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	return run
}

// finish closes the run record and archives report. A context that is
// already done still gets its bookkeeping through a detached context.
func (t *runTracker) finish(ctx context.Context, run *models.EngineRun, report any, runErr error) {
	ctx = context.WithoutCancel(ctx)

	finished := t.now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}
	if raw, err := json.Marshal(report); err == nil {
		run.Stats = raw
	}

	if err := t.runs.FinishRun(ctx, run); err != nil {
		t.logger.Warn("Failed to record run finish", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	if err := t.archiver.Archive(ctx, run, report); err != nil {
		t.logger.Warn("Failed to archive run report", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
