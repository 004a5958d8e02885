package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"autolist/config"
	"autolist/services"
)

type Normalizer interface {
	Run(ctx context.Context, req services.NormalizeRequest) (*services.NormalizeResult, error)
}

type Detector interface {
	Run(ctx context.Context, req services.DetectRequest) (*services.DetectResult, error)
}

// Scheduler is the external trigger for the on-demand runs. Cron entries
// take precedence; otherwise an interval runs normalize then detect.
type Scheduler struct {
	cfg        config.SchedulerConfig
	normalizer Normalizer
	detector   Detector
	logger     *zap.Logger

	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // interval loop
}

func New(cfg config.SchedulerConfig, normalizer Normalizer, detector Detector, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		normalizer: normalizer,
		detector:   detector,
		logger:     logger.Named("scheduler"),
		cron:       cron.New(),
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.NormalizeCron != "" || s.cfg.DetectCron != "" {
		if s.cfg.NormalizeCron != "" {
			s.logger.Info("Scheduling normalization", zap.String("cron", s.cfg.NormalizeCron))
			if _, err := s.cron.AddFunc(s.cfg.NormalizeCron, func() { s.runNormalize(ctx) }); err != nil {
				return eris.Wrapf(err, "scheduler: invalid NORMALIZE_CRON %q", s.cfg.NormalizeCron)
			}
		}
		if s.cfg.DetectCron != "" {
			s.logger.Info("Scheduling detection", zap.String("cron", s.cfg.DetectCron))
			if _, err := s.cron.AddFunc(s.cfg.DetectCron, func() { s.runDetect(ctx) }); err != nil {
				return eris.Wrapf(err, "scheduler: invalid DETECT_CRON %q", s.cfg.DetectCron)
			}
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("Starting scheduler with interval", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.TriggerNow(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Info("No schedule configured, runs happen on demand only")
	}

	return nil
}

// Stop halts the schedule and waits for a running job to return, whether
// cron or interval started it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.wg.Wait()
	})
}

// TriggerNow runs normalization followed by detection, so freshly
// normalized listings are compared in the same cycle.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runNormalize(ctx)
	if ctx.Err() != nil {
		return
	}
	s.runDetect(ctx)
}

func (s *Scheduler) runNormalize(ctx context.Context) {
	res, err := s.normalizer.Run(ctx, services.NormalizeRequest{})
	if err != nil {
		s.logger.Error("Scheduled normalization failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled normalization done",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed))
}

func (s *Scheduler) runDetect(ctx context.Context) {
	res, err := s.detector.Run(ctx, services.DetectRequest{})
	if err != nil {
		s.logger.Error("Scheduled detection failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled detection done",
		zap.Int("comparisons", res.Comparisons), zap.Int("duplicates_found", res.DuplicatesFound))
}
