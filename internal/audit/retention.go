package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const pruneTimeout = 30 * time.Second

// Pruner trims the command log to a retention window on a fixed schedule.
type Pruner struct {
	log       *Log
	retention time.Duration
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// StartPruner runs one prune immediately and then every interval until Stop.
func StartPruner(l *Log, retention, interval time.Duration, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("audit retention must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating audit scheduler: %w", err)
	}
	p := &Pruner{log: l, retention: retention, logger: logger, scheduler: scheduler}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.prune),
		gocron.WithName("audit-prune"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("scheduling audit prune: %w", err)
	}
	scheduler.Start()
	return p, nil
}

func (p *Pruner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	removed, err := p.log.Prune(ctx, time.Now().Add(-p.retention))
	if err != nil {
		p.logger.Warn("audit prune failed", "error", err)
		return
	}
	if removed > 0 {
		p.logger.Info("audit log pruned", "removed", removed, "retention", p.retention)
	}
}

// Stop waits for a running prune to finish.
func (p *Pruner) Stop() error {
	return p.scheduler.Shutdown()
}
