package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/logger"
)

// SessionArchiver is the part of the gorm store the sweeper works with.
type SessionArchiver interface {
	FindIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)
	FindFinishedSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	ArchiveSession(ctx context.Context, sessionID string) error
}

type SweeperConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ArchiveAfter time.Duration `mapstructure:"archive_after"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// Sweeper ends battles nobody writes to anymore as a lost connection and
// moves finished battles to the archive.
type Sweeper struct {
	store     SessionArchiver
	engine    *battle.Engine
	cfg       SweeperConfig
	scheduler gocron.Scheduler
	now       func() time.Time
}

func NewSweeper(store SessionArchiver, engine *battle.Engine, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{store: store, engine: engine, cfg: cfg, now: time.Now}
}

// Start schedules Sweep every interval.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			escalated, archived, err := s.Sweep(ctx)
			if err != nil {
				logger.Log.Errorf("[Sweeper] sweep failed: %v", err)
				return
			}
			if escalated > 0 || archived > 0 {
				logger.Log.Infof("[Sweeper] %d idle battle(s) ended, %d archived", escalated, archived)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	s.scheduler = sched
	sched.Start()
	return nil
}

func (s *Sweeper) Shutdown() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// Sweep runs one pass. Disabled steps have a zero duration.
func (s *Sweeper) Sweep(ctx context.Context) (escalated, archived int, err error) {
	now := s.now()

	if s.cfg.IdleTimeout > 0 {
		ids, err := s.store.FindIdleSessions(ctx, now.Add(-s.cfg.IdleTimeout))
		if err != nil {
			return escalated, archived, err
		}
		for _, id := range ids {
			if err := s.engine.Abandon(ctx, id); err != nil {
				logger.Log.Warnf("[Sweeper] failed to end idle session %s: %v", id, err)
				continue
			}
			escalated++
		}
	}

	if s.cfg.ArchiveAfter > 0 {
		ids, err := s.store.FindFinishedSessions(ctx, now.Add(-s.cfg.ArchiveAfter), s.cfg.BatchSize)
		if err != nil {
			return escalated, archived, err
		}
		for _, id := range ids {
			if err := s.store.ArchiveSession(ctx, id); err != nil {
				logger.Log.Warnf("[Sweeper] failed to archive session %s: %v", id, err)
				continue
			}
			archived++
		}
	}
	return escalated, archived, nil
}
