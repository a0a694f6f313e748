// Package maintenance runs low-frequency background jobs: a directory-store
// probe and a periodic dispatch counters summary.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaygate/internal/dispatch"
	"relaygate/internal/health"
	"relaygate/pkg/logx"
)

type Config struct {
	Enabled bool
	// ProbeSchedule is a cron spec or "@every <dur>".
	ProbeSchedule string
}

type Service struct {
	cfg      Config
	store    health.Prober
	pipeline *dispatch.Pipeline
	log      logx.Logger

	mu sync.Mutex
	c  *cron.Cron

	lastCounters dispatch.Counters
}

func New(cfg Config, store health.Prober, pipeline *dispatch.Pipeline, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, pipeline: pipeline, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.ProbeSchedule, func() { s.tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started", logx.String("schedule", s.cfg.ProbeSchedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (s *Service) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Ping(probeCtx); err != nil {
		s.log.Warn("directory probe failed", logx.Err(err))
	}

	cur := s.pipeline.Snapshot()
	s.mu.Lock()
	prev := s.lastCounters
	s.lastCounters = cur
	s.mu.Unlock()

	delivered := cur.Delivered - prev.Delivered
	rejected := cur.Rejected - prev.Rejected
	aborted := cur.Aborted - prev.Aborted
	if delivered == 0 && rejected == 0 && aborted == 0 {
		return
	}
	s.log.Info("dispatch summary",
		logx.Uint64("delivered", delivered),
		logx.Uint64("rejected", rejected),
		logx.Uint64("aborted", aborted))
}
