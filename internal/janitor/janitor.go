// Package janitor runs periodic storage maintenance on a cron schedule:
// SQLite WAL checkpointing, query-planner statistics refresh, and a row-count
// log line for operator visibility.
package janitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

type Config struct {
	Enabled  bool
	Spec     string // cron spec or descriptor, e.g. "@hourly"
	Timezone string // IANA TZ; empty means local
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	log   logx.Logger

	c       *cron.Cron
	entryID cron.EntryID
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = "@hourly"
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid janitor timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	c := cron.New(cron.WithLocation(loc))
	id, err := c.AddFunc(s.cfg.Spec, func() { s.run(context.Background()) })
	if err != nil {
		return err
	}
	s.c = c
	s.entryID = id
	c.Start()
	s.log.Info("janitor started", logx.String("spec", s.cfg.Spec), logx.String("tz", loc.String()))
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
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("janitor stopped")
}

// Apply restarts the cron entry when the spec or enablement changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	same := cfg == s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if same {
		return
	}
	if running {
		s.Stop(ctx)
	}
	if err := s.Start(ctx); err != nil {
		s.log.Error("janitor restart failed", logx.Err(err))
	}
}

func (s *Service) run(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.store.Maintenance(ctx); err != nil {
		s.log.Error("storage maintenance failed", logx.Err(err))
		return
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Error("storage stats failed", logx.Err(err))
		return
	}
	s.log.Info("maintenance pass",
		logx.Int64("plans", st.Plans),
		logx.Int64("activities", st.Activities),
		logx.Int64("docs", st.Docs),
		logx.Duration("took", time.Since(start)))
}
