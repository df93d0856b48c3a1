// Package app wires configuration, storage, services, and the HTTP server
// into one process and owns its start/stop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"schedhub/internal/activity"
	"schedhub/internal/config"
	"schedhub/internal/docs"
	"schedhub/internal/httpapi"
	"schedhub/internal/janitor"
	"schedhub/internal/plan"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store

	plans     *plan.Service
	expander  *activity.Expander
	lifecycle *activity.Controller
	docs      *docs.Service
	jan       *janitor.Service

	api *httpapi.Server
	srv *http.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := cfg.Storage.BusyTimeoutDuration()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	plans := plan.NewService(store, log.With(logx.String("comp", "plans")))
	expander := activity.NewExpander(store, activity.Config{
		DefaultWindowDays:      cfg.Scheduling.DefaultWindowDays,
		MaxWindowDays:          cfg.Scheduling.MaxWindowDays,
		MaxBackfillPerSchedule: cfg.Scheduling.MaxBackfillPerSchedule,
		MaxTotalInstances:      cfg.Scheduling.MaxTotalInstances,
	}, log.With(logx.String("comp", "expander")))
	lifecycle := activity.NewController(store, log.With(logx.String("comp", "lifecycle")))
	docSvc := docs.NewService(store, log.With(logx.String("comp", "docs")))
	jan := janitor.New(janitor.Config{
		Enabled:  cfg.Janitor.Enabled,
		Spec:     cfg.Janitor.Spec,
		Timezone: cfg.Janitor.Timezone,
	}, store, log.With(logx.String("comp", "janitor")))

	api := httpapi.New(httpapi.Config{
		Listen:         cfg.Server.Listen,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, store, plans, expander, lifecycle, docSvc, log.With(logx.String("comp", "http")))

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		plans:     plans,
		expander:  expander,
		lifecycle: lifecycle,
		docs:      docSvc,
		jan:       jan,
		api:       api,
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	if err := a.jan.Start(a.sup.Context()); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	a.srv = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.sup.Go("http.serve", func(context.Context) error {
		err := a.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest queued config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, cfg, newCfg)
				cfg = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		err := a.cfgm.Watch(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("app started", logx.String("listen", cfg.Server.Listen))
	return nil
}

// applyConfig pushes a reloaded config into the running services. Listen
// address and storage settings are bound at startup; changing them needs a
// restart, which is logged rather than silently ignored.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   next.Log.Level,
		Console: next.Log.Console,
		File: logx.FileConfig{
			Enabled: next.Log.File.Enabled,
			Path:    next.Log.File.Path,
		},
	})

	a.jan.Apply(ctx, janitor.Config{
		Enabled:  next.Janitor.Enabled,
		Spec:     next.Janitor.Spec,
		Timezone: next.Janitor.Timezone,
	})

	a.expander.Apply(activity.Config{
		DefaultWindowDays:      next.Scheduling.DefaultWindowDays,
		MaxWindowDays:          next.Scheduling.MaxWindowDays,
		MaxBackfillPerSchedule: next.Scheduling.MaxBackfillPerSchedule,
		MaxTotalInstances:      next.Scheduling.MaxTotalInstances,
	})

	if prev != nil {
		if next.Server.Listen != prev.Server.Listen {
			a.log.Warn("server.listen changed; restart required to take effect",
				logx.String("listen", next.Server.Listen))
		}
		if next.Storage != prev.Storage {
			a.log.Warn("storage config changed; restart required to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.srv != nil {
		step("http", 5*time.Second, a.srv.Shutdown)
	}
	step("janitor", 2*time.Second, func(c context.Context) error { a.jan.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
