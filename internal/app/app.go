package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindd/internal/config"
	"remindd/internal/content"
	"remindd/internal/delivery"
	"remindd/internal/eventbus"
	"remindd/internal/metrics"
	"remindd/internal/reminder"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/storage"
	"remindd/internal/transport/httpapi"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// sections that only take effect after a restart.
var restartSections = map[string]bool{
	"storage":  true,
	"trigger":  true,
	"delivery": true,
	"http":     true,
	"reminder": true,
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	content   *content.Service
	local     *trigger.Local // nil when trigger.driver=http
	delivery  *delivery.Service
	reminders *reminder.Service
	metrics   *metrics.Metrics
	http      *httpapi.Server // nil when http.enabled=false
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a, err := build(cfg, store, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	log.Info("storage opened", logx.String("driver", sc.Driver))
	return a, nil
}

// build wires every component from cfg around an open store.
func build(cfg *config.Config, store storage.Store, bus eventbus.Bus, log logx.Logger) (*App, error) {
	a := &App{
		log:   log.With(logx.String("comp", "app")),
		bus:   bus,
		store: store,
	}

	provider, cc, err := mapContentConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.content = content.NewService(provider, cc, bus, log.With(logx.String("comp", "content")))

	var triggers trigger.Client
	if isLocalTrigger(cfg) {
		dc, err := mapDeliveryConfig(cfg)
		if err != nil {
			return nil, err
		}
		dlog := log.With(logx.String("comp", "delivery"))
		sink, err := newDeliverySink(cfg, dlog)
		if err != nil {
			return nil, fmt.Errorf("delivery sink: %w", err)
		}
		a.delivery = delivery.New(dc, sink, dlog, bus)

		lc, err := mapLocalTriggerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.local = trigger.NewLocal(lc, store, a.delivery, bus, log.With(logx.String("comp", "trigger")))
		triggers = a.local
	} else {
		hc, err := mapHTTPTriggerConfig(cfg)
		if err != nil {
			return nil, err
		}
		triggers = trigger.NewHTTPClient(hc, nil)
	}

	rc, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.reminders = reminder.NewService(store, triggers, a.content, rc,
		reminder.WithLogger(log.With(logx.String("comp", "reminder"))),
		reminder.WithBus(bus),
	)

	a.metrics = metrics.New(bus)
	if a.local != nil {
		local := a.local
		a.metrics.GaugeFunc("trigger", "pending", "Local triggers waiting to fire.", func() float64 {
			return float64(len(local.Pending()))
		})
	}

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps := httpapi.Deps{Reminders: a.reminders, Health: a.health}
		if cfg.HTTP.Metrics {
			deps.Metrics = promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{})
		}
		if a.delivery != nil {
			d := a.delivery
			deps.Deliveries = func() any { return d.Snapshot() }
		}
		a.http = httpapi.New(hc, deps, log.With(logx.String("comp", "http")))
	}
	return a, nil
}

func (a *App) Reminders() *reminder.Service { return a.reminders }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() any {
	h := map[string]any{}
	if a.sup != nil {
		h["supervisor"] = a.sup.Snapshot()
	}
	if a.local != nil {
		h["pending_triggers"] = len(a.local.Pending())
	}
	if a.delivery != nil {
		h["delivery_queue"] = a.delivery.Snapshot().QueueLen
	}
	h["events_dropped"] = eventbus.Dropped(a.bus)
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if a.delivery != nil {
		a.delivery.Start(c)
	}
	if a.local != nil {
		if err := a.local.Start(c); err != nil {
			return fmt.Errorf("start local triggers: %w", err)
		}
	}

	a.sup.Go("metrics.pump", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		})
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if _, _, err := mapContentConfig(cfg); err != nil {
				return err
			}
			_, err := mapReminderConfig(cfg)
			return err
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	}

	if a.http != nil {
		a.http.Start(c)
	}

	a.log.Info("app started",
		logx.Bool("local_triggers", a.local != nil),
		logx.Bool("http", a.http != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-swaps logging and content; other sections log a restart hint.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if a.logs != nil {
		if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
			a.log.Warn("log file sink unavailable", logx.Err(err))
		}
	}
	if p, cc, err := mapContentConfig(newCfg); err != nil {
		a.log.Warn("invalid content config; keeping previous", logx.Err(err))
	} else {
		a.content.Apply(p, cc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Stop accepting requests first, then let fired triggers drain.
	step("http", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("triggers", 2*time.Second, func(c context.Context) error {
		if a.local != nil {
			a.local.Stop(c)
		}
		return nil
	})
	step("delivery", 5*time.Second, func(c context.Context) error {
		if a.delivery != nil {
			a.delivery.Stop(c)
		}
		return nil
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
