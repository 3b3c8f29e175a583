// Package app wires the bot together: config, logging, the Telegram
// transport, the feed poller, and the command surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"weiborelay/internal/config"
	"weiborelay/internal/notifier"
	"weiborelay/internal/poller"
	"weiborelay/internal/render"
	"weiborelay/internal/router"
	rtsup "weiborelay/internal/runtime/supervisor"
	"weiborelay/internal/subs"
	kit "weiborelay/internal/transport"
	tgadapter "weiborelay/internal/transport/telegram/adapter"
	"weiborelay/internal/weibo"
	logx "weiborelay/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *tgadapter.Adapter
	store   subs.Store
	fetch   *weibo.Fetcher
	notif   *notifier.Service
	poll    *poller.Engine
	router  *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := tgadapter.New(tgadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bring logging up with the Telegram sink off, point it at the ops
	// chat, then apply the real config. Avoids a window where log lines
	// would be forwarded with no target set.
	logCfg := mapLogxConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	setLogTarget(logSvc, cfg)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	storageCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := subs.Open(storageCfg, log.With(logx.String("comp", "subs")))
	if err != nil {
		return nil, err
	}

	clientCfg, err := mapClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetcherCfg, err := mapFetcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	authors, err := authorsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := weibo.NewClient(clientCfg, log.With(logx.String("comp", "weibo")))
	fetch := weibo.NewFetcher(fetcherCfg, client, authors, log.With(logx.String("comp", "weibo")))

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(notifCfg, ad, log.With(logx.String("comp", "notifier")))

	pollerCfg, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	poll := poller.New(pollerCfg, fetch,
		subscriberSource{store},
		newDeliverySink(notif, ad),
		log.With(logx.String("comp", "poller")))

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)
	rt.Register(buildCommands(fetch, store))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		fetch:   fetch,
		notif:   notif,
		poll:    poll,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	if err := a.poll.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the newest config.
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
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies the live-reloadable parts of a new config and
// warns about the parts that need a restart.
func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	a.logs.Apply(mapLogxConfig(cfg))
	setLogTarget(a.logs, cfg)

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	prevEnabled := a.notif.Enabled()
	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		// The validator already vets this; a failure here means the
		// validator and the mapper disagree.
		a.log.Warn("notifier config not applied", logx.Err(err))
	} else {
		a.notif.Apply(notifCfg)
		if prevEnabled && !notifCfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && notifCfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(a.sup.Context())
		}
	}

	if old != nil {
		var restart []string
		if !reflect.DeepEqual(old.Weibo, cfg.Weibo) {
			restart = append(restart, "weibo")
		}
		if !reflect.DeepEqual(old.Poller, cfg.Poller) {
			restart = append(restart, "poller")
		}
		if !reflect.DeepEqual(old.Storage, cfg.Storage) {
			restart = append(restart, "storage")
		}
		if len(restart) > 0 {
			a.log.Warn("config sections changed that require a restart",
				logx.String("sections", strings.Join(restart, ",")))
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("poller", 2*time.Second, func(c context.Context) error { a.poll.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("subscription store close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// validateConfig rejects a hot-reloaded config that would break the
// running services or a later restart.
func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := mapClientConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFetcherConfig(cfg); err != nil {
		return err
	}
	if _, err := authorsFromConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func setLogTarget(svc *logx.Service, cfg *config.Config) {
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			svc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
			return
		}
	}
	svc.SetTelegramTarget(0, 0)
}

// subscriberSource adapts the subscription store to the poller. A nil
// store means no destinations, so scans only maintain baselines.
type subscriberSource struct {
	store subs.Store
}

func (s subscriberSource) Subscribers(ctx context.Context, authorKey string) ([]string, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Subscribers(ctx, authorKey)
}

// newDeliverySink renders a post and hands it to the notifier queue.
// When the notifier is disabled the send goes straight through the
// adapter instead.
func newDeliverySink(notif *notifier.Service, ad kit.Adapter) poller.Sink {
	return poller.SinkFunc(func(ctx context.Context, dest string, post weibo.Post) error {
		target, err := kit.ParseTarget(dest)
		if err != nil {
			return err
		}
		text := render.Post(post)
		err = notif.Send(ctx, target, text, htmlOpts)
		if errors.Is(err, notifier.ErrDisabled) {
			_, err = ad.SendText(ctx, target, text, htmlOpts)
		}
		return err
	})
}
