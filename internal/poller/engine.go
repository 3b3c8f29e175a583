// Package poller runs the periodic feed scan: fetch each tracked
// author, diff against the last seen post ID, and hand new posts to
// the delivery sink oldest first.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"weiborelay/internal/weibo"
	logx "weiborelay/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule accepts cron, duration, or HH:MM forms (ParseSchedule).
	// Default "10m".
	Schedule string
	// DeliveryTimeout bounds one whole tick. Default 5m.
	DeliveryTimeout time.Duration
	// Timezone for cron evaluation; "" means local.
	Timezone string
}

// ContentSource yields fresh posts per author, newest first.
type ContentSource interface {
	Authors() []weibo.Author
	FetchPosts(ctx context.Context, key string, max int, force bool) ([]weibo.Post, error)
}

// SubscriberSource is read fresh for every post, so mid-tick
// subscription changes affect subsequent posts.
type SubscriberSource interface {
	Subscribers(ctx context.Context, authorKey string) ([]string, error)
}

// Sink delivers one rendered post to one destination.
type Sink interface {
	Deliver(ctx context.Context, dest string, post weibo.Post) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, dest string, post weibo.Post) error

func (f SinkFunc) Deliver(ctx context.Context, dest string, post weibo.Post) error {
	return f(ctx, dest, post)
}

// Engine owns the per-author last-seen state. The state is in-memory
// only: after a restart the first scan re-baselines every author and
// delivers nothing.
type Engine struct {
	cfg    Config
	source ContentSource
	subs   SubscriberSource
	sink   Sink
	log    logx.Logger

	mu       sync.Mutex
	lastSeen map[string]string
	cron     *cron.Cron
}

func New(cfg Config, source ContentSource, subs SubscriberSource, sink Sink, log logx.Logger) *Engine {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Minute
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "10m"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:      cfg,
		source:   source,
		subs:     subs,
		sink:     sink,
		log:      log,
		lastSeen: map[string]string{},
	}
}

// Start registers the scan job and starts the cron runner. A scan that
// overruns its interval causes the next firing to be skipped rather
// than overlapped.
func (e *Engine) Start(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.log.Info("poller disabled")
		return nil
	}

	spec, err := ParseSchedule(e.cfg.Schedule)
	if err != nil {
		return err
	}

	loc := time.Local
	if tz := e.cfg.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	clog := cronLogger{e.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	_, err = c.AddFunc(spec.CronSpec(), func() {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
		defer cancel()
		e.RunOnce(tctx)
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.cron = c
	e.mu.Unlock()
	c.Start()
	e.log.Info("poller started", logx.String("schedule", spec.CronSpec()))
	return nil
}

// Stop halts the cron runner and waits for a running scan to finish,
// bounded by ctx.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RunOnce scans every tracked author once. Author failures are
// isolated; one broken feed never blocks the others.
func (e *Engine) RunOnce(ctx context.Context) {
	started := time.Now()
	var scanned, delivered int
	for _, a := range e.source.Authors() {
		if ctx.Err() != nil {
			break
		}
		n := e.scanAuthor(ctx, a.Key)
		scanned++
		delivered += n
	}
	e.log.Debug("scan complete",
		logx.Int("authors", scanned),
		logx.Int("delivered", delivered),
		logx.Duration("took", time.Since(started)))
}

// scanAuthor diffs one author's feed against the last seen ID and
// delivers anything new, oldest first. Returns delivery count. The
// fetch honors the result cache: a poll interval shorter than the
// cache window reuses the cached feed instead of hitting upstream.
func (e *Engine) scanAuthor(ctx context.Context, key string) int {
	posts, err := e.source.FetchPosts(ctx, key, 0, false)
	if err != nil {
		e.log.Warn("scan fetch failed", logx.String("author", key), logx.Err(err))
		return 0
	}
	if len(posts) == 0 {
		return 0
	}
	newest := posts[0].ID

	e.mu.Lock()
	last, seen := e.lastSeen[key]
	if !seen {
		// First observation of this author only records the baseline.
		e.lastSeen[key] = newest
		e.mu.Unlock()
		e.log.Info("author baseline recorded", logx.String("author", key), logx.String("post_id", newest))
		return 0
	}
	e.mu.Unlock()

	// Boundary scan, newest first, equality only. IDs are opaque.
	fresh := posts
	for i, p := range posts {
		if p.ID == last {
			fresh = posts[:i]
			break
		}
	}
	// If the boundary dropped out of the window everything fetched
	// counts as new; the window size caps the backfill.

	delivered := 0
	sent := make(map[string]bool, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			break
		}
		// Upstream glitches can repeat an ID inside one window; a
		// repeated ID is the same post and goes out once.
		if sent[fresh[i].ID] {
			continue
		}
		sent[fresh[i].ID] = true
		delivered += e.deliverPost(ctx, key, fresh[i])
	}

	// Advance regardless of delivery outcomes; a failed delivery is
	// never re-sent on a later scan.
	e.mu.Lock()
	e.lastSeen[key] = newest
	e.mu.Unlock()
	return delivered
}

func (e *Engine) deliverPost(ctx context.Context, key string, post weibo.Post) int {
	dests, err := e.subs.Subscribers(ctx, key)
	if err != nil {
		e.log.Warn("subscriber lookup failed", logx.String("author", key), logx.Err(err))
		return 0
	}

	delivered := 0
	for _, dest := range dests {
		if err := e.sink.Deliver(ctx, dest, post); err != nil {
			e.log.Warn("delivery failed",
				logx.String("author", key),
				logx.String("post_id", post.ID),
				logx.String("dest", dest),
				logx.Err(err))
			continue
		}
		delivered++
	}
	return delivered
}

// LastSeen reports the recorded boundary for an author, for status
// surfaces.
func (e *Engine) LastSeen(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.lastSeen[key]
	return id, ok
}

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
