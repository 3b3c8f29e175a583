// Package notifier implements the async delivery pipeline between the
// feed engine and the chat transport: per-worker queues, rate limiting,
// and optional bounded retry.
package notifier

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "weiborelay/internal/transport"
	logx "weiborelay/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	target kit.ChatTarget
	text   string
	opt    *kit.SendOptions
	// attempts is fixed at enqueue time so a config reload mid-flight
	// doesn't change in-queue behavior.
	attempts int
}

// Option adjusts a single enqueue.
type Option func(*job)

// WithRetry lets the message use the configured retry budget. Without
// it a failed send is logged and dropped.
func WithRetry() Option {
	return func(j *job) { j.attempts = -1 } // resolved against config at enqueue
}

// Service fans messages out to the chat transport. Messages for the
// same destination always land on the same worker queue, so deliveries
// to one chat keep their enqueue order even with several workers.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queues   []chan job
	workerWG sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply installs a new config. Queue shape changes take effect on the
// next Start; rate and retry changes apply immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket with burst = rate per sec, so short spikes don't
	// stall the whole pool.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queues != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	workers := s.cfg.Workers
	s.queues = make([]chan job, workers)
	for i := range s.queues {
		s.queues[i] = make(chan job, s.cfg.QueueSize)
	}
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		q := s.queues[i]
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker",
						logx.Int("worker", i), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(runCtx, q)
		}()
	}
}

// Stop blocks intake and drains the queues best-effort until ctx
// expires, then cancels in-flight sends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	queues := s.queues
	cancel := s.runCancel
	if queues == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Let in-flight enqueues finish before closing the queues.
	enqDone := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(enqDone)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-enqDone:
	}

	for _, q := range queues {
		close(q)
	}

	drained := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-drained
	case <-drained:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queues = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Send enqueues a message for delivery. It never blocks: a full worker
// queue returns ErrQueueFull and the message is dropped.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions, opts ...Option) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queues == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	j := job{target: to, text: text, opt: opt, attempts: 1}
	for _, o := range opts {
		o(&j)
	}
	if j.attempts < 0 {
		j.attempts = 1 + s.cfg.RetryMax
	}
	q := s.queues[shard(to, len(s.queues))]
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// shard keys worker selection off the destination so one chat's
// messages never interleave across workers.
func shard(to kit.ChatTarget, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(to.String()))
	return int(h.Sum32() % uint32(n))
}

func (s *Service) workerLoop(runCtx context.Context, q <-chan job) {
	for j := range q {
		select {
		case <-runCtx.Done():
			return
		default:
		}
		s.deliver(runCtx, j)
	}
}

func (s *Service) deliver(runCtx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	base := s.cfg.RetryBase
	maxDelay := s.cfg.RetryMaxDelay
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= j.attempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		sctx, cancel := context.WithTimeout(runCtx, 30*time.Second)
		_, err := ad.SendText(sctx, j.target, j.text, j.opt)
		cancel()
		if err == nil {
			if attempt > 1 {
				s.log.Debug("delivery succeeded after retry",
					logx.String("target", j.target.String()), logx.Int("attempt", attempt))
			}
			return
		}
		lastErr = err

		if attempt < j.attempts {
			delay := backoffDelay(base, maxDelay, attempt)
			select {
			case <-runCtx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	s.log.Warn("delivery failed",
		logx.String("target", j.target.String()),
		logx.Int("attempts", j.attempts),
		logx.Err(lastErr))
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max {
		d = max
	}
	// Jitter in [d/2, d) spreads concurrent retries apart.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
