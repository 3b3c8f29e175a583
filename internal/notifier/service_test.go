package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "weiborelay/internal/transport"
	logx "weiborelay/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]int // text -> remaining failures
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{fails: map[string]int{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.fails[text]; n > 0 {
		f.fails[text] = n - 1
		return kit.MessageRef{}, errors.New("send failed")
	}
	f.sent = append(f.sent, to.String()+"|"+text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    2,
		QueueSize:  64,
		RatePerSec: 1000,
		RetryBase:  time.Millisecond,
	}
}

func TestSendDelivers(t *testing.T) {
	ad := newFakeAdapter()
	s := New(testConfig(), ad, logx.Nop())
	s.Start(context.Background())

	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.Stop(ctx)
	cancel()

	got := ad.snapshot()
	if len(got) != 1 || got[0] != "1|hello" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestPerDestinationOrder(t *testing.T) {
	ad := newFakeAdapter()
	s := New(testConfig(), ad, logx.Nop())
	s.Start(context.Background())

	texts := []string{"a", "b", "c", "d", "e"}
	for _, txt := range texts {
		if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 7}, txt, nil); err != nil {
			t.Fatalf("Send %s: %v", txt, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.Stop(ctx)
	cancel()

	got := ad.snapshot()
	if len(got) != len(texts) {
		t.Fatalf("expected %d deliveries, got %v", len(texts), got)
	}
	for i, txt := range texts {
		if got[i] != "7|"+txt {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestNoRetryByDefault(t *testing.T) {
	ad := newFakeAdapter()
	ad.fails["flaky"] = 1

	cfg := testConfig()
	cfg.RetryMax = 3
	s := New(cfg, ad, logx.Nop())
	s.Start(context.Background())

	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "flaky", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.Stop(ctx)
	cancel()

	if got := ad.snapshot(); len(got) != 0 {
		t.Fatalf("expected failed send to be dropped without retry, got %v", got)
	}
}

func TestWithRetryUsesBudget(t *testing.T) {
	ad := newFakeAdapter()
	ad.fails["flaky"] = 2

	cfg := testConfig()
	cfg.RetryMax = 3
	s := New(cfg, ad, logx.Nop())
	s.Start(context.Background())

	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "flaky", nil, WithRetry()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.Stop(ctx)
	cancel()

	got := ad.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected retried delivery to land, got %v", got)
	}
}

func TestSendAfterStop(t *testing.T) {
	s := New(testConfig(), newFakeAdapter(), logx.Nop())
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	s.Stop(ctx)
	cancel()

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "late", nil)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSendDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, newFakeAdapter(), logx.Nop())
	s.Start(context.Background())

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestShardStable(t *testing.T) {
	a := kit.ChatTarget{ChatID: 42, ThreadID: 3}
	if shard(a, 4) != shard(a, 4) {
		t.Fatal("shard must be deterministic")
	}
	if s := shard(a, 1); s != 0 {
		t.Fatalf("single worker must get everything, got %d", s)
	}
}
