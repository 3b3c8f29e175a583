package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "weiborelay/internal/transport"
	logx "weiborelay/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) waitForSent(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, s := range f.sent {
			if strings.Contains(s, substr) {
				f.mu.Unlock()
				return s
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("no sent message containing %q, got %v", substr, f.sent)
	return ""
}

func msgUpdate(text string, fromID int64) kit.Update {
	return kit.Update{Message: &kit.Message{ID: 1, ChatID: 10, FromID: fromID, Text: text}}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	updates := make(chan kit.Update, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatch loop did not stop")
		}
	})
	return updates
}

func TestDispatchRunsHandler(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)

	var gotArgs []string
	r.Register([]Command{{
		Name:        "echo",
		Description: "echo args",
		Handle: func(ctx context.Context, req *Request) error {
			gotArgs = req.Args
			_, err := req.Adapter.SendText(ctx, req.Chat, "echoed", nil)
			return err
		},
	}})

	updates := startRouter(t, r)
	updates <- msgUpdate("/echo one two", 1)

	ad.waitForSent(t, "echoed")
	if len(gotArgs) != 2 || gotArgs[0] != "one" {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
}

func TestBotSuffixStripped(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	r.Register([]Command{{
		Name: "ping",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, "pong", nil)
			return err
		},
	}})

	updates := startRouter(t, r)
	updates <- msgUpdate("/ping@my_bot", 1)
	ad.waitForSent(t, "pong")
}

func TestUnknownCommandReplies(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	r.Register(nil)

	updates := startRouter(t, r)
	updates <- msgUpdate("/nope", 1)
	ad.waitForSent(t, "Unknown command")
}

func TestPlainTextIgnored(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	r.Register(nil)

	updates := startRouter(t, r)
	updates <- msgUpdate("just chatting", 1)
	updates <- msgUpdate("/help", 1)

	// The /help reply proves the loop processed both updates; the plain
	// message must not have produced output before it.
	ad.waitForSent(t, "Commands")
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) != 1 {
		t.Fatalf("plain text should be ignored, got %v", ad.sent)
	}
}

func TestOwnerOnly(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, []int64{42})
	r.Register([]Command{{
		Name:   "admin",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, "secret", nil)
			return err
		},
	}})

	updates := startRouter(t, r)
	updates <- msgUpdate("/admin", 7)
	ad.waitForSent(t, "unauthorized")

	updates <- msgUpdate("/admin", 42)
	ad.waitForSent(t, "secret")
}

func TestHelpInjectedAndListsCommands(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	r.Register([]Command{{
		Name:        "subscribe",
		Description: "subscribe this chat",
		Handle:      func(context.Context, *Request) error { return nil },
	}})

	updates := startRouter(t, r)
	updates <- msgUpdate("/help", 1)
	out := ad.waitForSent(t, "Commands")
	if !strings.Contains(out, "/subscribe") {
		t.Fatalf("help should list registered commands:\n%s", out)
	}
}

func TestPanicInHandlerRecovered(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	r.Register([]Command{
		{
			Name:   "boom",
			Handle: func(context.Context, *Request) error { panic("kaboom") },
		},
		{
			Name: "ok",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, "still alive", nil)
				return err
			},
		},
	})

	updates := startRouter(t, r)
	updates <- msgUpdate("/boom", 1)
	updates <- msgUpdate("/ok", 1)
	ad.waitForSent(t, "still alive")
}
