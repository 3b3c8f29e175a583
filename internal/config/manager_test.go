package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "t", "owner_user_ids": [42]},
		"weibo": {"accounts": {"alice": {"name": "Alice", "handle": "alice_w"}}},
		"poller": {"enabled": true, "schedule": "10m"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.Weibo.Accounts["alice"].Handle; got != "alice_w" {
		t.Fatalf("handle = %q", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: t
  owner_user_ids: [1, 2]
weibo:
  accounts:
    alice:
      name: Alice
      handle: alice_w
poller:
  enabled: true
  schedule: "*/10 * * * *"
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 2 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if !cfg.Poller.Enabled {
		t.Fatal("poller should be enabled")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t", "bogus": 1}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}}{"extra": true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("trailing data should be rejected")
	}
}

func TestSubscribePublish(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{}
	m.publish(next)
	select {
	case got := <-ch:
		if got != next {
			t.Fatal("published config mismatch")
		}
	case <-time.After(time.Second):
		t.Fatal("no publish received")
	}
}

func TestPublishDropsOldestWhenSlow(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}}`)
	m := NewManager(path)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("slow subscriber should see the newest config")
		}
	case <-time.After(time.Second):
		t.Fatal("no publish received")
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{" 5m ", 5 * time.Minute, false},
		{"-1s", 0, true},
		{"nope", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	got, err := ParseDurationOrDefault("x", "", 10*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = ParseDurationOrDefault("x", "3s", 10*time.Second)
	if err != nil || got != 3*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}
}
