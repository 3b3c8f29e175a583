package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"weiborelay/internal/config"
	"weiborelay/internal/notifier"
	"weiborelay/internal/poller"
	"weiborelay/internal/subs"
	"weiborelay/internal/weibo"
	logx "weiborelay/pkg/logx"
)

func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapClientConfig(cfg *config.Config) (weibo.ClientConfig, error) {
	timeout, err := config.ParseDurationOrDefault("weibo.http_timeout", cfg.Weibo.HTTPTimeout, 10*time.Second)
	if err != nil {
		return weibo.ClientConfig{}, err
	}
	return weibo.ClientConfig{
		BaseURL:   cfg.Weibo.APIBaseURL,
		UserAgent: cfg.Weibo.UserAgent,
		Timeout:   timeout,
	}, nil
}

func mapFetcherConfig(cfg *config.Config) (weibo.FetcherConfig, error) {
	cacheDur, err := config.ParseDurationOrDefault("weibo.cache_duration", cfg.Weibo.CacheDuration, 5*time.Minute)
	if err != nil {
		return weibo.FetcherConfig{}, err
	}
	if cfg.Weibo.MaxPosts < 0 {
		return weibo.FetcherConfig{}, fmt.Errorf("weibo.max_posts must be >= 0")
	}
	return weibo.FetcherConfig{
		CacheDuration: cacheDur,
		MaxPosts:      cfg.Weibo.MaxPosts,
	}, nil
}

func authorsFromConfig(cfg *config.Config) ([]weibo.Author, error) {
	keys := make([]string, 0, len(cfg.Weibo.Accounts))
	for key := range cfg.Weibo.Accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]weibo.Author, 0, len(keys))
	for _, key := range keys {
		ac := cfg.Weibo.Accounts[key]
		if strings.TrimSpace(ac.Handle) == "" && strings.TrimSpace(ac.NumericID) == "" {
			return nil, fmt.Errorf("weibo.accounts.%s: handle or numeric_id is required", key)
		}
		name := ac.Name
		if name == "" {
			name = ac.Handle
		}
		out = append(out, weibo.Author{
			Key:         key,
			Name:        name,
			Handle:      ac.Handle,
			NumericID:   ac.NumericID,
			Description: ac.Description,
		})
	}
	return out, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	timeout, err := config.ParseDurationOrDefault("poller.delivery_timeout", cfg.Poller.DeliveryTimeout, 5*time.Minute)
	if err != nil {
		return poller.Config{}, err
	}
	if sched := cfg.Poller.Schedule; sched != "" {
		if _, err := poller.ParseSchedule(sched); err != nil {
			return poller.Config{}, fmt.Errorf("poller.schedule: %w", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Poller.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return poller.Config{}, fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	return poller.Config{
		Enabled:         cfg.Poller.Enabled,
		Schedule:        cfg.Poller.Schedule,
		DeliveryTimeout: timeout,
		Timezone:        cfg.Poller.Timezone,
	}, nil
}

// mapNotifierConfig applies the omitted-section default: delivery is on
// unless explicitly disabled.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true}, nil
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: negative values are not allowed")
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// mapStorageConfig defaults to the file driver so subscriptions survive
// restarts out of the box.
func mapStorageConfig(cfg *config.Config) (subs.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	if driver == "" {
		driver = "file"
	}
	if driver == "file" && path == "" {
		path = "./subscriptions.json"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return subs.Config{}, err
	}
	return subs.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}
