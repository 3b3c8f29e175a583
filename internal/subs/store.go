package subs

import (
	"context"
	"errors"
	"strings"

	logx "weiborelay/pkg/logx"
)

// Store maps author keys to notification destinations. Destinations
// are opaque strings owned by the transport layer; the store never
// interprets them beyond equality.
type Store interface {
	// Subscribe adds dest to the author's subscriber set. Returns false
	// when the pair already existed (idempotent).
	Subscribe(ctx context.Context, authorKey, dest string) (bool, error)

	// Unsubscribe removes dest from the author's subscriber set. Returns
	// false when the pair did not exist.
	Unsubscribe(ctx context.Context, authorKey, dest string) (bool, error)

	// Subscribers returns the destinations subscribed to the author,
	// sorted. A delivery round reads this fresh for every post.
	Subscribers(ctx context.Context, authorKey string) ([]string, error)

	// SubscriptionsFor returns the author keys dest is subscribed to,
	// sorted.
	SubscriptionsFor(ctx context.Context, dest string) ([]string, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown subscription storage driver: " + driver)
	}
}
