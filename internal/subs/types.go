package subs

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("subscription storage disabled")

// Config configures subscription persistence.
//
// Driver values:
//   - "file": dependency-free JSON file backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and subscriptions
// do not survive a restart.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
