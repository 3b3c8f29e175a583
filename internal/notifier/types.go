package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int // per worker
	RatePerSec int
	// Retry policy for messages enqueued with WithRetry. Feed deliveries
	// never retry; a failed send is logged and dropped.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}
