package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Weibo describes the upstream API and the tracked author catalog.
	Weibo WeiboConfig `json:"weibo"`

	// Poller controls the periodic new-post detection cycle.
	Poller PollerConfig `json:"poller"`

	// Notifier controls the async delivery pipeline.
	// If the whole section is omitted, it defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Storage selects the subscription persistence driver.
	Storage StorageConfig `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat ID receiving forwarded log lines (optional).
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WeiboConfig describes the upstream content API and the author catalog.
//
// All durations are Go duration strings (e.g. "30s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - api_base_url: "https://m.weibo.cn/api/container/getIndex"
//   - cache_duration: "5m"
//   - max_posts: 5
//   - http_timeout: "10s"
type WeiboConfig struct {
	APIBaseURL    string `json:"api_base_url,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	CacheDuration string `json:"cache_duration,omitempty"`
	MaxPosts      int    `json:"max_posts,omitempty"`
	HTTPTimeout   string `json:"http_timeout,omitempty"`

	// Accounts maps a short key (used in commands and the subscription
	// store) to the tracked author.
	Accounts map[string]AccountConfig `json:"accounts"`
}

type AccountConfig struct {
	Name string `json:"name"`
	// Handle is the Weibo screen name, used for numeric ID resolution
	// when numeric_id is not pre-configured.
	Handle      string `json:"handle"`
	NumericID   string `json:"numeric_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// PollerConfig controls the new-post detection cycle.
//
// Schedule accepts a cron expression ("*/10 * * * *"), a Go duration
// ("10m"), or HH:MM ("00:10"). Defaults to "10m" when omitted.
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	// DeliveryTimeout bounds one whole scan cycle. Go duration
	// string, default "5m".
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// All durations are Go duration strings.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig selects the subscription persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./subscriptions.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
