package config

// Config is the full bot configuration.
//
// Files may be YAML or JSON; both are decoded strictly so typos and removed
// legacy keys are caught at load time.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Scraper  ScraperConfig  `json:"scraper"`
	Storage  StorageConfig  `json:"storage"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`

	// Expiry is the optional age-based invalidation policy layered on top of
	// absence-based invalidation. Omitted means disabled.
	Expiry *ExpiryConfig `json:"expiry,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScraperConfig controls the source page scraper.
//
// Schedule accepts a cron expression ("0 * * * *", "@hourly") or a Go
// duration ("1h"). Defaults to hourly.
type ScraperConfig struct {
	URL             string `json:"url"`
	Schedule        string `json:"schedule,omitempty"`
	Container       string `json:"container,omitempty"`
	LimitedMarker   string `json:"limited_marker,omitempty"`
	ChannelCapacity int    `json:"channel_capacity,omitempty"`
	// Timeout is a Go duration string for one page fetch.
	Timeout string `json:"timeout,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DeliveryConfig controls notification formatting.
type DeliveryConfig struct {
	// RedeemURL is a printf template with one %s for the code text,
	// e.g. "https://example.com/gift?code=%s". Empty sends plain codes.
	RedeemURL string `json:"redeem_url,omitempty"`
}

// ExpiryConfig ages codes out independently of scrape presence.
// Both fields are Go duration strings; zero/omitted disables that kind.
type ExpiryConfig struct {
	Enabled  bool   `json:"enabled"`
	Ordinary string `json:"ordinary,omitempty"`
	Limited  string `json:"limited,omitempty"`
}
