package vrchat

import "time"

// VRChatConfig defines the configuration for the vrchat module.
type VRChatConfig struct {
	// BaseURL is the VRChat API root.
	BaseURL string `json:"baseUrl" yaml:"base_url" env:"BASE_URL" default:"https://api.vrchat.cloud/api/1" desc:"VRChat API base URL"`

	// AuthCookie is the session cookie value. Required unless dry_run.
	AuthCookie string `json:"authCookie" yaml:"auth_cookie" env:"VRC_AUTH_COOKIE" desc:"VRChat auth cookie value"`

	// UserAgent identifies this daemon to the API, as VRChat requires.
	UserAgent string `json:"userAgent" yaml:"user_agent" env:"USER_AGENT" default:"VRC-Event-Creator/1.0 (+https://github.com/Cynacedia/VRC-Event-Creator)" desc:"User-Agent header sent with every request"`

	// RequestTimeout bounds every API call.
	RequestTimeout time.Duration `json:"requestTimeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" default:"15s" desc:"Per-request timeout"`

	// DryRun simulates publishes instead of calling the API.
	DryRun bool `json:"dryRun" yaml:"dry_run" env:"DRY_RUN" default:"true" desc:"Simulate publishes instead of calling the API"`

	// ListCacheTTL caches upcoming-event listings per target.
	ListCacheTTL time.Duration `json:"listCacheTtl" yaml:"list_cache_ttl" env:"LIST_CACHE_TTL" default:"5m" desc:"Upcoming-events cache lifetime"`
}
