package autopublish

import "time"

// After-mode first-slot anchor choices.
const (
	// AnchorNow anchors the first generated slot on the wall clock.
	AnchorNow = "now"
	// AnchorActivation anchors it on the profile's activation instant.
	AnchorActivation = "activation"
)

// AutoPublishConfig defines the configuration for the autopublish module.
type AutoPublishConfig struct {
	// PendingFile is the persisted pending-events document.
	PendingFile string `json:"pendingFile" yaml:"pending_file" env:"PENDING_FILE" default:"pending_events.json" desc:"Path of the pending events document"`

	// StateFile is the persisted per-profile automation state document.
	StateFile string `json:"stateFile" yaml:"state_file" env:"STATE_FILE" default:"automation_state.json" desc:"Path of the automation state document"`

	// MonthsAhead is the pattern expansion horizon in calendar months.
	MonthsAhead int `json:"monthsAhead" yaml:"months_ahead" env:"MONTHS_AHEAD" default:"2" desc:"Expansion horizon in calendar months"`

	// MaxMaterialized caps how many upcoming records one profile may hold.
	MaxMaterialized int `json:"maxMaterialized" yaml:"max_materialized" env:"MAX_MATERIALIZED" default:"10" desc:"Maximum upcoming records per profile"`

	// MinLeadTime is the hard floor between publish time and event start.
	MinLeadTime time.Duration `json:"minLeadTime" yaml:"min_lead_time" env:"MIN_LEAD_TIME" default:"30m" desc:"Minimum gap between publish and event start"`

	// RateLimitWindow and RateLimitMax bound publishes per target.
	RateLimitWindow time.Duration `json:"rateLimitWindow" yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW" default:"1h" desc:"Sliding window for per-target publish counting"`
	RateLimitMax    int           `json:"rateLimitMax" yaml:"rate_limit_max" env:"RATE_LIMIT_MAX" default:"10" desc:"Publishes allowed per target per window"`

	// PublishSpacing separates consecutive publish executions.
	PublishSpacing time.Duration `json:"publishSpacing" yaml:"publish_spacing" env:"PUBLISH_SPACING" default:"100ms" desc:"Spacing between consecutive publishes"`

	// RetryDelay defers the single retry after a transient publish failure.
	RetryDelay time.Duration `json:"retryDelay" yaml:"retry_delay" env:"RETRY_DELAY" default:"15m" desc:"Delay before retrying a failed publish"`

	// ReconcileInterval drives the periodic remote reconciliation loop.
	// Zero disables the loop.
	ReconcileInterval time.Duration `json:"reconcileInterval" yaml:"reconcile_interval" env:"RECONCILE_INTERVAL" default:"1h" desc:"Interval between reconciliation passes (0 disables)"`

	// AfterFirstAnchor picks the anchor for the first after-mode slot when
	// the profile has no publish history: "now" or "activation".
	AfterFirstAnchor string `json:"afterFirstAnchor" yaml:"after_first_anchor" env:"AFTER_FIRST_ANCHOR" default:"now" desc:"First-slot anchor in after mode: now or activation"`
}
