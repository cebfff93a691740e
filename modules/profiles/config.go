package profiles

// ProfilesConfig defines the configuration for the profiles module.
type ProfilesConfig struct {
	// Path is the profiles YAML document location. The env tag is prefixed
	// so the feeder never picks up the system PATH.
	Path string `json:"path" yaml:"path" env:"PROFILES_PATH" default:"profiles.yaml" desc:"Path to the profiles document"`

	// Watch reloads the document when it changes on disk.
	Watch bool `json:"watch" yaml:"watch" env:"WATCH" default:"true" desc:"Reload the document on file changes"`
}
