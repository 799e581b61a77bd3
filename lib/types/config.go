// Configuration and settings types
package types

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Expiration ExpirationConfig `mapstructure:"expiration"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
	DataPath    string `mapstructure:"data_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Path   string `mapstructure:"path"`
}

// RelayConfig holds relay identity and NIP-42 settings.
// An empty Domain disables client authentication.
type RelayConfig struct {
	Domain        string `mapstructure:"domain"`
	Name          string `mapstructure:"name"`
	Description   string `mapstructure:"description"`
	Pubkey        string `mapstructure:"pubkey"`
	Contact       string `mapstructure:"contact"`
	Icon          string `mapstructure:"icon"`
	Software      string `mapstructure:"software"`
	Version       string `mapstructure:"version"`
	SupportedNIPs []int  `mapstructure:"supported_nips"`
}

// LimitsConfig holds event acceptance limits. Zero values mean unset.
type LimitsConfig struct {
	CreatedAtUpperLimit       int64 `mapstructure:"created_at_upper_limit"`
	CreatedAtLowerLimit       int64 `mapstructure:"created_at_lower_limit"`
	MinPowDifficulty          int   `mapstructure:"min_pow_difficulty"`
	MaxSubscriptionsPerClient int   `mapstructure:"max_subscriptions_per_client"`
}

// CacheConfig holds the TTLs of the request coalescing caches
type CacheConfig struct {
	FilterResultTTLMs        int64 `mapstructure:"filter_result_ttl_ms"`
	EventHandlingResultTTLMs int64 `mapstructure:"event_handling_result_ttl_ms"`
}

// StorageConfig selects and locates the event repository
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ExpirationConfig controls the NIP-40 sweeper
type ExpirationConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}
