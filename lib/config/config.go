package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/HORNET-Storage/hornets-relay-core/lib/types"
)

const (
	configName = "config"
	envPrefix  = "RELAY"
)

var (
	// Cache the configuration after first load
	cachedConfig    atomic.Value // stores *types.Config
	configLoadOnce  sync.Once
	configLoadError error

	// Only protect write operations
	writeMutex sync.Mutex

	// Debounce timer for config file changes
	debounceTimer *time.Timer
	debounceMutex sync.Mutex
)

// InitConfig initializes the global viper configuration. Extra search paths
// are consulted before the defaults.
func InitConfig(paths ...string) error {
	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	for _, p := range paths {
		viper.AddConfigPath(p)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}

		target := "config.yaml"
		if len(paths) > 0 {
			target = filepath.Join(paths[0], "config.yaml")
		}
		log.Printf("No config.yaml found, creating default configuration at %s", target)
		if err := viper.WriteConfigAs(target); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read created config: %w", err)
		}
	}

	if err := reloadConfigCache(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	return nil
}

// WatchConfig reloads the cached configuration whenever the config file
// changes. Bursts of writes are debounced into one reload.
func WatchConfig(onChange func(*types.Config)) {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}

		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			log.Printf("Config file changed (debounced): %s", e.Name)
			writeMutex.Lock()
			err := reloadConfigCache()
			writeMutex.Unlock()

			if err != nil {
				log.Printf("Error reloading config cache after file change: %v", err)
				return
			}

			log.Printf("Config cache refreshed after file change")
			if onChange != nil {
				if cfg, err := GetConfig(); err == nil {
					onChange(cfg)
				}
			}
		})
	})
}

// reloadConfigCache loads the configuration from viper into the cache
func reloadConfigCache() error {
	config := &types.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cachedConfig.Store(config)
	return nil
}

// GetConfig returns the cached configuration struct
func GetConfig() (*types.Config, error) {
	if cfg := cachedConfig.Load(); cfg != nil {
		return cfg.(*types.Config), nil
	}

	configLoadOnce.Do(func() {
		configLoadError = reloadConfigCache()
	})

	if configLoadError != nil {
		return nil, configLoadError
	}

	cfg := cachedConfig.Load()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	return cfg.(*types.Config), nil
}

// RefreshConfig forces a reload of the configuration cache
func RefreshConfig() error {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	return reloadConfigCache()
}

// GetDataDir returns the data directory path
func GetDataDir() string {
	cfg, err := GetConfig()
	if err != nil || cfg.Server.DataPath == "" {
		return "./data"
	}
	return cfg.Server.DataPath
}

// GetPath returns a path relative to the data directory
func GetPath(subPath string) string {
	return filepath.Join(GetDataDir(), subPath)
}

// GetStoragePath returns the on-disk location of the configured event store
func GetStoragePath() string {
	cfg, err := GetConfig()
	if err != nil {
		return GetPath("events")
	}
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return GetPath(cfg.Storage.Driver)
}

// FilterResultTTL returns the filter-result cache TTL
func FilterResultTTL(cfg *types.Config) time.Duration {
	return time.Duration(cfg.Cache.FilterResultTTLMs) * time.Millisecond
}

// EventHandlingResultTTL returns the event-handling-result cache TTL. A
// negative value disables the cache.
func EventHandlingResultTTL(cfg *types.Config) time.Duration {
	return time.Duration(cfg.Cache.EventHandlingResultTTLMs) * time.Millisecond
}

// setDefaults registers defaults for every key. Values from an existing
// config file or the environment take precedence.
func setDefaults() {
	if _, err := os.Stat("config.yaml"); err != nil {
		log.Println("No existing config found, setting defaults for new installation")
	}

	// Server defaults
	viper.SetDefault("server.port", 9000)
	viper.SetDefault("server.bind_address", "0.0.0.0")
	viper.SetDefault("server.data_path", "./data")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.path", "")

	// Relay defaults
	viper.SetDefault("relay.domain", "")
	viper.SetDefault("relay.name", "HORNETS")
	viper.SetDefault("relay.description", "HORNETS nostr relay")
	viper.SetDefault("relay.pubkey", "")
	viper.SetDefault("relay.contact", "support@hornets.net")
	viper.SetDefault("relay.icon", "")
	viper.SetDefault("relay.software", "https://github.com/HORNET-Storage/hornets-relay-core")
	viper.SetDefault("relay.version", "0.1.0")
	viper.SetDefault("relay.supported_nips", []int{1, 2, 4, 9, 11, 13, 26, 40, 42})

	// Event acceptance limits
	viper.SetDefault("limits.created_at_upper_limit", 0)
	viper.SetDefault("limits.created_at_lower_limit", 0)
	viper.SetDefault("limits.min_pow_difficulty", 0)
	viper.SetDefault("limits.max_subscriptions_per_client", 20)

	// Request coalescing caches
	viper.SetDefault("cache.filter_result_ttl_ms", 1000)
	viper.SetDefault("cache.event_handling_result_ttl_ms", 600000)

	// Storage defaults
	viper.SetDefault("storage.driver", "badgerhold")
	viper.SetDefault("storage.path", "")
	viper.SetDefault("storage.dsn", "")

	viper.SetDefault("expiration.sweep_interval_seconds", 300)
}
