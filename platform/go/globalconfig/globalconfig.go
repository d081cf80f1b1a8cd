// Package globalconfig loads the settings shared by every world: the public index URL the
// world hostnames derive from, plus cache and session defaults.
package globalconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
)

// EnvPrefix prefixes environment overrides, e.g. WORLDS_INDEXURL or WORLDS_CACHE_REDISURL.
const EnvPrefix = "WORLDS"

// Settings is the decoded global settings file.
type Settings struct {
	IndexURL string          `mapstructure:"indexUrl"`
	Cache    CacheSettings   `mapstructure:"cache"`
	Session  SessionSettings `mapstructure:"session"`
}

// CacheSettings configures the per-world cache. An empty RedisURL selects the in-memory store.
type CacheSettings struct {
	RedisURL string        `mapstructure:"redisUrl"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SessionSettings configures impersonated sessions.
type SessionSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// BaseDomain returns the host world subdomains are created under.
func (s Settings) BaseDomain() string {
	return tenant.BaseDomain(s.IndexURL)
}

// Load reads path with a fresh viper instance, so no state is shared between calls.
// An empty path yields defaults plus environment overrides.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("indexUrl", "http://localhost/")
	v.SetDefault("cache.redisUrl", "")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("session.timeout", "1m")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read global settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode global settings: %w", err)
	}
	if strings.TrimSpace(s.IndexURL) == "" {
		return Settings{}, fmt.Errorf("global settings: indexUrl is required")
	}
	return s, nil
}
