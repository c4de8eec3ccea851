// Package config loads application settings from an optional TOML file and
// the process environment. Environment variables win over the file, and the
// embedded example file supplies the defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Credentials CredentialsConfig `toml:"credentials"`
	Providers   ProvidersConfig   `toml:"providers"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	MusoAI      MusoAIConfig      `toml:"musoai"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// Env set to "production" hides upstream error bodies from API clients.
	Env string `toml:"env"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed when identifying callers.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type CredentialsConfig struct {
	Spotify     SpotifyCredentials `toml:"spotify"`
	SpotOnTrack APIKeyCredentials  `toml:"spotontrack"`
	MusoAI      APIKeyCredentials  `toml:"musoai"`
}

type SpotifyCredentials struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type APIKeyCredentials struct {
	APIKey string `toml:"api_key"`
}

type ProvidersConfig struct {
	Timeout Duration `toml:"timeout"`
}

type RateLimitConfig struct {
	// Store is "memory" or "sqlite".
	Store        string   `toml:"store"`
	Limit        int      `toml:"limit"`
	Window       Duration `toml:"window"`
	DatabasePath string   `toml:"database_path"`
}

type MusoAIConfig struct {
	PacingRPS   float64 `toml:"pacing_rps"`
	PacingBurst int     `toml:"pacing_burst"`
}

// Duration reads values such as "12s" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProxyPrefixes parses Server.TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: %w", err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// Default returns the configuration from the embedded example file.
func Default() *Config {
	var c Config
	if err := toml.Unmarshal(exampleConf, &c); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &c
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"SPOTONTRACK_API_KEY":   &c.Credentials.SpotOnTrack.APIKey,
		"MUSOAI_API_KEY":        &c.Credentials.MusoAI.APIKey,
		"LISTEN_ADDR":           &c.Server.Addr,
		"APP_ENV":               &c.Server.Env,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"RATE_LIMIT_STORE":      &c.RateLimit.Store,
		"DATABASE_PATH":         &c.RateLimit.DatabasePath,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		c.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v, ok := lookup("PROVIDER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROVIDER_TIMEOUT: %w", err)
		}
		c.Providers.Timeout.Duration = d
	}
	if v, ok := lookup("RATE_LIMIT_MAX"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_MAX: %w", err)
		}
		c.RateLimit.Limit = n
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.RateLimit.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("rate_limit.store must be memory or sqlite, got %q", c.RateLimit.Store)
	}
	if c.RateLimit.Store == "sqlite" && c.RateLimit.DatabasePath == "" {
		return errors.New("rate_limit.database_path is required for the sqlite store")
	}
	if c.Providers.Timeout.Duration <= 0 {
		return errors.New("providers.timeout must be positive")
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		return err
	}
	return nil
}
