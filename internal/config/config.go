package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	// Forwarding headers are honored only when the peer is inside one of
	// these CIDRs.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.1/32,::1/128"`

	SessionLifetimeHours      int `env:"SESSION_LIFETIME_HOURS" envDefault:"8"`
	SessionIdleTimeoutMinutes int `env:"SESSION_IDLE_TIMEOUT_MINUTES" envDefault:"120"`
	SessionRetentionHours     int `env:"SESSION_RETENTION_HOURS" envDefault:"168"`
	CleanupIntervalMinutes    int `env:"CLEANUP_INTERVAL_MINUTES" envDefault:"60"`
	MirrorIdleMinutes         int `env:"MIRROR_IDLE_MINUTES" envDefault:"480"`

	ContextDefaults ContextDefaults `envPrefix:"CONTEXT_DEFAULT_"`
	BootstrapAdmin  BootstrapAdmin  `envPrefix:"BOOTSTRAP_ADMIN_"`
}

// BootstrapAdmin is the account created at startup when no active admin
// exists. Leaving the password empty disables bootstrapping.
type BootstrapAdmin struct {
	Username string `env:"USERNAME" envDefault:"admin"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"Default Administrator"`
}

func (b BootstrapAdmin) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// ContextDefaults are the values substituted for client metadata the request
// cannot supply.
type ContextDefaults struct {
	IP             string `env:"IP" envDefault:"127.0.0.1"`
	UserAgent      string `env:"USER_AGENT" envDefault:"Dashboard/1.0 (unknown client)"`
	URL            string `env:"URL" envDefault:"http://localhost:8080"`
	Timezone       string `env:"TIMEZONE" envDefault:"Asia/Jakarta"`
	TimezoneOffset int    `env:"TIMEZONE_OFFSET" envDefault:"-420"`
	Locale         string `env:"LOCALE" envDefault:"id-ID"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionLifetimeHours) * time.Hour
}

// IdleTimeout returns zero when idle enforcement is disabled.
func (c *Config) IdleTimeout() time.Duration {
	if c.SessionIdleTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(c.SessionIdleTimeoutMinutes) * time.Minute
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionHours) * time.Hour
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

func (c *Config) MirrorIdle() time.Duration {
	return time.Duration(c.MirrorIdleMinutes) * time.Minute
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses are accepted as
// single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

func (c *Config) Validate() error {
	if c.SessionLifetimeHours <= 0 {
		return fmt.Errorf("SESSION_LIFETIME_HOURS must be positive")
	}
	if c.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL_MINUTES must be positive")
	}
	if c.SessionIdleTimeoutMinutes > 0 && c.IdleTimeout() >= c.SessionLifetime() {
		log.Warn().
			Int("idleMinutes", c.SessionIdleTimeoutMinutes).
			Int("lifetimeHours", c.SessionLifetimeHours).
			Msg("idle timeout is not shorter than session lifetime: idle enforcement has no effect")
	}
	if _, err := time.LoadLocation(c.ContextDefaults.Timezone); err != nil {
		return fmt.Errorf("CONTEXT_DEFAULT_TIMEZONE: %w", err)
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.BootstrapAdmin.Password != "" && len(c.BootstrapAdmin.Password) < MinBootstrapPasswordLength {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least %d characters", MinBootstrapPasswordLength)
	}
	return nil
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
