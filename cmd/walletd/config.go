package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	HTTP struct {
		Addr    string        `mapstructure:"addr"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"http"`

	NATS struct {
		// URL enables the NATS adapters; empty runs fully in memory.
		URL    string `mapstructure:"url"`
		Prefix string `mapstructure:"prefix"`
		Bucket string `mapstructure:"bucket"`
		Events bool   `mapstructure:"events"`
		// ServeLedger serves an in-memory ledger on NATS, for development.
		ServeLedger bool `mapstructure:"serve_ledger"`
	} `mapstructure:"nats"`

	Ledger struct {
		Backend     string        `mapstructure:"backend"` // memory | nats
		CacheSize   int           `mapstructure:"cache_size"`
		CacheTTL    time.Duration `mapstructure:"cache_ttl"`
		MaxFailures uint32        `mapstructure:"max_failures"`
		OpenTimeout time.Duration `mapstructure:"open_timeout"`
	} `mapstructure:"ledger"`

	Runtime struct {
		Workers           int           `mapstructure:"workers"`
		MailboxSize       int           `mapstructure:"mailbox_size"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
		StrictInit        bool          `mapstructure:"strict_init"`
		VersionConstraint string        `mapstructure:"version_constraint"`
	} `mapstructure:"runtime"`

	IOTimeout time.Duration `mapstructure:"io_timeout"`
}

// setDefaults registers every key, which also makes each of them
// overridable from the environment, e.g. WALLETRT_RUNTIME_WORKERS.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.prefix", "walletrt")
	v.SetDefault("nats.bucket", "walletrt-accounts")
	v.SetDefault("nats.events", true)
	v.SetDefault("nats.serve_ledger", false)

	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.cache_size", 1024)
	v.SetDefault("ledger.cache_ttl", time.Minute)
	v.SetDefault("ledger.max_failures", 5)
	v.SetDefault("ledger.open_timeout", 10*time.Second)

	v.SetDefault("runtime.workers", 0)
	v.SetDefault("runtime.mailbox_size", 1024)
	v.SetDefault("runtime.shutdown_timeout", 10*time.Second)
	v.SetDefault("runtime.strict_init", false)
	v.SetDefault("runtime.version_constraint", "")

	v.SetDefault("io_timeout", 15*time.Second)
}

func loadConfig(v *viper.Viper) (config, error) {
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	switch cfg.Ledger.Backend {
	case "memory":
	case "nats":
		if cfg.NATS.URL == "" {
			return cfg, fmt.Errorf("ledger.backend nats requires nats.url")
		}
	default:
		return cfg, fmt.Errorf("unknown ledger.backend %q", cfg.Ledger.Backend)
	}
	return cfg, nil
}
