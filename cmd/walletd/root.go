package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "WALLETRT"

type cli struct {
	v     *viper.Viper
	level *slog.LevelVar
	log   *slog.Logger

	configFile string
	debug      bool
}

func newCLI() *cli {
	c := &cli{v: viper.New(), level: new(slog.LevelVar)}
	c.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.level}))
	return c
}

func newRootCmd() *cobra.Command { return newCLI().rootCmd() }

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "walletd",
		Short:         "wallet runtime service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default: ./walletd.yaml if present)")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "debug logging")

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.sendCmd())
	root.AddCommand(c.versionCmd())
	return root
}

// init loads the configuration and starts watching the config file. Only
// the log level is applied on change; everything else needs a restart.
func (c *cli) init() error {
	setDefaults(c.v)
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	c.v.SetConfigType("yaml")

	if c.configFile != "" {
		c.v.SetConfigFile(c.configFile)
	} else {
		c.v.SetConfigName("walletd")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("/etc/walletd")
	}

	fileLoaded := true
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		fileLoaded = false
	}

	if err := c.applyLogLevel(); err != nil {
		return err
	}

	if fileLoaded {
		c.v.OnConfigChange(func(e fsnotify.Event) {
			if err := c.applyLogLevel(); err != nil {
				c.log.Warn("config reload failed", slog.String("file", e.Name), slog.Any("error", err))
				return
			}
			c.log.Info("config reloaded", slog.String("file", e.Name), slog.String("log_level", c.level.Level().String()))
		})
		c.v.WatchConfig()
	}
	return nil
}

func (c *cli) applyLogLevel() error {
	if c.debug {
		c.level.Set(slog.LevelDebug)
		return nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.v.GetString("log.level"))); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	c.level.Set(lvl)
	return nil
}
