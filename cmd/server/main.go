package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"towerdefense/server/internal/app"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()

	root := &cobra.Command{
		Use:           "towerdefense-server",
		Short:         "Multi-room cooperative tower defense server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return app.Run(context.Background(), cfg)
		},
	}

	app.SetDefaults(v)
	flags := root.Flags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.Int("port", 8080, "HTTP listen port")
	flags.Duration("tick-interval", v.GetDuration("tick_interval"), "simulation tick interval")
	flags.Duration("grace-period", v.GetDuration("grace_period"), "reconnect window for disconnected players")
	flags.String("store-driver", "file", "snapshot store: file, redis, sql or none")
	flags.String("store-url", "", "store location: directory, redis URL or DSN")
	flags.String("log-level", "info", "log level")
	flags.String("client-dir", "", "serve static client files from this directory")
	flags.Bool("pprof", false, "mount /debug/pprof")

	for key, flag := range map[string]string{
		"port":          "port",
		"tick_interval": "tick-interval",
		"grace_period":  "grace-period",
		"store.driver":  "store-driver",
		"store.url":     "store-url",
		"log.level":     "log-level",
		"client_dir":    "client-dir",
		"pprof":         "pprof",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return root
}
