// Package main provides the offcache CLI: an offline-first caching proxy for
// a web app shell.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offcache/internal/config"
	"github.com/unkn0wn-root/offcache/internal/logging"
)

var (
	// Version as provided by the release build.
	Version = ""

	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "offcache",
		Short:         "Serve a web app shell from a versioned offline cache",
		SilenceErrors: false,
		SilenceUsage:  true,
	}
)

// loadConfig reads file and environment configuration, then applies the
// flags the user set explicitly on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"log-level": &cfg.LogLevel,
		"listen":    &cfg.Listen,
		"origin":    &cfg.Origin,
		"provider":  &cfg.Provider,
	}
	for name, dst := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	return logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	dirs, _ := config.SearchDirs()
	def := "offcache.yaml"
	if len(dirs) > 0 {
		def = dirs[0] + string(os.PathSeparator) + def
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", def))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("provider", "", "storage provider (disk, bigcache, ristretto, redis)")

	rootCmd.AddCommand(serveCmd, installCmd, statusCmd, purgeCmd)
}
