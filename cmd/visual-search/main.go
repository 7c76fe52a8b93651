// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the visual-search CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/visual-search/internal/logger"
	"github.com/pdiddy/visual-search/internal/metrics"
	"github.com/pdiddy/visual-search/internal/secrets"
	"github.com/pdiddy/visual-search/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Set by the root command's PersistentPreRunE.
var (
	loadedSecrets map[string]string
	log           *zap.Logger
)

// rootCmd is the base command for the visual-search CLI.
var rootCmd = &cobra.Command{
	Use:   "visual-search",
	Short: "Find images on the web that look like a query image",
	Long: `visual-search takes a query image, describes it (or uses the text you
give), searches public image platforms tier by tier, drops candidates that
are no longer reachable, and ranks the rest by embedding similarity.

Sources are queried in tiers: keyless open-license platforms first, keyed
stock-photo APIs next, public feeds last. Later tiers run only when earlier
ones come up short.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			level = viper.GetString("logging.level")
		}
		l, err := logger.New(viper.GetString("logging.env"), level)
		if err != nil {
			return err
		}
		log = l

		s, err := secrets.Load(".secrets/", log)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			log.Debug("Loaded secrets", zap.Strings("keys", keys))
		}

		metrics.Register()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log != nil {
			defer log.Sync()
		}
		path, _ := cmd.Flags().GetString("metrics-file")
		if path == "" {
			return nil
		}
		if err := metrics.WriteTextfile(path); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./visual-search.yaml or ~/.config/visual-search/visual-search.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("metrics-file", "", "write Prometheus metrics in text format to this file on exit")
}

// envKeys are the nested config keys that can be set from the environment,
// e.g. VISUAL_SEARCH_EMBEDDING_ENDPOINT.
var envKeys = []string{
	"logging.env", "logging.level",
	"embedding.endpoint", "embedding.model", "embedding.api_key",
	"caption.base_url", "caption.model", "caption.api_key",
	"search.unsplash_access_key", "search.pexels_api_key", "search.pixabay_api_key",
	"cache.redis_addr", "cache.redis_password",
	"run_log_path",
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("visual-search")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "visual-search"))
		}
	}

	viper.SetEnvPrefix("VISUAL_SEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, k := range envKeys {
		viper.BindEnv(k)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the viper state into a PipelineConfig, fills API keys
// from .secrets/ and applies defaults.
func loadConfig() (types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	secrets.Apply(loadedSecrets, &cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
