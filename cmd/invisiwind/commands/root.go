package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/invisiwind/invisiwind/internal/config"
	"github.com/invisiwind/invisiwind/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "invisiwind",
		Short: "invisiwind - Hide windows from screen capture",
		Long: `invisiwind hides chosen application windows from screen sharing and
recording while they stay visible on your own screen.

Features:
  • List user-facing top-level windows and their owning processes
  • Hide or show windows by process id, process name or window handle
  • Optionally hide windows from the taskbar as well
  • Rules that hide matching windows automatically
  • Persistent configuration
  • Local REST and WebSocket API for integration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/invisiwind/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 7878)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("invisiwind")
	viper.BindEnv("log_level")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig loads the configuration, applies flag overrides and configures
// logging from the result.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	configMgr.Override(viper.GetString("log_level"), viper.GetInt("server.port"))

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.PrettyLog)
	logger.WithComponent("cli").Debug().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")
	return configMgr, nil
}
