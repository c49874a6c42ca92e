// zily is a duplex session daemon and client.
//
// The daemon accepts peers over TCP, Unix sockets or named pipes, prints
// what they send on its console, journals every session in SQLite, and
// exposes an admin REST API and MQTT telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/util"
)

const banner = `
  ____ _ _
 |_  /(_) |_  _
  / / | | | || |
 /___||_|_|\_, |
           |__/  v%s
`

type globalFlags struct {
	configDir string
	logLevel  string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "zily",
		Short: "Duplex session daemon and client",
		Long: `zily carries console text and control messages between two sides
over TCP, Unix sockets or named pipes, with optional AES encryption.

Run "zily serve" for the daemon, "zily connect" to join one, or
"zily accept" to wait for a single peer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configDir, "config", "c", config.DefaultConfigDir, "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		serveCmd(&flags),
		connectCmd(&flags),
		acceptCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and reconfigures the global logger
// from it. console selects human-readable logs on stderr.
func loadConfig(flags *globalFlags, console bool) (*config.Config, error) {
	if err := util.InitLogger(util.LogConfig{Level: "info", Console: console, Out: os.Stderr}); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.GetApplicationData().Logging
	logCfg := util.DefaultLogConfig()
	logCfg.Level = logging.Level
	logCfg.Directory = logging.Directory
	logCfg.Console = console
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	return cfg, nil
}
