package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kelvinhq/panelmon/config"
)

var (
	configPath     string
	generateConfig string
	testMode       bool
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "panelmon",
	Short: "NAS telemetry publisher over embedded or external MQTT",
	Long: `panelmon periodically samples host metrics (CPU, memory, storage,
network, plus user-defined probes) and publishes them as JSON over MQTT,
either via its own embedded broker or as a client of an external one.`,
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "panelmon.yaml", "path to the YAML configuration file")
	flags.StringVar(&generateConfig, "generate-config", "", "write a default configuration to PATH and exit")
	flags.BoolVar(&testMode, "test", false, "perform a single collection cycle, print the JSON payload, and exit")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

func setLogLevel() {
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func slogLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func runRoot(cmd *cobra.Command, args []string) error {
	setLogLevel()

	if generateConfig != "" {
		if err := config.Generate(generateConfig); err != nil {
			return err
		}
		log.Infof("wrote default configuration to %s", generateConfig)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel()}))

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if testMode {
		return a.runTest(ctx)
	}

	log.Infof("panelmon starting: mqtt.type=%s hostname=%s topic=%s interval=%ds",
		cfg.MQTT.Type, cfg.Server.Hostname, cfg.MQTT.Topic, cfg.Collection.IntervalSeconds)

	err = a.run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Execute runs the root command, returning its error for main to turn into
// a process exit code.
func Execute() error {
	return rootCmd.Execute()
}
