// Package main provides an agent that reads the value block of ISO 15693 (NFC-V) tags
// and shows it, with a localized status, in the system tray or on the console.
//
// Usage:
//
//	nfcv-agent [run] [--cli] [--device NAME] [--locale it|en|de|pl]
//	nfcv-agent read [--timeout 30s]
//	nfcv-agent devices
//	nfcv-agent version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nedpals/nfcv-agent/buildinfo"
	"github.com/nedpals/nfcv-agent/config"
	"github.com/nedpals/nfcv-agent/display"
	"github.com/nedpals/nfcv-agent/logging"
)

var (
	configPathFlag string
	deviceFlag     string
	localeFlag     string
	logLevelFlag   string
	transportsFlag []string
	cliFlag        bool
	timeoutFlag    time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   buildinfo.Name,
	Short: buildinfo.Description,
	Long: `Reads block 0 of ISO 15693 tags presented to a PC/SC, libnfc or remote reader,
decodes its first four bytes as a big-endian integer and shows the value.

Without a subcommand the agent runs in the system tray.`,
	Version:       buildinfo.FullVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAgent,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent (system tray unless --cli)",
	Example: `  # Tray mode with the first PC/SC reader
  nfcv-agent run

  # Console mode, English messages, PC/SC and phone readers
  nfcv-agent run --cli --locale en --transport pcsc --transport remote`,
	RunE: runAgent,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Wait for one tag, print its value and exit",
	Long: `Wait for one tag and print the decoded value on stdout.

The command exits non-zero when the exchange fails or no tag is presented before
--timeout.`,
	RunE: runRead,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List readers of the enabled transports",
	RunE:  runDevices,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPathFlag, "config", "", "Path to config file (default: user config dir)")
	flags.StringVar(&deviceFlag, "device", "", "Reader to use (default: first found)")
	flags.StringVar(&localeFlag, "locale", "", "Display language (it, en, de, pl)")
	flags.StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error, off)")
	flags.StringSliceVar(&transportsFlag, "transport", nil, "Transports to enable (pcsc, libnfc, remote)")

	rootCmd.Flags().BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	runCmd.Flags().BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	readCmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "How long to wait for a tag")

	rootCmd.AddCommand(runCmd, readCmd, devicesCmd, versionCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device = deviceFlag
	}
	if flags.Changed("locale") {
		cfg.Locale = localeFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("transport") {
		cfg.Transports = transportsFlag
	}
	if flags.Changed("cli") {
		cfg.Tray = !cliFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	logger := logging.GetLogger()
	agent := NewAgent(cfg, logger, display.NewLogSink(logger.Named("display")))
	defer agent.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Tray {
		app := NewSystrayApp(agent, configPathFlag)
		go func() {
			<-sigChan
			app.Quit()
		}()
		app.Run()
		return nil
	}

	if err := agent.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	<-sigChan
	logger.Info("shutdown signal received")
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	logger := logging.GetLogger()
	agent := NewAgent(cfg, logger)
	defer agent.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := agent.ReadOnce(ctx)
	if err != nil {
		return err
	}

	view := agent.Display.Presenter().Outcome(out)
	if !out.OK() {
		return fmt.Errorf("%s: %w", view.Info, out.Err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Decimal)
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	agent := NewAgent(cfg, logging.GetLogger())
	defer agent.Close()

	devices, err := agent.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), agent.Display.Presenter().Text(display.KeyReaderMissing))
		return nil
	}
	for _, d := range devices {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}
