package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kelsos/x-checker/internal/config"
	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/notify"
	"github.com/kelsos/x-checker/internal/services"
)

// app carries state shared by every subcommand
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	envNotes []string
}

// flagKeys maps persistent flags onto their config keys
var flagKeys = map[string]string{
	"api-key":       "api_key",
	"base-url":      "base_url",
	"user-id":       "user_id",
	"interval":      "poll_interval",
	"timeout":       "timeout",
	"http-timeout":  "http_timeout",
	"max-retries":   "max_retries",
	"concurrency":   "concurrency",
	"results-dir":   "results_dir",
	"download":      "download",
	"cleanup-input": "cleanup_input",
	"output":        "output",
	"nats-url":      "nats_url",
	"nats-subject":  "nats_subject",
	"config":        "config",
	"debug":         "debug",
}

func newRootCmd(a *app) *cobra.Command {
	d := config.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "xcheck",
		Short: "A CLI tool for checking phone numbers for X accounts",
		Long: `xcheck uploads files of phone numbers to the checknumber.ai X account
verification API and waits for the asynchronous task to finish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api-key", "", "API key (env XCHECK_API_KEY or TWITTER_API_KEY)")
	flags.String("base-url", d.BaseURL, "Base URL of the task API")
	flags.String("user-id", "", "User id sent with status polls (default: random UUID)")
	flags.Duration("interval", d.PollInterval, "Delay between status polls")
	flags.Duration("timeout", d.Timeout, "Maximum time to wait for a task, 0 for no limit")
	flags.Duration("http-timeout", d.HTTPTimeout, "Timeout of a single HTTP request")
	flags.Int("max-retries", d.MaxRetries, "Retries of a failed status poll on transient errors")
	flags.Int("concurrency", d.Concurrency, "Maximum number of files checked at once")
	flags.String("results-dir", d.ResultsDir, "Directory where result files are stored")
	flags.Bool("download", d.Download, "Download result files of exported tasks")
	flags.Bool("cleanup-input", d.CleanupInput, "Remove input files after a successful check")
	flags.String("output", d.Output, "Output format: text, json or yaml")
	flags.String("nats-url", "", "Publish status snapshots to this NATS server")
	flags.String("nats-subject", d.NatsSubject, "NATS subject for status snapshots")
	flags.String("config", "", "Config file (default: ./xcheck.yaml if present)")
	flags.Bool("debug", false, "Enable debug logging")

	if err := bindFlags(a.v, flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newCheckCmd(a),
		newSubmitCmd(a),
		newStatusCmd(a),
		newWaitCmd(a),
		newInputCmd(a),
		newDownloadCmd(a),
	)

	return rootCmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// load layers defaults, config file, environment and flags into a.cfg
func (a *app) load() error {
	config.SetDefaults(a.v)
	if err := config.BindEnvironment(a.v); err != nil {
		return err
	}
	if err := config.ReadConfigFile(a.v, a.v.GetString("config")); err != nil {
		return err
	}

	a.cfg = config.FromViper(a.v)
	logger.Init(a.cfg.Debug)
	for _, note := range a.envNotes {
		logger.Debug("%s", note)
	}
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("Using config file %s", used)
	}
	return nil
}

// newService validates the configuration and builds a check service. The
// returned function closes the NATS connection, if any, before returning.
func (a *app) newService(opts ...services.Option) (*services.CheckService, func(), error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	closeFn := func() {}
	if a.cfg.NatsURL != "" {
		nc, err := notify.Connect(a.cfg.NatsURL, "xcheck")
		if err != nil {
			logger.Warn("Status events disabled: %v", err)
		} else {
			notifier := notify.NewStatusNotifier(nc, a.cfg.NatsSubject)
			opts = append(opts, services.WithObserver(notifier.Observe))
			closeFn = func() {
				if err := notify.Shutdown(nc, 5*time.Second); err != nil {
					logger.Warn("%v", err)
				}
			}
			logger.Info("Publishing status events to %s on %s", a.cfg.NatsSubject, a.cfg.NatsURL)
		}
	}

	return services.NewCheckService(a.cfg, opts...), closeFn, nil
}

func main() {
	a := &app{
		v:        viper.New(),
		envNotes: config.LoadDotEnv(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	start := time.Now()
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()

	if err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
	logger.Debug("Finished in %v", time.Since(start).Round(time.Millisecond))
}
