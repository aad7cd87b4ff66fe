package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opspilot/internal/configstore"
	"opspilot/internal/observability"
	"opspilot/internal/policy"
	"opspilot/internal/runner"
	"opspilot/internal/selector"
	"opspilot/internal/toolcache"
	"opspilot/internal/toolreg"
	"opspilot/internal/transport"
)

var version = "dev"

// Color helpers for terminal output.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI carries the lazily built runtime shared by the subcommands.
type CLI struct {
	verbose bool

	logger   *observability.Logger
	metrics  *observability.MetricsCollector
	tracing  *observability.TracerProvider
	registry *toolreg.Registry
	policies *policy.Store
	runner   *runner.Runner
	stub     *transport.StubTransport
}

func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "opspilot",
		Short: "Plan orchestration engine for operations questions",
		Long: `opspilot executes typed query plans against an infrastructure tool fleet:
it orders the plan's capability steps, picks tool implementations, runs them
through a composition pipeline with result caching, and renders answer blocks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setup()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("policy-dir", "", "Directory of policy asset YAML files")
	rootCmd.PersistentFlags().Int("cache-capacity", 512, "Tool result cache capacity")
	rootCmd.PersistentFlags().Duration("cache-ttl", 5*time.Minute, "Default tool result TTL")
	rootCmd.PersistentFlags().Bool("metrics", false, "Expose Prometheus metrics")
	rootCmd.PersistentFlags().Int("metrics-port", 9464, "Prometheus scrape port")
	rootCmd.PersistentFlags().Bool("tracing", false, "Export spans over OTLP")
	rootCmd.PersistentFlags().String("otlp-endpoint", "localhost:4318", "OTLP collector endpoint")

	for _, flag := range []string{
		"log-level", "log-format", "policy-dir", "cache-capacity", "cache-ttl",
		"metrics", "metrics-port", "tracing", "otlp-endpoint",
	} {
		_ = viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag))
	}

	rootCmd.AddCommand(newAskCommand(cli))
	rootCmd.AddCommand(newPoliciesCommand(cli))
	rootCmd.AddCommand(newToolsCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	viper.SetConfigName("opspilot-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("OPSPILOT")
	viper.AutomaticEnv()

	return rootCmd
}

// setup builds the shared runtime once per invocation.
func (cli *CLI) setup() error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cli.logger = observability.NewLogger(observability.LogConfig{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		Output: os.Stderr,
	})

	var err error
	cli.metrics, err = observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        viper.GetBool("metrics"),
		PrometheusPort: viper.GetInt("metrics-port"),
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	cli.tracing, err = observability.NewTracerProvider(observability.TracingConfig{
		Enabled:      viper.GetBool("tracing"),
		OTLPEndpoint: viper.GetString("otlp-endpoint"),
		ServiceName:  "opspilot",
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	var loader configstore.Loader
	if dir := viper.GetString("policy-dir"); dir != "" {
		loader = configstore.NewFileLoader(dir)
	}
	cli.policies = policy.NewStore(loader, cli.logger)

	cli.registry = toolreg.NewRegistry()
	cli.stub = transport.NewStubTransport()
	seedDemoData(cli.stub)
	if err := registerFleet(cli.registry, cli.stub); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	cache := toolcache.New(toolcache.Config{
		Capacity:   viper.GetInt("cache-capacity"),
		DefaultTTL: viper.GetDuration("cache-ttl"),
		OnEvict: func() {
			cli.metrics.RecordCacheEviction(context.Background())
		},
	})

	cli.runner, err = runner.New(runner.Options{
		Registry: cli.registry,
		Cache:    cache,
		Selector: selector.New(toolreg.DefaultProfiles(), cli.registry, cli.logger),
		Policies: cli.policies,
		Logger:   cli.logger,
		Metrics:  cli.metrics,
		Tracer:   cli.tracing.Tracer(),
	})
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the opspilot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("opspilot %s\n", version)
		},
	}
}
