package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vitwit/payterm"
	"github.com/vitwit/payterm/cache"
	"github.com/vitwit/payterm/config"
	"github.com/vitwit/payterm/events"
	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/types"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "payterm",
	Short: "Point of sale terminal for on-chain payment contracts",
	Long: `payterm keeps a live view of payment terminal contracts on EVM,
Stellar/Soroban and Tron networks and serves it over an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")
}

// app is everything a command builds from the config file.
type app struct {
	cfg      *config.Config
	log      *logger.ZapLogger
	registry *prometheus.Registry
	term     *payterm.Terminal
	closers  []func() error
}

// newApp builds the terminal. When only is set, just that network is added.
func newApp(ctx context.Context, only types.Network) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      logger.NewZapLoggerForEnv(cfg.Terminal.Env, cfg.Terminal.LogLevel),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []payterm.Option{payterm.WithLogger(a.log)}
	if cfg.Terminal.EnableMetrics {
		opts = append(opts, payterm.WithMetrics(metrics.NewPrometheusRecorder(a.registry)))
	}

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCacheFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, types.NewError(types.ErrConfigError, "redis: %v", err)
		}
		a.closers = append(a.closers, rc.Close)
		opts = append(opts, payterm.WithProfileStore(cache.NewProfileStore(rc)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		opts = append(opts, payterm.WithPublisher(events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)))
	}

	a.term = payterm.New(&cfg.Terminal, opts...)
	if only != "" {
		client, ok := cfg.Terminal.Clients[only]
		if !ok {
			a.close()
			return nil, types.NewError(types.ErrUnsupportedNetwork, "network %s is not configured", only)
		}
		err = a.term.AddNetwork(only, client)
	} else {
		err = a.term.AddConfiguredNetworks()
	}
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if err := a.term.Close(); err != nil {
		a.log.Warn("terminal close failed", map[string]any{"error": err})
	}
	for _, c := range a.closers {
		_ = c()
	}
	a.log.Sync()
}
