package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openpredict/predex/api"
	"github.com/openpredict/predex/api/websocket"
	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/config"
	"github.com/openpredict/predex/store"
	agentkeeper "github.com/openpredict/predex/x/agent/keeper"
	exchangekeeper "github.com/openpredict/predex/x/exchange/keeper"
	marketkeeper "github.com/openpredict/predex/x/market/keeper"
	obkeeper "github.com/openpredict/predex/x/orderbook/keeper"
	settlementkeeper "github.com/openpredict/predex/x/settlement/keeper"
)

const shutdownTimeout = 10 * time.Second

// StartCmd runs the daemon until interrupted.
func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exchange daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logger.Info("starting predexd", "version", version)

	st, err := store.Open(cfg.Database.URL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	b, err := broker.New(cfg.Broker.URL, logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer b.Close()

	hub := websocket.NewHub(websocket.Config{
		HeartbeatInterval: cfg.Websocket.HeartbeatInterval(),
		SendBuffer:        cfg.Websocket.SendBuffer,
		MaxSubscriptions:  cfg.Websocket.MaxSubscriptions,
	}, b, logger)

	registry, err := obkeeper.NewRegistry(obkeeper.LadderBackend(cfg.Orderbook.Backend))
	if err != nil {
		return err
	}
	engine := obkeeper.NewEngine(registry, logger)

	defaultB, err := cfg.Market.LiquidityB()
	if err != nil {
		return err
	}
	markets := marketkeeper.NewKeeper(st, registry, hub, defaultB, logger)

	worker := settlementkeeper.NewWorker(st, b, hub, consumerName(), logger)

	exchange := exchangekeeper.NewKeeper(
		engine, markets, worker.Queue(), hub, st,
		exchangekeeper.DefaultRetryConfig(), logger,
	)
	defer exchange.Close()

	scheduler := agentkeeper.NewScheduler(
		broker.NewDelayedQueue(b, agentkeeper.QueueName),
		markets,
		exchange,
		agentkeeper.DefaultBandPolicy(),
		hub,
		agentkeeper.Config{
			PollInterval:   cfg.Agent.PollInterval(),
			Batch:          cfg.Agent.Batch,
			Workers:        cfg.Agent.Workers,
			TradingEnabled: cfg.Agent.TradingEnabled,
		},
		logger,
	)

	server := api.NewServer(api.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		DisableRateLimit: cfg.Server.DisableRateLimit,
	}, api.Deps{
		Markets:  markets,
		Exchange: exchange,
		Agents:   scheduler,
		Store:    st,
		Hub:      hub,
	}, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("predexd stopped")
	return err
}

func newLogger(cfg config.LoggingConfig) (log.Logger, error) {
	filter, err := log.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	opts := []log.Option{log.FilterOption(filter)}
	if cfg.Format == "json" {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(os.Stderr, opts...), nil
}

// consumerName identifies this instance within the settlement consumer
// group, so stalled deliveries can be traced to a process.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "predexd"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
