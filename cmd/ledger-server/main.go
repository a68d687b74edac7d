package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ruteri/confidential-loan-ledger/api/ledgerhandler"
	"github.com/ruteri/confidential-loan-ledger/cmd/flags"
	"github.com/ruteri/confidential-loan-ledger/events"
	"github.com/ruteri/confidential-loan-ledger/httpserver"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
	"github.com/ruteri/confidential-loan-ledger/ledger"
	"github.com/ruteri/confidential-loan-ledger/storage"
	"github.com/ruteri/confidential-loan-ledger/store"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = flags.ListenAddrFlagFn("127.0.0.1:8080")

var StoreDSNFlag = &cli.StringFlag{
	Name:    "store-dsn",
	Value:   "memory",
	EnvVars: []string{"LEDGER_STORE_DSN"},
	Usage:   "ledger state store: 'memory' or a postgres:// DSN",
}

var PendingTTLFlag = &cli.DurationFlag{
	Name:  "pending-ttl",
	Value: ledger.DefaultPendingTTL,
	Usage: "how long an unanswered decryption request stays correlated",
}

var SweepIntervalFlag = &cli.DurationFlag{
	Name:  "sweep-interval",
	Value: ledger.DefaultSweepInterval,
	Usage: "how often expired decryption requests are evicted",
}

var RedisURLFlag = &cli.StringFlag{
	Name:    "redis-url",
	EnvVars: []string{"LEDGER_REDIS_URL"},
	Usage:   "publish ledger events to a Redis stream at this URL",
}

var RedisStreamFlag = &cli.StringFlag{
	Name:  "redis-stream",
	Value: events.DefaultStream,
	Usage: "Redis stream receiving ledger events",
}

var EventsIntervalFlag = &cli.DurationFlag{
	Name:  "events-interval",
	Value: time.Second,
	Usage: "how often the event outbox is drained",
}

func main() {
	app := &cli.App{
		Name:  "ledger-server",
		Usage: "Serve the confidential loan-application ledger",
		Flags: append(append([]cli.Flag{
			ListenAddrFlag,
			StoreDSNFlag,
			flags.StorageFlag,
			flags.FHEPublicKeyFlag,
			PendingTTLFlag,
			SweepIntervalFlag,
			RedisURLFlag,
			RedisStreamFlag,
			EventsIntervalFlag,
			flags.LogServiceFlagFn("ledger"),
		}, OracleFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			blobs, err := storage.NewStorageBackendFactory(logger).FromURIs(cCtx.StringSlice(flags.StorageFlag.Name))
			if err != nil {
				logger.Error("Failed to configure ciphertext storage", "err", err)
				return err
			}

			st, err := store.Open(ctx, cCtx.String(StoreDSNFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open ledger store", "err", err)
				return err
			}
			defer st.Close()

			provider, err := flags.LoadProvider(cCtx.String(flags.FHEPublicKeyFlag.Name))
			if err != nil {
				logger.Error("Failed to load FHE public key", "err", err)
				return err
			}

			setup, err := SetupOracle(cCtx, blobs, logger)
			if err != nil {
				logger.Error("Failed to configure oracle", "err", err)
				return err
			}

			l, err := ledger.New(ledger.Config{
				Oracle:        setup.address,
				PendingTTL:    cCtx.Duration(PendingTTLFlag.Name),
				SweepInterval: cCtx.Duration(SweepIntervalFlag.Name),
				CallbackURL:   setup.callbackURL,
			}, st, blobs, provider, setup.oracle, setup.verifier, logger)
			if err != nil {
				logger.Error("Failed to create ledger", "err", err)
				return err
			}
			if setup.local != nil {
				setup.local.Callback = l
			}

			sinks := []interfaces.EventSink{events.NewLogSink(logger)}
			if redisURL := cCtx.String(RedisURLFlag.Name); redisURL != "" {
				redisSink, err := events.NewRedisSink(ctx, redisURL, cCtx.String(RedisStreamFlag.Name))
				if err != nil {
					logger.Error("Failed to connect to Redis", "err", err)
					return err
				}
				defer redisSink.Close()
				sinks = append(sinks, redisSink)
			}
			relay := events.NewRelay(st, sinks, logger, events.WithInterval(cCtx.Duration(EventsIntervalFlag.Name)))

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name)), ledgerhandler.NewHandler(l, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			var wg sync.WaitGroup
			background := []func(context.Context){l.Run, relay.Run}
			if setup.relayer != nil {
				background = append(background, setup.relayer.Run)
			}
			for _, run := range background {
				wg.Add(1)
				go func(run func(context.Context)) {
					defer wg.Done()
					run(ctx)
				}(run)
			}

			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			cancel()
			wg.Wait()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
