// Command whalecopy runs the whale copy-trading engine: the tiered
// scheduler that watches whales, the dispatcher that mirrors their
// signals onto followers, and the position monitor that keeps open
// positions priced and reconciled. Bootstrap follows the usual layered
// shape: load config, wire components bottom-up, start background
// loops, wait on SIGINT/SIGTERM, then cancel and drain.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/whalecopy/internal/cache"
	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/cron"
	"github.com/web3guy0/whalecopy/internal/creds"
	"github.com/web3guy0/whalecopy/internal/deadletter"
	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/engine"
	"github.com/web3guy0/whalecopy/internal/events"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/monitor"
	"github.com/web3guy0/whalecopy/internal/resilience"
	"github.com/web3guy0/whalecopy/internal/risk"
	"github.com/web3guy0/whalecopy/internal/scheduler"
	copysignal "github.com/web3guy0/whalecopy/internal/signal"
	"github.com/web3guy0/whalecopy/internal/store"
	"github.com/web3guy0/whalecopy/internal/ticker"
)

// dispatchWorkers is how many signals the engine processes concurrently
// out of the pending queue.
const dispatchWorkers = 4

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Info().Msg("whalecopy starting")

	db, err := store.Open(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening store")
	}
	defer db.Close()

	rdb, err := cache.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to redis")
	}
	defer rdb.Close()

	resilienceWrapper := resilience.New(resilience.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseDelay:        cfg.Retry.BaseDelay,
		MaxDelay:         cfg.Retry.MaxDelay,
		FailureThreshold: uint32(cfg.Circuit.FailureThreshold),
		OpenCooldown:     cfg.Circuit.CooldownPeriod,
		HalfOpenProbes:   cfg.Circuit.HalfOpenProbes,
		CloseSuccesses:   cfg.Circuit.SuccessThreshold,
	}.WithDefaults())

	adapters := map[domain.Venue]exchange.Adapter{
		domain.VenueBinance: resilience.Wrap(exchange.NewBinanceAdapter(), resilienceWrapper),
		domain.VenueOKX:     resilience.Wrap(exchange.NewOKXAdapter(), resilienceWrapper),
		domain.VenueBybit:   resilience.Wrap(exchange.NewBybitAdapter(), resilienceWrapper),
		domain.VenueBitget:  resilience.Wrap(exchange.NewBitgetAdapter(), resilienceWrapper),
	}

	onchain, err := exchange.NewOnchainAdapter(map[string]string{}, map[string][]exchange.TrackedToken{})
	if err != nil {
		log.Fatal().Err(err).Msg("building onchain adapter")
	}

	credProvider := creds.NewEnvProvider()
	riskMgr := risk.New(cfg, db)
	bus := events.New()
	bus.Subscribe(events.TradeFailed, func(ev events.Event) {
		log.Warn().Interface("payload", ev.Payload).Msg("trade failed")
	})
	bus.Subscribe(events.PositionLiquidated, func(ev events.Event) {
		log.Warn().Interface("payload", ev.Payload).Msg("position liquidated")
	})

	dlq := deadletter.New(0)

	dispatcher := engine.New(cfg, db, rdb, riskMgr, adapters, credProvider, bus)
	sched := scheduler.New(cfg, db, rdb, adapters, onchain)

	tickerCache := ticker.New(binanceSymbolsOf(db))
	tickerCache.Start()
	defer tickerCache.Stop()

	mon := monitor.New(db, adapters, credProvider, dispatcher).WithTickerCache(tickerCache)
	expirySweeper := copysignal.NewExpirySweeper(db, cfg.SignalExpiry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := cron.New()
	mustEvery(runner, "@every 10s", monitor.RepriceJob{M: mon}, dlq)
	mustEvery(runner, "@every 10s", monitor.SLTPJob{M: mon}, dlq)
	mustEvery(runner, "@every 30s", monitor.ReconcileJob{M: mon}, dlq)
	mustEvery(runner, "@every 15s", expirySweeper, dlq)
	runner.Start()

	startupReconcile(ctx, db, mon)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sched.Run(gctx)
	})
	group.Go(func() error {
		return runDispatchLoop(gctx, db, dispatcher, dlq)
	})

	go func() {
		if err := group.Wait(); err != nil && gctx.Err() == nil {
			log.Error().Err(err).Msg("background loop exited")
		}
	}()

	log.Info().Msg("whalecopy running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	runner.Stop()
	log.Info().Msg("goodbye")
}

// cronJobAdapter wraps a job whose Run can fail so every failure also
// lands in the dead-letter queue, not just the log.
type cronJobAdapter struct {
	job interface {
		Name() string
		Run() error
	}
	dlq *deadletter.Queue
}

func (a cronJobAdapter) Name() string { return a.job.Name() }
func (a cronJobAdapter) Run() error {
	if err := a.job.Run(); err != nil {
		a.dlq.Record(a.job.Name(), nil, err)
		return err
	}
	return nil
}

func mustEvery(r *cron.Runner, schedule string, job interface {
	Name() string
	Run() error
}, dlq *deadletter.Queue) {
	if err := r.Every(schedule, cronJobAdapter{job: job, dlq: dlq}); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("registering cron job")
	}
}

// runDispatchLoop is the worker pool: poll the pending-signal queue and
// fan processing out across a fixed worker count.
func runDispatchLoop(ctx context.Context, db *store.Store, dispatcher *engine.Dispatcher, dlq *deadletter.Queue) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	sem := make(chan struct{}, dispatchWorkers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ids, err := db.NextPendingIDs(dispatchWorkers * 4)
			if err != nil {
				log.Error().Err(err).Msg("listing pending signals")
				continue
			}
			for _, id := range ids {
				id := id
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return nil
				}
				go func() {
					defer func() { <-sem }()
					if err := dispatcher.ProcessSignal(ctx, id); err != nil {
						log.Error().Err(err).Uint64("signal_id", id).Msg("processing signal")
						dlq.Record("process_signal", id, err)
					}
				}()
			}
		}
	}
}

// binanceSymbolsOf collects the distinct symbols of currently open Binance
// positions, the fixed subscription set the ticker cache streams for the
// life of this process. A whale entering a new symbol after startup is
// still repriced correctly; it just falls back to the adapter's REST
// ticker until the next restart picks it up.
func binanceSymbolsOf(db *store.Store) []string {
	positions, err := db.ListOpenPositions()
	if err != nil {
		log.Warn().Err(err).Msg("listing open positions for ticker cache subscriptions")
		return nil
	}
	seen := map[string]struct{}{}
	var symbols []string
	for _, pos := range positions {
		if pos.Venue != domain.VenueBinance {
			continue
		}
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		seen[pos.Symbol] = struct{}{}
		symbols = append(symbols, pos.Symbol)
	}
	return symbols
}

// startupReconcile runs one reconciliation pass before the scheduler
// starts producing new signals when a previous run left trades in
// NEEDS_RECONCILIATION or stuck in EXECUTING past the engine's ten-minute
// hard limit. Trades still inside the reconciler's grace period, and
// EXECUTING trades younger than the hard limit, are left to the periodic
// reconcile job.
func startupReconcile(ctx context.Context, db *store.Store, mon *monitor.Monitor) {
	stuck, err := db.TradesNeedingReconciliation()
	if err != nil {
		log.Error().Err(err).Msg("loading trades needing reconciliation at startup")
		return
	}
	if len(stuck) == 0 {
		return
	}
	log.Warn().Int("count", len(stuck)).Msg("resolving trades left over from a previous run")
	if err := mon.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation")
	}
}
