package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/aristath/arduino-trader/internal/arb"
	"github.com/aristath/arduino-trader/internal/audit"
	"github.com/aristath/arduino-trader/internal/blockhash"
	"github.com/aristath/arduino-trader/internal/chainaccounts"
	"github.com/aristath/arduino-trader/internal/config"
	"github.com/aristath/arduino-trader/internal/database"
	"github.com/aristath/arduino-trader/internal/endpointpool"
	"github.com/aristath/arduino-trader/internal/events"
	"github.com/aristath/arduino-trader/internal/executor"
	"github.com/aristath/arduino-trader/internal/geyser"
	"github.com/aristath/arduino-trader/internal/jito"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/internal/pumpfun"
	"github.com/aristath/arduino-trader/internal/ratelimit"
	"github.com/aristath/arduino-trader/internal/registry"
	"github.com/aristath/arduino-trader/internal/scheduler"
	"github.com/aristath/arduino-trader/internal/server"
	"github.com/aristath/arduino-trader/internal/signing"
	"github.com/aristath/arduino-trader/internal/stream"
	"github.com/aristath/arduino-trader/internal/tradeguard"
	"github.com/aristath/arduino-trader/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting trading engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	poolCfg := endpointpool.Config{
		FailThreshold:  cfg.FailThreshold,
		ProbeInterval:  cfg.ProbeInterval,
		ProbeTimeout:   cfg.ProbeTimeout,
		RecoveryProbes: cfg.RecoveryProbes,
	}
	rpcPool := endpointpool.New("rpc", cfg.RPCEndpoints, poolCfg, log)
	wsPool := endpointpool.New("ws", cfg.WSEndpoints, poolCfg, log)
	pools := map[string]*endpointpool.Pool{"rpc": rpcPool, "ws": wsPool}
	probes := map[string]endpointpool.Prober{
		"rpc": chainaccounts.RPCProber,
		"ws":  chainaccounts.RPCProber,
	}
	var grpcPool *endpointpool.Pool
	if len(cfg.GRPCEndpoints) > 0 {
		grpcPool = endpointpool.New("grpc", cfg.GRPCEndpoints, poolCfg, log)
		pools["grpc"] = grpcPool
		probes["grpc"] = chainaccounts.RPCProber
	}

	accounts := chainaccounts.New(rpcPool)

	blockhashCache := blockhash.New(chainaccounts.BlockhashFetcher(rpcPool), blockhash.Config{
		PollInterval: time.Duration(cfg.BlockhashRefreshMS) * time.Millisecond,
	}, log)

	var streamMgr *stream.Manager
	if grpcPool != nil {
		dial := func(ctx context.Context) (geyser.Client, error) {
			ep := grpcPool.Active()
			if ep == nil {
				return nil, context.DeadlineExceeded
			}
			return geyser.Dial(ctx, ep.URL)
		}
		streamMgr = stream.New(dial, log)
	}

	guard := tradeguard.New(tradeguard.Config{
		MaxSingleTradeUSD:    cfg.MaxSingleTradeUSD,
		MaxDailyVolumeUSD:    cfg.MaxDailyVolumeUSD,
		RequireConfirmUSD:    cfg.RequireConfirmUSD,
		MinSlippageBps:       cfg.MinSlippageBps,
		MaxSlippageBps:       cfg.MaxSlippageBps,
		TradeCooldown:        time.Duration(cfg.TradeCooldownSeconds) * time.Second,
		SniperMaxAmountSOL:   cfg.SniperMaxAmountSOL,
		SniperMaxSlippagePct: cfg.SniperMaxSlippagePct,
	}, cfg.TokenBlocklist, log)
	guard.SetAudit(audit.New(log))

	curveCache := pumpfun.NewCurveCache(accounts, cfg.CurveCacheTTL)
	pumpfunBuilder := pumpfun.NewBuilder(curveCache)

	var signer signing.Oracle
	if cfg.WalletPrivateKey != "" {
		key, err := solana.PrivateKeyFromBase58(cfg.WalletPrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse WALLET_PRIVATE_KEY")
		}
		signer = signing.NewStaticKeyOracle(key)
	} else {
		signer = signing.NewStaticKeyOracle(solana.NewWallet().PrivateKey)
		log.Warn().Msg("no WALLET_PRIVATE_KEY configured, running with an ephemeral dev wallet")
	}

	jupiter := executor.NewJupiterClient(cfg.JupiterBaseURL, log)
	submitter := executor.NewRPCSubmitter(rpcPool)
	tokenStore := database.NewTokenStore(db, accounts)
	priceFeed := executor.NewPriceCache(jupiter, cfg.TrackedMints, log)
	tradeStore := database.NewTradeStore(db)
	evts := events.NewManager(log)

	exec := executor.New(jupiter, tokenStore, priceFeed, guard, signer, submitter, tradeStore, evts, log)
	sniperExec := executor.NewSniperExecutor(pumpfunBuilder, blockhashCache, guard, signer, submitter, tradeStore, evts)

	reg := registry.New(streamMgr, log)

	tracker := portfolio.New(signer.PublicKey(), rpcPool, evts, streamMgr != nil, log)
	reg.Register(tracker)

	botStore := database.NewBotStore(db, log)
	ohlcvStore := database.NewOHLCVStore(db)
	limitOrderStore := database.NewLimitOrderStore(db)
	botScheduler := scheduler.New(botStore, priceFeed, tracker, ohlcvStore, exec, limitOrderStore, evts, log)

	arbStore := database.NewArbPairStore(db)
	venues := arb.VenueClients{"jupiter": jupiter}
	jitoEndpoints := make(map[string]string, len(cfg.JitoEndpoints))
	for i, ep := range cfg.JitoEndpoints {
		jitoEndpoints[fmt.Sprintf("region-%d", i)] = ep
	}
	jitoSubmitter := jito.New(jitoEndpoints, log)
	arbEngine := arb.New(arbStore, venues, signer, jitoSubmitter, evts, log)
	reg.Register(arbEngine)

	apiLimiter := ratelimit.New(10, 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start service registry")
	}
	go blockhashCache.Start(ctx)

	if streamMgr != nil {
		streamMgr.SubscribeSlots(ctx, func(u geyser.Update) {
			if u.Slot != nil {
				blockhashCache.OnSlotUpdate(ctx, u.Slot.Slot)
			}
		})
		go streamMgr.Run(ctx)
	}

	cron := scheduler.NewCron(log)
	cron.Start()
	defer cron.Stop()

	if err := cron.AddJob("@every 15s", endpointpool.NewProbeJob(pools, probes, log)); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule endpoint probe job")
	}
	if err := cron.AddJob("@every 15s", botTickJob{sched: botScheduler}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule bot tick job")
	}
	if err := cron.AddJob("@every 5s", priceFeedPollJob{feed: priceFeed}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule price feed poll job")
	}
	reconcileSchedule := "@every 30s"
	if tracker.HasGRPC() {
		reconcileSchedule = "@every 5m"
	}
	if err := cron.AddJob(reconcileSchedule, portfolioReconcileJob{tracker: tracker}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule portfolio reconciliation job")
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Status:    reg,
		Confirmer: exec,
		Sniper:    sniperExec,
		Limiter:   apiLimiter,
		DevMode:   cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := reg.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("service registry shutdown error")
	}
	log.Info().Msg("stopped")
}

// botTickJob adapts BotScheduler.Tick to the cron scheduler.Job interface.
type botTickJob struct {
	sched *scheduler.BotScheduler
}

func (j botTickJob) Name() string { return "bot_scheduler_tick" }
func (j botTickJob) Run() error {
	j.sched.Tick(context.Background())
	return nil
}

// priceFeedPollJob adapts PriceFeed.PollOnce to the cron scheduler.Job
// interface.
type priceFeedPollJob struct {
	feed *executor.PriceFeed
}

func (j priceFeedPollJob) Name() string { return "price_feed_poll" }
func (j priceFeedPollJob) Run() error {
	j.feed.PollOnce(context.Background())
	return nil
}

// portfolioReconcileJob adapts Tracker.Reconcile to the cron scheduler.Job
// interface.
type portfolioReconcileJob struct {
	tracker *portfolio.Tracker
}

func (j portfolioReconcileJob) Name() string { return "portfolio_reconcile" }
func (j portfolioReconcileJob) Run() error {
	return j.tracker.Reconcile(context.Background())
}
