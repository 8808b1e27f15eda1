package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"plspricer/internal/aggregator"
	"plspricer/internal/alerting"
	"plspricer/internal/chain"
	"plspricer/internal/config"
	"plspricer/internal/endpoint"
	"plspricer/internal/pricing"
	"plspricer/internal/scheduler"
	"plspricer/internal/service"
	"plspricer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// buildEngine assembles the full price discovery stack from configuration.
func (a *App) buildEngine() (*pricing.Engine, *pricing.BridgeResolver, error) {
	pool, err := endpoint.NewPool(a.Config.Chain.RPCURLs, nil, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	reader := chain.NewReader(pool, chain.Options{
		Timeout:    a.Config.Chain.RequestTimeout,
		MaxRetries: a.Config.Chain.MaxRetries,
		BaseDelay:  a.Config.Chain.RetryBaseDelay,
	}, a.Logger)

	assets := a.referenceAssets()

	bridge := pricing.NewBridgeResolver(reader, pricing.BridgeResolverConfig{
		AnchorPair:    common.HexToAddress(a.Config.Bridge.AnchorPair),
		Bridge:        bridgeAsset(assets),
		Stables:       stableAssets(assets),
		FallbackPrice: decimal.NewFromFloat(a.Config.Bridge.FallbackPrice),
		TTL:           a.Config.Bridge.TTL,
	}, a.Logger)

	chainSource := pricing.NewChainSource(reader, bridge, pricing.ChainSourceConfig{
		Registries:  a.registries(),
		Assets:      assets,
		PinnedPairs: a.pinnedPairs(),
	}, a.Logger)

	sources := []pricing.SourceTTL{
		{Source: chainSource, TTL: a.Config.Cache.ChainTTL},
	}
	if a.Config.Aggregator.Enabled {
		client := aggregator.NewClient(aggregator.Options{
			BaseURL:    a.Config.Aggregator.BaseURL,
			ChainID:    a.Config.Aggregator.ChainID,
			Timeout:    a.Config.Aggregator.RequestTimeout,
			UserAgent:  a.Config.Aggregator.UserAgent,
			MaxBackoff: a.Config.Aggregator.MaxBackoff,
		}, assets, a.Logger)
		sources = append(sources, pricing.SourceTTL{Source: client, TTL: a.Config.Cache.AggregatorTTL})
	}

	selector := pricing.NewSelector(pricing.SelectorConfig{
		MinLiquidityUSD:   a.Config.Pricing.MinLiquidityUSD,
		LiquidityScoreCap: a.Config.Pricing.LiquidityScoreCap,
		OutlierRatio:      a.Config.Pricing.OutlierRatio,
		OutlierPenalty:    a.Config.Pricing.OutlierPenalty,
	})

	engine := pricing.NewEngine(sources, selector, pricing.EngineConfig{
		BatchSize:  a.Config.Batch.Size,
		BatchDelay: a.Config.Batch.Delay,
	}, a.Logger)

	return engine, bridge, nil
}

func (a *App) referenceAssets() []pricing.ReferenceAsset {
	assets := make([]pricing.ReferenceAsset, 0, len(a.Config.Assets))
	for _, asset := range a.Config.Assets {
		assets = append(assets, pricing.ReferenceAsset{
			Symbol:   asset.Symbol,
			Address:  common.HexToAddress(asset.Address),
			Class:    pricing.AssetClass(asset.Class),
			Decimals: asset.Decimals,
		})
	}
	return assets
}

func (a *App) registries() []pricing.Registry {
	registries := make([]pricing.Registry, 0, len(a.Config.Registries))
	for _, registry := range a.Config.Registries {
		registries = append(registries, pricing.Registry{
			Name:    registry.Name,
			Factory: common.HexToAddress(registry.Factory),
		})
	}
	return registries
}

func (a *App) pinnedPairs() map[common.Address]common.Address {
	if len(a.Config.Pricing.PinnedPairs) == 0 {
		return nil
	}
	pinned := make(map[common.Address]common.Address, len(a.Config.Pricing.PinnedPairs))
	for token, pair := range a.Config.Pricing.PinnedPairs {
		if common.IsHexAddress(token) && common.IsHexAddress(pair) {
			pinned[common.HexToAddress(token)] = common.HexToAddress(pair)
		}
	}
	return pinned
}

func bridgeAsset(assets []pricing.ReferenceAsset) pricing.ReferenceAsset {
	for _, asset := range assets {
		if asset.Class == pricing.ClassBridge {
			return asset
		}
	}
	return pricing.ReferenceAsset{}
}

func stableAssets(assets []pricing.ReferenceAsset) []pricing.ReferenceAsset {
	stables := make([]pricing.ReferenceAsset, 0, len(assets))
	for _, asset := range assets {
		if asset.Class == pricing.ClassStable {
			stables = append(stables, asset)
		}
	}
	return stables
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	engine, bridge, err := a.buildEngine()
	if err != nil {
		return err
	}

	if store != nil {
		if anchor, ok, err := store.GetBridgePrice(ctx); err == nil && ok {
			bridge.SeedLastKnownGood(anchor.Price)
		}
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Watch.Interval,
		AlignToStart: a.Config.Watch.AlignToBucket,
		StartupDelay: a.Config.Watch.StartupDelay,
	}, a.Logger)

	deps := service.Deps{
		Scheduler: sched,
		Pricer:    engine,
		Bridge:    bridge,
		Notifier:  a.newNotifier(),
	}
	if store != nil {
		deps.Snapshots = store
		deps.BridgeStore = store
		deps.AlertStore = store
		deps.Locker = store
	}

	svc := service.New(a.Config, deps, a.Logger)

	a.Logger.Info().Msg("starting watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

// PriceOptions hold parameters for one-shot pricing.
type PriceOptions struct {
	Tokens     []string
	JSONOutput bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Token string
	Limit int
}
