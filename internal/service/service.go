package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"plspricer/internal/alerting"
	"plspricer/internal/config"
	"plspricer/internal/pricing"
	"plspricer/internal/scheduler"
	"plspricer/internal/storage"
)

// Pricer resolves USD prices for a token set.
type Pricer interface {
	GetPrices(ctx context.Context, tokens []common.Address) map[common.Address]*pricing.PriceResult
}

var hundred = decimal.NewFromInt(100)

// Service runs the watch loop: each cycle it re-prices the configured
// watchlist, persists snapshots, keeps the bridge anchor fresh in storage,
// and raises price-move alerts.
type Service struct {
	scheduler   *scheduler.Scheduler
	pricer      Pricer
	bridge      *pricing.BridgeResolver
	snapshots   storage.SnapshotStore
	bridgeStore storage.BridgePriceStore
	alertStore  storage.AlertStore
	notifier    alerting.Notifier
	logger      zerolog.Logger

	tokens    []common.Address
	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64

	mu         sync.Mutex
	lastPrices map[common.Address]decimal.Decimal
}

// Deps collects the service's collaborators; nil stores disable persistence.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Pricer      Pricer
	Bridge      *pricing.BridgeResolver
	Snapshots   storage.SnapshotStore
	BridgeStore storage.BridgePriceStore
	AlertStore  storage.AlertStore
	Locker      storage.AdvisoryLocker
	Notifier    alerting.Notifier
}

// New constructs the watch service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	tokens := make([]common.Address, 0, len(cfg.Watch.Tokens))
	for _, raw := range cfg.Watch.Tokens {
		if common.IsHexAddress(raw) {
			tokens = append(tokens, common.HexToAddress(raw))
		}
	}

	return &Service{
		scheduler:   deps.Scheduler,
		pricer:      deps.Pricer,
		bridge:      deps.Bridge,
		snapshots:   deps.Snapshots,
		bridgeStore: deps.BridgeStore,
		alertStore:  deps.AlertStore,
		notifier:    deps.Notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		tokens:      tokens,
		threshold:   threshold,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      deps.Locker,
		lockKey:     cfg.Watch.AdvisoryLockKey,
		lastPrices:  make(map[common.Address]decimal.Decimal),
	}
}

// Run begins the aligned watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(s.tokens) == 0 {
		return fmt.Errorf("watch.tokens is empty; nothing to price")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个周期的扫描逻辑。
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, cycle)
}

func (s *Service) executeCycle(ctx context.Context, cycle time.Time) error {
	results := s.pricer.GetPrices(ctx, s.tokens)

	priced := 0
	for token, result := range results {
		if result != nil {
			priced++
		}
		s.persistSnapshot(ctx, cycle, token, result)
		s.maybeAlert(ctx, cycle, token, result)
	}

	s.persistBridgeAnchor(ctx)

	s.logger.Info().Time("cycle", cycle).
		Int("tokens", len(results)).
		Int("priced", priced).
		Msg("cycle complete")
	return nil
}

func (s *Service) persistSnapshot(ctx context.Context, cycle time.Time, token common.Address, result *pricing.PriceResult) {
	if s.snapshots == nil {
		return
	}

	snapshot := storage.PriceSnapshot{
		Bucket:    cycle,
		Token:     token.Hex(),
		Status:    storage.SnapshotNoLiquidity,
		CreatedAt: time.Now().UTC(),
	}
	if result != nil {
		snapshot.PriceUSD = result.PriceUSD
		snapshot.LiquidityUSD = result.LiquidityUSD
		snapshot.PairAddress = result.Pair.Hex()
		snapshot.Reference = result.Reference
		snapshot.Source = result.Source
		snapshot.Status = storage.SnapshotComplete
	}

	if err := s.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Str("token", snapshot.Token).Msg("failed to upsert snapshot")
	}
}

func (s *Service) persistBridgeAnchor(ctx context.Context) {
	if s.bridgeStore == nil || s.bridge == nil {
		return
	}

	anchor := storage.BridgePrice{Price: s.bridge.LastKnownGood(), UpdatedAt: time.Now().UTC()}
	if anchor.Price.Sign() <= 0 {
		return
	}
	if err := s.bridgeStore.UpsertBridgePrice(ctx, anchor); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist bridge anchor")
	}
}

// maybeAlert compares the token's price to the previous cycle and notifies on
// a move beyond the threshold. Unpriceable tokens reset nothing: the previous
// anchor survives a transient gap.
func (s *Service) maybeAlert(ctx context.Context, cycle time.Time, token common.Address, result *pricing.PriceResult) {
	if result == nil {
		return
	}

	s.mu.Lock()
	previous, hasPrevious := s.lastPrices[token]
	s.lastPrices[token] = result.PriceUSD
	s.mu.Unlock()

	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}
	if !hasPrevious || previous.Sign() <= 0 {
		return
	}

	change := result.PriceUSD.Div(previous).Sub(decimal.NewFromInt(1)).Mul(hundred)
	if !change.Abs().GreaterThan(s.threshold) {
		return
	}

	direction := classifyMove(change)
	note := alerting.Notification{
		Cycle:        cycle,
		Token:        token.Hex(),
		PreviousUSD:  previous,
		CurrentUSD:   result.PriceUSD,
		ChangePct:    change,
		ThresholdPct: s.threshold,
		Direction:    direction,
		Channels:     s.channels,
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Bucket:       cycle,
			Token:        token.Hex(),
			PreviousUSD:  previous,
			CurrentUSD:   result.PriceUSD,
			ChangePct:    change,
			ThresholdPct: s.threshold,
			Direction:    direction,
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("token", note.Token).Msg("failed to persist alert record")
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("token", note.Token).Msg("failed to dispatch alert")
	}
}

func classifyMove(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
