// Package scheduler is the tiered whale poller: four independent
// tickers sweep the whale table by priority, diff each whale's fresh
// position read against its cached snapshot, and turn the diff into
// PENDING signals — one ticker goroutine per tier, fanned out per-whale
// through an errgroup.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/signal"
)

// Store is the slice of the store package the scheduler needs.
type Store interface {
	EligibleWhalesForTier(minIntervalSecs, maxIntervalSecs, cap int) ([]domain.Whale, error)
	TouchLastChecked(whaleID uint64, now time.Time) error
	RecordEmptyCheck(whaleID uint64, limit int, recheckWait time.Duration, now time.Time) error
	RecordNonEmptyCheck(whaleID uint64) error
	ActiveFollowersOfWhale(whaleID uint64) ([]domain.WhaleFollow, error)
	ActiveAutoCopyFollowerCount(whaleID uint64) (int64, error)
	CreateSignal(sig domain.Signal) (domain.Signal, error)
}

// SnapshotCache is the slice of the cache package the scheduler needs.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, whaleID uint64) (domain.PositionSnapshot, bool, error)
	PutSnapshot(ctx context.Context, snap domain.PositionSnapshot, ttl time.Duration) error
}

// tier bounds mirror the tier table. Tiers are evaluated by
// polling_interval_secs range, not by a whale's own stored tier label, so
// a whale changes tier only when its polling_interval_secs changes; no
// code here derives that interval from priority_score.
var tierBounds = map[string]struct {
	min, max int
}{
	"critical": {10, 30},
	"high":     {30, 45},
	"normal":   {45, 120},
	"low":      {120, 1 << 30},
}

const (
	emptyCheckLimit   = 5
	sharingRecheckTTL = 30 * time.Minute
	snapshotTTL       = 5 * time.Minute
)

// Scheduler owns the four tickers and the per-whale poll pipeline.
type Scheduler struct {
	cfg      *config.Config
	store    Store
	cache    SnapshotCache
	adapters map[domain.Venue]exchange.Adapter
	onchain  exchange.OnchainPositionReader
}

// New builds a Scheduler. adapters must hold one resilience-wrapped
// adapter per centralized venue; onchain may be nil if no ONCHAIN_WALLET
// whales are tracked.
func New(cfg *config.Config, store Store, cache SnapshotCache, adapters map[domain.Venue]exchange.Adapter, onchain exchange.OnchainPositionReader) *Scheduler {
	return &Scheduler{cfg: cfg, store: store, cache: cache, adapters: adapters, onchain: onchain}
}

// Run starts all four tiers and blocks until ctx is cancelled or a tier's
// poll loop returns a fatal error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, period := range s.cfg.Tiers {
		name, period := name, period
		g.Go(func() error {
			return s.runTier(ctx, name, period.Period, period.Cap)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runTier(ctx context.Context, tier string, period time.Duration, cap int) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Info().Str("tier", tier).Dur("period", period).Int("cap", cap).Msg("scheduler tier started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx, tier, cap); err != nil {
				log.Error().Err(err).Str("tier", tier).Msg("tier tick failed")
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, tier string, cap int) error {
	bounds := tierBounds[tier]
	whales, err := s.store.EligibleWhalesForTier(bounds.min, bounds.max, cap)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap)
	now := time.Now()
	for _, w := range whales {
		w := w
		if now.Sub(w.LastCheckedAt) < time.Duration(w.PollingIntervalSecs)*time.Second {
			continue
		}
		g.Go(func() error {
			s.pollWhale(gctx, w)
			return nil
		})
	}
	return g.Wait()
}

// outcome classifies one poll's result.
type outcome int

const (
	outcomeSamples outcome = iota
	outcomeEmpty
	outcomeAuthOrRateError
	outcomeAdapterError
)

// pollWhale runs the full per-whale pipeline: fetch, classify, feed the
// sharing tracker, diff, emit signals, replace the snapshot. Errors are
// logged, never propagated — one whale's failure must not stall its tier.
func (s *Scheduler) pollWhale(ctx context.Context, w domain.Whale) {
	now := time.Now()
	samples, oc := s.fetch(ctx, w)

	switch oc {
	case outcomeEmpty:
		if err := s.store.RecordEmptyCheck(w.ID, emptyCheckLimit, sharingRecheckTTL, now); err != nil {
			log.Error().Err(err).Uint64("whale_id", w.ID).Msg("recording empty check")
		}
	case outcomeSamples:
		if err := s.store.RecordNonEmptyCheck(w.ID); err != nil {
			log.Error().Err(err).Uint64("whale_id", w.ID).Msg("recording non-empty check")
		}
	case outcomeAuthOrRateError, outcomeAdapterError:
		log.Warn().Uint64("whale_id", w.ID).Int("outcome", int(oc)).Msg("whale poll failed")
		if err := s.store.TouchLastChecked(w.ID, now); err != nil {
			log.Error().Err(err).Uint64("whale_id", w.ID).Msg("touching last checked")
		}
		return
	}

	if oc == outcomeSamples || oc == outcomeEmpty {
		s.diffAndEmit(ctx, w, samples, now)
	}

	if err := s.store.TouchLastChecked(w.ID, now); err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Msg("touching last checked")
	}
}

func (s *Scheduler) fetch(ctx context.Context, w domain.Whale) ([]domain.PositionSample, outcome) {
	var (
		samples []domain.PositionSample
		err     error
	)

	if w.Kind == domain.WhaleKindOnchainWallet {
		if s.onchain == nil {
			return nil, outcomeAdapterError
		}
		samples, err = s.onchain.GetWalletHoldings(ctx, w.Chain, w.WalletAddress)
	} else {
		adapter, ok := s.adapters[w.Venue]
		if !ok {
			return nil, outcomeAdapterError
		}
		samples, err = adapter.GetOpenPositionsOfTrader(ctx, w.VenueUID, domain.MarketUSDMFutures)
	}

	if err != nil {
		if domain.IsTerminal(err) {
			return nil, outcomeAuthOrRateError
		}
		return nil, outcomeAdapterError
	}
	if len(samples) == 0 {
		return samples, outcomeEmpty
	}
	return samples, outcomeSamples
}

// diffAndEmit runs first-observation suppression, new/closed symbol
// diffing, and signal persistence.
func (s *Scheduler) diffAndEmit(ctx context.Context, w domain.Whale, current []domain.PositionSample, now time.Time) {
	prevSnap, hadPrev, err := s.cache.GetSnapshot(ctx, w.ID)
	if err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Msg("reading cached snapshot")
		return
	}

	newSnap := domain.PositionSnapshot{WhaleID: w.ID, CapturedAt: now, Positions: current}

	if !hadPrev {
		if err := s.cache.PutSnapshot(ctx, newSnap, snapshotTTL); err != nil {
			log.Error().Err(err).Uint64("whale_id", w.ID).Msg("storing first snapshot")
		}
		return
	}

	currentByKey := make(map[string]domain.PositionSample, len(current))
	for _, p := range current {
		currentByKey[p.Key()] = p
	}
	prevByKey := make(map[string]domain.PositionSample, len(prevSnap.Positions))
	for _, p := range prevSnap.Positions {
		prevByKey[p.Key()] = p
	}

	for key, p := range currentByKey {
		if _, existed := prevByKey[key]; !existed {
			s.emitOpen(w, p, now)
		}
	}
	for key, p := range prevByKey {
		if _, stillOpen := currentByKey[key]; !stillOpen {
			s.emitClose(w, p, now)
		}
	}

	if err := s.cache.PutSnapshot(ctx, newSnap, snapshotTTL); err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Msg("storing updated snapshot")
	}
}

func (s *Scheduler) emitOpen(w domain.Whale, p domain.PositionSample, now time.Time) {
	action := domain.SideBuy
	if p.Side == domain.SideShort {
		action = domain.SideSell
	}
	s.persistSignal(w, p, action, false, now)
}

func (s *Scheduler) emitClose(w domain.Whale, p domain.PositionSample, now time.Time) {
	// a LONG position closes by selling, a SHORT closes by buying back
	action := domain.SideSell
	if p.Side == domain.SideShort {
		action = domain.SideBuy
	}
	s.persistSignal(w, p, action, true, now)
}

func (s *Scheduler) persistSignal(w domain.Whale, p domain.PositionSample, action domain.Side, isClose bool, now time.Time) {
	score := signal.ConfidenceScore(w.PriorityScore, p.ROE, p.Leverage)
	confidence := domain.ConfidenceBucket(score)

	follows, err := s.store.ActiveFollowersOfWhale(w.ID)
	if err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Msg("loading active followers")
		return
	}
	autoCopyCount, err := s.store.ActiveAutoCopyFollowerCount(w.ID)
	if err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Msg("loading auto-copy follower count")
		return
	}
	priority := signal.Priority(len(follows) > 0, autoCopyCount > 0, confidence)

	fp := signal.Fingerprint(w.ID, p.Symbol, p.Market, action, isClose, now)

	sig := domain.Signal{
		WhaleID:         w.ID,
		Source:          domain.SignalSourceWhale,
		Fingerprint:     fp,
		Action:          action,
		Symbol:          p.Symbol,
		Market:          p.Market,
		IsClose:         isClose,
		WhaleLeverage:   p.Leverage,
		PriceAtSignal:   &p.EntryPrice,
		Confidence:      confidence,
		ConfidenceScore: score,
		Priority:        priority,
	}

	if _, err := s.store.CreateSignal(sig); err != nil {
		log.Error().Err(err).Uint64("whale_id", w.ID).Str("symbol", p.Symbol).Msg("creating signal")
	}
}
