// Package portfolio derives positions from the operation ledger.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OperationSource provides the ledger history positions are folded from.
// Implemented by the operations repository; declared here to keep the
// dependency pointing from operations to portfolio.
type OperationSource interface {
	ListByAsset(ctx context.Context, assetCode string) ([]domain.Operation, error)
	ListAssetCodes(ctx context.Context) ([]string, error)
}

// PositionService serves positions as a read-time view over the ledger.
//
// Positions are cached in cache.db keyed by asset code. Every ledger event
// that names an asset drops that asset's entry, so the cache never serves a
// fold older than the last change to the asset's operations.
type PositionService struct {
	source    OperationSource
	navs      domain.NAVProvider
	cacheRepo *clientdata.Repository
	log       zerolog.Logger
	now       func() time.Time
}

// NewPositionService creates a position service. cacheRepo may be nil.
func NewPositionService(
	source OperationSource,
	navs domain.NAVProvider,
	cacheRepo *clientdata.Repository,
	log zerolog.Logger,
) *PositionService {
	return &PositionService{
		source:    source,
		navs:      navs,
		cacheRepo: cacheRepo,
		log:       log.With().Str("service", "positions").Logger(),
		now:       time.Now,
	}
}

// GetPosition returns the position for one asset
func (s *PositionService) GetPosition(ctx context.Context, assetCode string) (*domain.Position, error) {
	if pos, ok := s.fromCache(assetCode); ok {
		return pos, nil
	}

	ops, err := s.source.ListByAsset(ctx, assetCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load operations for %s: %w", assetCode, err)
	}

	var latest *decimal.Decimal
	if hasSettled(ops) {
		latest = s.latestNAV(ctx, assetCode)
	}

	pos, err := Fold(assetCode, ops, latest)
	if err != nil {
		return nil, err
	}

	if !pos.NAVMissing {
		s.toCache(pos)
	}
	return &pos, nil
}

// ListPositions returns positions for every asset in the ledger.
// Closed positions (zero shares) are left out unless includeClosed is set.
func (s *PositionService) ListPositions(ctx context.Context, includeClosed bool) ([]domain.Position, error) {
	codes, err := s.source.ListAssetCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	positions := make([]domain.Position, 0, len(codes))
	for _, code := range codes {
		pos, err := s.GetPosition(ctx, code)
		if err != nil {
			return nil, err
		}
		if !includeClosed && !pos.IsOpen() {
			continue
		}
		positions = append(positions, *pos)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].AssetCode < positions[j].AssetCode
	})
	return positions, nil
}

// GetSummary aggregates all positions
func (s *PositionService) GetSummary(ctx context.Context) (Summary, error) {
	positions, err := s.ListPositions(ctx, true)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(positions, s.now().UTC()), nil
}

// HeldShares returns the asset's current share count
func (s *PositionService) HeldShares(ctx context.Context, assetCode string) (decimal.Decimal, error) {
	pos, err := s.GetPosition(ctx, assetCode)
	if err != nil {
		return decimal.Zero, err
	}
	return pos.TotalShares, nil
}

// Invalidate drops the cached position for an asset
func (s *PositionService) Invalidate(assetCode string) {
	if s.cacheRepo == nil || assetCode == "" {
		return
	}
	if err := s.cacheRepo.Delete(clientdata.TablePositions, assetCode); err != nil {
		s.log.Warn().Err(err).Str("asset_code", assetCode).Msg("Failed to invalidate cached position")
	}
}

// InvalidateAll drops every cached position
func (s *PositionService) InvalidateAll() {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Clear(clientdata.TablePositions); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear cached positions")
	}
}

// RegisterInvalidation subscribes the cache to every ledger event
func (s *PositionService) RegisterInvalidation(bus *events.Bus) {
	handler := func(event *events.Event) {
		code := event.AssetCode()
		if code == "" {
			s.InvalidateAll()
			return
		}
		s.Invalidate(code)
	}

	for _, t := range []events.EventType{
		events.OperationRecorded,
		events.OperationChanged,
		events.DividendResolved,
		events.PlanExecuted,
		events.PlanHistoryRegenerated,
	} {
		bus.Subscribe(t, handler)
	}
}

func (s *PositionService) latestNAV(ctx context.Context, assetCode string) *decimal.Decimal {
	if s.navs == nil {
		return nil
	}
	q, err := s.navs.GetLatestNAV(ctx, assetCode)
	if err != nil {
		if !errors.Is(err, domain.ErrNAVNotFound) {
			s.log.Warn().Err(err).Str("asset_code", assetCode).Msg("Latest NAV unavailable")
		}
		return nil
	}
	nav := q.NAV
	return &nav
}

func hasSettled(ops []domain.Operation) bool {
	for _, op := range ops {
		if op.Status.Settled() {
			return true
		}
	}
	return false
}

// cachedPosition is the msgpack form of a position. Decimals travel as strings.
type cachedPosition struct {
	AssetCode          string `msgpack:"asset_code"`
	TotalShares        string `msgpack:"total_shares"`
	AvgCost            string `msgpack:"avg_cost"`
	TotalInvested      string `msgpack:"total_invested"`
	CurrentValue       string `msgpack:"current_value"`
	TotalProfit        string `msgpack:"total_profit"`
	ProfitRate         string `msgpack:"profit_rate"`
	RealizedProfit     string `msgpack:"realized_profit"`
	LatestNAV          string `msgpack:"latest_nav,omitempty"`
	OperationCount     int    `msgpack:"operation_count"`
	FirstOperationDate int64  `msgpack:"first_operation_date,omitempty"`
	LastOperationDate  int64  `msgpack:"last_operation_date,omitempty"`
}

func encodePosition(p domain.Position) cachedPosition {
	c := cachedPosition{
		AssetCode:      p.AssetCode,
		TotalShares:    p.TotalShares.String(),
		AvgCost:        p.AvgCost.String(),
		TotalInvested:  p.TotalInvested.String(),
		CurrentValue:   p.CurrentValue.String(),
		TotalProfit:    p.TotalProfit.String(),
		ProfitRate:     p.ProfitRate.String(),
		RealizedProfit: p.RealizedProfit.String(),
		OperationCount: p.OperationCount,
	}
	if p.LatestNAV != nil {
		c.LatestNAV = p.LatestNAV.String()
	}
	if p.FirstOperationDate != nil {
		c.FirstOperationDate = p.FirstOperationDate.Unix()
	}
	if p.LastOperationDate != nil {
		c.LastOperationDate = p.LastOperationDate.Unix()
	}
	return c
}

func (c cachedPosition) decode() (*domain.Position, error) {
	fields := []string{c.TotalShares, c.AvgCost, c.TotalInvested, c.CurrentValue, c.TotalProfit, c.ProfitRate, c.RealizedProfit}
	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	p := &domain.Position{
		AssetCode:      c.AssetCode,
		TotalShares:    values[0],
		AvgCost:        values[1],
		TotalInvested:  values[2],
		CurrentValue:   values[3],
		TotalProfit:    values[4],
		ProfitRate:     values[5],
		RealizedProfit: values[6],
		OperationCount: c.OperationCount,
	}
	if c.LatestNAV != "" {
		nav, err := decimal.NewFromString(c.LatestNAV)
		if err != nil {
			return nil, err
		}
		p.LatestNAV = &nav
	}
	if c.FirstOperationDate != 0 {
		t := time.Unix(c.FirstOperationDate, 0).UTC()
		p.FirstOperationDate = &t
	}
	if c.LastOperationDate != 0 {
		t := time.Unix(c.LastOperationDate, 0).UTC()
		p.LastOperationDate = &t
	}
	return p, nil
}

func (s *PositionService) fromCache(assetCode string) (*domain.Position, bool) {
	if s.cacheRepo == nil {
		return nil, false
	}
	var cached cachedPosition
	found, err := s.cacheRepo.GetIfFresh(clientdata.TablePositions, assetCode, &cached)
	if err != nil || !found {
		return nil, false
	}
	pos, err := cached.decode()
	if err != nil {
		return nil, false
	}
	return pos, true
}

func (s *PositionService) toCache(pos domain.Position) {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Store(clientdata.TablePositions, pos.AssetCode, encodePosition(pos), clientdata.TTLPosition); err != nil {
		s.log.Warn().Err(err).Str("asset_code", pos.AssetCode).Msg("Failed to cache position")
	}
}
