package dca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PlanInput is the user-editable part of a plan
type PlanInput struct {
	StartDate      time.Time        `json:"start_date"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
	Name           string           `json:"name"`
	AssetCode      string           `json:"asset_code"`
	Frequency      domain.Frequency `json:"frequency"`
	ExcludeDates   []time.Time      `json:"exclude_dates"`
	Amount         decimal.Decimal  `json:"amount"`
	Fee            decimal.Decimal  `json:"fee"`
	BaseAmount     decimal.Decimal  `json:"base_amount"`
	MaxAmount      decimal.Decimal  `json:"max_amount"`
	IncreaseRate   decimal.Decimal  `json:"increase_rate"`
	MinNAV         decimal.Decimal  `json:"min_nav"`
	MaxNAV         decimal.Decimal  `json:"max_nav"`
	FrequencyValue int              `json:"frequency_value"`
	SkipHolidays   bool             `json:"skip_holidays"`
	SmartDCA       bool             `json:"smart_dca"`
}

// UpdateResult is returned by Update. RequiresRegeneration is set when the
// date range changed; nothing is removed until RegenerateHistory is confirmed.
type UpdateResult struct {
	Plan                 *domain.DCAPlan `json:"plan"`
	RequiresRegeneration bool            `json:"requires_regeneration"`
	OutOfRange           int             `json:"out_of_range_operations"`
}

// PlanStatistics summarizes what a plan has bought so far
type PlanStatistics struct {
	LatestNAV       *decimal.Decimal `json:"latest_nav,omitempty"`
	AvgNAV          *decimal.Decimal `json:"avg_nav,omitempty"`
	MinNAVPaid      *decimal.Decimal `json:"min_nav_paid,omitempty"`
	MaxNAVPaid      *decimal.Decimal `json:"max_nav_paid,omitempty"`
	BaselineNAV     *decimal.Decimal `json:"baseline_nav,omitempty"`
	TotalInvested   decimal.Decimal  `json:"total_invested"`
	TotalShares     decimal.Decimal  `json:"total_shares"`
	AvgCost         decimal.Decimal  `json:"avg_cost"`
	CurrentValue    decimal.Decimal  `json:"current_value"`
	TotalProfit     decimal.Decimal  `json:"total_profit"`
	ProfitRate      decimal.Decimal  `json:"profit_rate"`
	PlanID          int64            `json:"plan_id"`
	TotalOperations int              `json:"total_operations"`
	NAVMissing      bool             `json:"nav_missing,omitempty"`
}

// Service manages plan configuration and lifecycle
type Service struct {
	repo     *Repository
	ops      *operations.Repository
	executor *Executor
	navs     domain.NAVProvider
	calendar domain.HolidayCalendar
	events   *events.Manager
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a plan service
func NewService(
	repo *Repository,
	ops *operations.Repository,
	executor *Executor,
	navs domain.NAVProvider,
	calendar domain.HolidayCalendar,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		ops:      ops,
		executor: executor,
		navs:     navs,
		calendar: calendar,
		events:   eventManager,
		log:      log.With().Str("service", "dca").Logger(),
		now:      time.Now,
	}
}

// Get returns one plan
func (s *Service) Get(ctx context.Context, id int64) (*domain.DCAPlan, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns plans, optionally only those in status
func (s *Service) List(ctx context.Context, status domain.PlanStatus) ([]*domain.DCAPlan, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: "unknown plan status"}
	}
	plans, err := s.repo.List(ctx, status)
	if err != nil {
		return nil, domain.Persistence("list plans", err)
	}
	if plans == nil {
		plans = []*domain.DCAPlan{}
	}
	return plans, nil
}

// Create validates and stores a new active plan. Nothing is executed until the
// next tick, a manual execution or a backfill.
func (s *Service) Create(ctx context.Context, in PlanInput) (*domain.DCAPlan, error) {
	plan := &domain.DCAPlan{Status: domain.PlanActive}
	apply(plan, in)
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	next, err := NextAfter(ctx, plan, utils.Day(s.now().UTC()).AddDate(0, 0, -1), s.calendar)
	if err != nil {
		return nil, err
	}
	plan.NextExecutionDate = next
	plan.TotalInvested = decimal.Zero
	plan.TotalShares = decimal.Zero

	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, domain.Persistence("create plan", err)
	}

	s.emit(&events.PlanChangedData{PlanID: plan.ID, Action: "created", Status: string(plan.Status)})
	return plan, nil
}

// Update replaces a plan's configuration. Counters and status are kept,
// except that a completed plan is reopened when the new configuration leaves
// dates without an operation.
func (s *Service) Update(ctx context.Context, id int64, in PlanInput) (*UpdateResult, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == domain.PlanStopped {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("plan %d is stopped", id)}
	}

	oldStart, oldEnd := plan.StartDate, plan.EndDate
	apply(plan, in)
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	result := &UpdateResult{Plan: plan}
	if !utils.SameDay(oldStart, plan.StartDate) || !sameOptionalDay(oldEnd, plan.EndDate) {
		existing, err := s.ops.ListByPlan(ctx, id)
		if err != nil {
			return nil, domain.Persistence("load plan operations", err)
		}
		result.RequiresRegeneration = true
		for _, op := range existing {
			if !inRange(plan, op.OperationDate) {
				result.OutOfRange++
			}
		}
	}

	if plan.Status == domain.PlanCompleted {
		open, err := s.hasOpenDates(ctx, plan)
		if err != nil {
			return nil, err
		}
		if open {
			plan.Status = domain.PlanActive
			s.log.Info().Int64("plan_id", id).Msg("Completed plan reopened")
		}
	}

	if !plan.Status.Terminal() {
		if plan.NextExecutionDate, err = NextAfter(ctx, plan, utils.Day(s.now().UTC()).AddDate(0, 0, -1), s.calendar); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, domain.Persistence("update plan", err)
	}

	s.log.Info().
		Int64("plan_id", id).
		Bool("requires_regeneration", result.RequiresRegeneration).
		Msg("Plan updated")
	s.emit(&events.PlanChangedData{PlanID: id, Action: "updated", Status: string(plan.Status)})
	return result, nil
}

// hasOpenDates reports whether the plan has candidate dates without an
// operation. A plan without an end date always does.
func (s *Service) hasOpenDates(ctx context.Context, plan *domain.DCAPlan) (bool, error) {
	if plan.EndDate == nil {
		return true, nil
	}
	dates, err := Generate(ctx, plan, *plan.EndDate, s.calendar)
	if err != nil {
		return false, err
	}
	ops, err := s.ops.ListByPlan(ctx, plan.ID)
	if err != nil {
		return false, domain.Persistence("load plan operations", err)
	}
	recorded := make(map[string]bool, len(ops))
	for _, op := range ops {
		recorded[op.OperationDay()] = true
	}
	for _, d := range dates {
		if !recorded[utils.FormatDay(d)] {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a plan. With deleteOperations its operations go too;
// otherwise they stay in the ledger as manual entries.
func (s *Service) Delete(ctx context.Context, id int64, deleteOperations bool) error {
	if deleteOperations {
		if _, err := s.executor.DeletePlanOperations(ctx, id); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if domain.IsNotFound(err) {
			return err
		}
		return domain.Persistence("delete plan", err)
	}
	s.emit(&events.PlanChangedData{PlanID: id, Action: "deleted"})
	return nil
}

// Pause stops scheduled execution of an active plan
func (s *Service) Pause(ctx context.Context, id int64) (*domain.DCAPlan, error) {
	return s.transition(ctx, id, domain.PlanPaused, domain.PlanActive)
}

// Resume reactivates a paused plan
func (s *Service) Resume(ctx context.Context, id int64) (*domain.DCAPlan, error) {
	return s.transition(ctx, id, domain.PlanActive, domain.PlanPaused)
}

// Stop ends a plan for good
func (s *Service) Stop(ctx context.Context, id int64) (*domain.DCAPlan, error) {
	return s.transition(ctx, id, domain.PlanStopped, domain.PlanActive, domain.PlanPaused)
}

func (s *Service) transition(ctx context.Context, id int64, to domain.PlanStatus, from ...domain.PlanStatus) (*domain.DCAPlan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == to {
		return plan, nil
	}

	allowed := false
	for _, f := range from {
		if plan.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &domain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot move plan %d from %s to %s", id, plan.Status, to),
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, domain.Persistence("update plan status", err)
	}
	plan.Status = to

	if _, err := s.executor.RecomputeStats(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("plan_id", id).Msg("Failed to refresh plan stats")
	}
	if refreshed, err := s.repo.GetByID(ctx, id); err == nil {
		plan = refreshed
	}

	s.log.Info().Int64("plan_id", id).Str("status", string(to)).Msg("Plan status changed")
	s.emit(&events.PlanChangedData{PlanID: id, Action: "status", Status: string(to)})
	return plan, nil
}

// Statistics summarizes a plan's non-cancelled operations
func (s *Service) Statistics(ctx context.Context, id int64) (*PlanStatistics, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ops, err := s.ops.ListByPlan(ctx, id)
	if err != nil {
		return nil, domain.Persistence("load plan operations", err)
	}

	st := &PlanStatistics{
		PlanID:        id,
		TotalInvested: decimal.Zero,
		TotalShares:   decimal.Zero,
		AvgCost:       decimal.Zero,
		CurrentValue:  decimal.Zero,
		TotalProfit:   decimal.Zero,
		ProfitRate:    decimal.Zero,
	}
	if plan.SmartDCA {
		b := BaselineNAV(plan)
		st.BaselineNAV = &b
	}

	var navs, weights []float64
	for _, op := range ops {
		if op.Status == domain.StatusCancelled {
			continue
		}
		st.TotalOperations++
		st.TotalInvested = st.TotalInvested.Add(op.Amount)
		st.TotalShares = st.TotalShares.Add(op.Quantity)
		navs = append(navs, op.NAV.InexactFloat64())
		weights = append(weights, op.Quantity.InexactFloat64())
	}

	if len(navs) > 0 {
		avg := decimal.NewFromFloat(stat.Mean(navs, weights)).Round(domain.NAVPlaces)
		lo := decimal.NewFromFloat(floats.Min(navs)).Round(domain.NAVPlaces)
		hi := decimal.NewFromFloat(floats.Max(navs)).Round(domain.NAVPlaces)
		st.AvgNAV, st.MinNAVPaid, st.MaxNAVPaid = &avg, &lo, &hi
	}
	if st.TotalShares.IsPositive() {
		st.AvgCost = st.TotalInvested.DivRound(st.TotalShares, domain.NAVPlaces)
	}

	if st.TotalShares.IsPositive() && s.navs != nil {
		quote, err := s.navs.GetLatestNAV(ctx, plan.AssetCode)
		switch {
		case err == nil:
			nav := quote.NAV
			st.LatestNAV = &nav
			st.CurrentValue = st.TotalShares.Mul(nav).Round(domain.AmountPlaces)
			st.TotalProfit = st.CurrentValue.Sub(st.TotalInvested)
			if st.TotalInvested.IsPositive() {
				st.ProfitRate = st.TotalProfit.DivRound(st.TotalInvested, 4)
			}
		case errors.Is(err, domain.ErrNAVNotFound):
			st.NAVMissing = true
		default:
			s.log.Warn().Err(err).Str("asset_code", plan.AssetCode).Msg("Latest NAV unavailable")
			st.NAVMissing = true
		}
	} else if st.TotalShares.IsPositive() {
		st.NAVMissing = true
	}

	return st, nil
}

// ListExecutions returns the plan's most recent execution records
func (s *Service) ListExecutions(ctx context.Context, id int64, limit int) ([]domain.ExecutionRecord, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.repo.ListExecutions(ctx, id, limit)
	if err != nil {
		return nil, domain.Persistence("list executions", err)
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	return records, nil
}

func (s *Service) emit(data events.EventData) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(moduleName, data)
}

func apply(plan *domain.DCAPlan, in PlanInput) {
	plan.Name = strings.TrimSpace(in.Name)
	plan.AssetCode = utils.NormalizeAssetCode(in.AssetCode)
	plan.Amount = in.Amount
	plan.Fee = in.Fee
	plan.Frequency = in.Frequency
	plan.FrequencyValue = in.FrequencyValue
	plan.StartDate = utils.Day(in.StartDate)
	plan.EndDate = nil
	if in.EndDate != nil {
		end := utils.Day(*in.EndDate)
		plan.EndDate = &end
	}
	plan.ExcludeDates = make([]time.Time, 0, len(in.ExcludeDates))
	for _, d := range in.ExcludeDates {
		plan.ExcludeDates = append(plan.ExcludeDates, utils.Day(d))
	}
	plan.SkipHolidays = in.SkipHolidays
	plan.SmartDCA = in.SmartDCA
	plan.BaseAmount = in.BaseAmount
	plan.MaxAmount = in.MaxAmount
	plan.IncreaseRate = in.IncreaseRate
	plan.MinNAV = in.MinNAV
	plan.MaxNAV = in.MaxNAV

	if plan.FrequencyValue == 0 {
		plan.FrequencyValue = 1
	}
	if plan.Name == "" {
		plan.Name = plan.AssetCode + " " + string(plan.Frequency)
	}
	if plan.SmartDCA && plan.Amount.IsZero() {
		plan.Amount = plan.BaseAmount
	}
}

func validatePlan(plan *domain.DCAPlan) error {
	if plan.AssetCode == "" {
		return &domain.ValidationError{Field: "asset_code", Message: "is required"}
	}
	if !plan.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if plan.Fee.IsNegative() {
		return &domain.ValidationError{Field: "fee", Message: "must not be negative"}
	}
	smallest := plan.Amount
	if plan.SmartDCA {
		smallest = plan.BaseAmount
	}
	if smallest.IsPositive() && plan.Fee.GreaterThanOrEqual(smallest) {
		return &domain.ValidationError{Field: "fee", Message: fmt.Sprintf("must be below the invested amount %s", smallest.StringFixed(2))}
	}
	if err := ValidateSchedule(plan); err != nil {
		return err
	}
	for _, d := range plan.ExcludeDates {
		if !inRange(plan, d) {
			return &domain.InvalidRangeError{Message: fmt.Sprintf(
				"exclude date %s is outside the plan range", utils.FormatDay(d))}
		}
	}
	return ValidateSmart(plan)
}

func sameOptionalDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return utils.SameDay(*a, *b)
}
