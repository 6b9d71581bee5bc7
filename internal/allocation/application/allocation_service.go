// Package application contains the use cases of the allocation engine: the
// allocator itself, settlement, dispute handling and the expiry watcher.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/idgen"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/metrics"
)

// Filter check names, used as metric labels and log fields.
const (
	checkTraderActive = "trader_active"
	checkAgreement    = "fee_agreement"
	checkReqBounds    = "requisite_bounds"
	checkTraderBounds = "trader_bounds"
	checkDisputes     = "dispute_limit"
	checkDailyLimit   = "daily_limit"
	checkMonthlyLimit = "monthly_limit"
	checkCountLimit   = "count_limit"
	checkInterval     = "interval"
	checkCollateral   = "collateral"
)

// RateProvider supplies the crypto market rate for a payment currency.
type RateProvider interface {
	GetRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// AllocationConfig holds the tunables of the allocator.
type AllocationConfig struct {
	// Platform markup percent subtracted from the market rate
	MarkupPercent decimal.Decimal
	// How long a payer has to complete the payment
	TransactionTTL time.Duration
}

// AllocationService binds merchant orders to trader requisites and freezes
// collateral. One instance serves all concurrent requests; all shared state
// lives in the repositories.
type AllocationService struct {
	requisites domain.RequisiteRepository
	traders    domain.TraderRepository
	txs        domain.TransactionRepository
	agreements domain.FeeAgreementRepository
	disputes   domain.DisputeRepository
	merchants  domain.MerchantRepository
	txManager  domain.TxManager
	publisher  domain.EventPublisher
	rates      RateProvider
	metrics    *metrics.Metrics
	cfg        AllocationConfig
}

// NewAllocationService creates the allocator.
func NewAllocationService(
	requisites domain.RequisiteRepository,
	traders domain.TraderRepository,
	txs domain.TransactionRepository,
	agreements domain.FeeAgreementRepository,
	disputes domain.DisputeRepository,
	merchants domain.MerchantRepository,
	txManager domain.TxManager,
	publisher domain.EventPublisher,
	rates RateProvider,
	m *metrics.Metrics,
	cfg AllocationConfig,
) *AllocationService {
	return &AllocationService{
		requisites: requisites,
		traders:    traders,
		txs:        txs,
		agreements: agreements,
		disputes:   disputes,
		merchants:  merchants,
		txManager:  txManager,
		publisher:  publisher,
		rates:      rates,
		metrics:    m,
		cfg:        cfg,
	}
}

// candidate is one requisite with its trader-side context resolved.
type candidate struct {
	requisite *domain.Requisite
	trader    *domain.Trader
	agreement *domain.FeeAgreement
	usage     *domain.RequisiteUsage
	disputes  int64
}

// Allocate picks a requisite for the order and freezes the trader's
// collateral atomically. Candidates are tried least recently used first; a
// candidate that loses the collateral race at commit time is skipped and the
// next one is tried, so one allocation makes at most one pass over the pool.
func (s *AllocationService) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResult, error) {
	start := time.Now()
	result, err := s.allocate(ctx, req)

	outcome := "invalid_request"
	if result != nil {
		outcome = outcomeLabel(result.Code)
	}
	if s.metrics != nil {
		s.metrics.AllocationsTotal.WithLabelValues(outcome).Inc()
		s.metrics.AllocationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (s *AllocationService) allocate(ctx context.Context, req *AllocateRequest) (*AllocateResult, error) {
	logger.Info(ctx, "Allocation requested",
		"merchant_id", req.MerchantID,
		"order_id", req.OrderID,
		"amount", req.Amount,
		"method_type", req.MethodType,
	)

	amount, methodType, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	merchant, err := s.merchants.GetByID(ctx, req.MerchantID)
	if err != nil {
		return s.infraOrNil(err)
	}
	if merchant.Disabled {
		return nil, fmt.Errorf("merchant %s is disabled", merchant.MerchantID)
	}

	// Idempotency: the (merchant, order) pair allocates at most once.
	if existing, err := s.txs.GetByMerchantOrder(ctx, req.MerchantID, req.OrderID); err == nil {
		logger.Warn(ctx, "Duplicate order id",
			"merchant_id", req.MerchantID,
			"order_id", req.OrderID,
			"transaction_id", existing.TransactionID,
		)
		requisite, _ := s.requisites.GetByID(ctx, existing.RequisiteID)
		return &AllocateResult{Code: CodeDuplicateOrder, Transaction: toTransactionDTO(existing, requisite)}, nil
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return &AllocateResult{Code: CodeInfraError}, err
	}

	marketRate, err := s.resolveRate(ctx, req)
	if err != nil {
		logger.Error(ctx, "Rate provider failed", "currency", req.Currency, "error", err)
		return &AllocateResult{Code: CodeInfraError}, err
	}

	pool, err := s.requisites.ListEligible(ctx, methodType)
	if err != nil {
		return &AllocateResult{Code: CodeInfraError}, err
	}
	if len(pool) == 0 {
		logger.Warn(ctx, "No candidates for method type", "method_type", methodType)
		return &AllocateResult{Code: CodeNoCandidate}, nil
	}

	now := time.Now()
	candidates, err := s.resolveCandidates(ctx, req.MerchantID, methodType, pool, now)
	if err != nil {
		return &AllocateResult{Code: CodeInfraError}, err
	}

	collateralOnly := false
	for _, c := range candidates {
		rejectedAt, params := s.filter(ctx, c, amount, marketRate, now)
		if rejectedAt != "" {
			s.rejectCandidate(ctx, c, rejectedAt)
			collateralOnly = collateralOnly || rejectedAt == checkCollateral
			continue
		}

		tx, err := s.commit(ctx, req, c, amount, params, now)
		if errors.Is(err, domain.ErrInsufficientCollateral) {
			// Lost the collateral race to a concurrent allocation; advance.
			if s.metrics != nil {
				s.metrics.RaceRetriesTotal.Inc()
			}
			logger.Warn(ctx, "Collateral re-validation lost, trying next candidate",
				"trader_id", c.trader.TraderID,
				"requisite_id", c.requisite.RequisiteID,
			)
			collateralOnly = true
			continue
		}
		if errors.Is(err, domain.ErrDuplicateOrder) {
			// A concurrent request with the same order id won the insert.
			if existing, lookupErr := s.txs.GetByMerchantOrder(ctx, req.MerchantID, req.OrderID); lookupErr == nil {
				return &AllocateResult{Code: CodeDuplicateOrder, Transaction: toTransactionDTO(existing, nil)}, nil
			}
			return &AllocateResult{Code: CodeDuplicateOrder}, nil
		}
		if err != nil {
			return &AllocateResult{Code: CodeInfraError}, err
		}

		logger.Info(ctx, "Requisite allocated",
			"transaction_id", tx.TransactionID,
			"merchant_id", req.MerchantID,
			"order_id", req.OrderID,
			"trader_id", c.trader.TraderID,
			"requisite_id", c.requisite.RequisiteID,
			"frozen", tx.FrozenAmount.String(),
			"commission", tx.Commission.String(),
		)
		return &AllocateResult{Code: CodeAllocated, Transaction: toTransactionDTO(tx, c.requisite)}, nil
	}

	if collateralOnly {
		return &AllocateResult{Code: CodeInsufficientCollateral}, nil
	}
	return &AllocateResult{Code: CodeNoRequisite}, nil
}

func (s *AllocationService) validate(req *AllocateRequest) (decimal.Decimal, domain.MethodType, error) {
	if req.MerchantID == "" || req.OrderID == "" {
		return decimal.Zero, "", fmt.Errorf("merchant_id and order_id are required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid amount: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, "", domain.ErrInvalidAmount
	}
	methodType := domain.MethodType(req.MethodType)
	switch methodType {
	case domain.MethodTypeCard, domain.MethodTypeSBP:
	default:
		return decimal.Zero, "", fmt.Errorf("unknown method type %q", req.MethodType)
	}
	return amount, methodType, nil
}

// resolveRate prefers a caller-supplied rate over the provider.
func (s *AllocationService) resolveRate(ctx context.Context, req *AllocateRequest) (decimal.Decimal, error) {
	if req.MarketRate != "" {
		rate, err := decimal.NewFromString(req.MarketRate)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid market rate: %w", err)
		}
		if !rate.IsPositive() {
			return decimal.Zero, domain.ErrInvalidRate
		}
		return rate, nil
	}
	return s.rates.GetRate(ctx, req.Currency)
}

func (s *AllocationService) infraOrNil(err error) (*AllocateResult, error) {
	if errors.Is(err, domain.ErrMerchantNotFound) {
		return nil, err
	}
	return &AllocateResult{Code: CodeInfraError}, err
}

// resolveCandidates loads the trader, agreement, usage and dispute context
// for the whole pool with one batched query per concern.
func (s *AllocationService) resolveCandidates(ctx context.Context, merchantID string, methodType domain.MethodType, pool []*domain.Requisite, now time.Time) ([]candidate, error) {
	traderIDs := make([]string, 0, len(pool))
	requisiteIDs := make([]string, 0, len(pool))
	seen := make(map[string]bool, len(pool))
	for _, r := range pool {
		requisiteIDs = append(requisiteIDs, r.RequisiteID)
		if !seen[r.TraderID] {
			seen[r.TraderID] = true
			traderIDs = append(traderIDs, r.TraderID)
		}
	}

	traders, err := s.traders.GetByIDs(ctx, traderIDs)
	if err != nil {
		return nil, err
	}
	agreements, err := s.agreements.GetByMerchantAndTraders(ctx, merchantID, traderIDs, methodType)
	if err != nil {
		return nil, err
	}
	usage, err := s.txs.UsageByRequisites(ctx, requisiteIDs, dayStart(now), monthStart(now))
	if err != nil {
		return nil, err
	}
	openDisputes, err := s.disputes.CountOpenByTraders(ctx, traderIDs)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(pool))
	for _, r := range pool {
		candidates = append(candidates, candidate{
			requisite: r,
			trader:    traders[r.TraderID],
			agreement: agreements[r.TraderID],
			usage:     usage[r.RequisiteID],
			disputes:  openDisputes[r.TraderID],
		})
	}
	return candidates, nil
}

// filter runs the candidate through the constraint chain, short-circuiting on
// the first failed check. Cheap checks run before the ones that depend on
// freezing math; the collateral check is last so a collateral-only failure
// can surface as INSUFFICIENT_COLLATERAL.
func (s *AllocationService) filter(ctx context.Context, c candidate, amount, marketRate decimal.Decimal, now time.Time) (string, domain.FreezingParams) {
	var none domain.FreezingParams

	if c.trader == nil || c.trader.Banned {
		return checkTraderActive, none
	}
	if c.agreement == nil || c.agreement.Disabled {
		return checkAgreement, none
	}
	if !c.requisite.AcceptsAmount(amount) {
		return checkReqBounds, none
	}
	if !c.trader.AcceptsAmount(amount) {
		return checkTraderBounds, none
	}
	if !c.trader.WithinDisputeLimit(c.disputes) {
		return checkDisputes, none
	}

	var dayTotal, monthTotal decimal.Decimal
	var inFlight int64
	var last *time.Time
	if c.usage != nil {
		dayTotal = c.usage.DayTotal
		monthTotal = c.usage.MonthTotal
		inFlight = c.usage.InFlightCount
		last = c.usage.LastAllocatedAt
	}
	if !c.requisite.WithinDailyLimit(dayTotal, amount) {
		return checkDailyLimit, none
	}
	if !c.requisite.WithinMonthlyLimit(monthTotal, amount) {
		return checkMonthlyLimit, none
	}
	if !c.requisite.WithinCountLimit(inFlight) {
		return checkCountLimit, none
	}
	if !c.requisite.IntervalElapsed(last, now) {
		return checkInterval, none
	}

	params, err := domain.CalculateFreezing(amount, marketRate, s.cfg.MarkupPercent, c.agreement.TraderFeePercent)
	if err != nil {
		logger.Error(ctx, "Freezing calculation failed",
			"requisite_id", c.requisite.RequisiteID,
			"market_rate", marketRate.String(),
			"error", err,
		)
		return checkCollateral, none
	}
	if !c.trader.CanFreeze(params.TotalRequired) {
		return checkCollateral, none
	}
	return "", params
}

func (s *AllocationService) rejectCandidate(ctx context.Context, c candidate, check string) {
	if s.metrics != nil {
		s.metrics.FilterRejectionsTotal.WithLabelValues(check).Inc()
	}
	logger.Debug(ctx, "Candidate rejected",
		"requisite_id", c.requisite.RequisiteID,
		"trader_id", c.requisite.TraderID,
		"check", check,
	)
}

// commit freezes the collateral and records the transaction in one database
// transaction. The conditional collateral update is the authoritative check:
// if a concurrent allocation consumed the headroom since the filter ran, the
// whole commit rolls back with ErrInsufficientCollateral.
func (s *AllocationService) commit(ctx context.Context, req *AllocateRequest, c candidate, amount decimal.Decimal, params domain.FreezingParams, now time.Time) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		TransactionID:      fmt.Sprintf("TRX-%d", idgen.GenID()),
		MerchantID:         req.MerchantID,
		OrderID:            req.OrderID,
		TraderID:           c.trader.TraderID,
		RequisiteID:        c.requisite.RequisiteID,
		MethodType:         c.requisite.MethodType,
		Amount:             amount,
		Currency:           req.Currency,
		MarketRate:         params.MarketRate,
		AdjustedRate:       params.AdjustedRate,
		FrozenAmount:       params.FrozenAmount,
		Commission:         params.Commission,
		FeeTraderPercent:   c.agreement.TraderFeePercent,
		FeeMerchantPercent: c.agreement.MerchantFeePercent,
		MarkupPercent:      s.cfg.MarkupPercent,
		Status:             domain.StatusCreated,
		ExpiresAt:          now.Add(s.cfg.TransactionTTL),
	}
	if err := tx.Activate(); err != nil {
		return nil, err
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.traders.AdjustCollateral(ctx, c.trader.TraderID, domain.CollateralAdjustment{
			FreezeDelta: params.TotalRequired,
		}); err != nil {
			return err
		}
		if err := s.txs.Create(ctx, tx); err != nil {
			return err
		}
		if err := s.requisites.Touch(ctx, c.requisite.RequisiteID, now); err != nil {
			return err
		}
		if err := s.publisher.PublishTransactionCreated(ctx, domain.TransactionCreatedEvent{
			TransactionID: tx.TransactionID,
			MerchantID:    tx.MerchantID,
			OrderID:       tx.OrderID,
			TraderID:      tx.TraderID,
			RequisiteID:   tx.RequisiteID,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			AdjustedRate:  tx.AdjustedRate,
			FrozenAmount:  tx.FrozenAmount,
			Commission:    tx.Commission,
			ExpiresAt:     tx.ExpiresAt,
			OccurredOn:    now,
		}); err != nil {
			return err
		}
		return s.publisher.PublishCollateralChanged(ctx, domain.CollateralChangedEvent{
			TraderID:    tx.TraderID,
			FreezeDelta: params.TotalRequired,
			Cause:       "allocation_freeze",
			OccurredOn:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		frozen, _ := params.TotalRequired.Float64()
		s.metrics.FrozenCollateral.Add(frozen)
	}
	return tx, nil
}

func outcomeLabel(code ResultCode) string {
	switch code {
	case CodeAllocated:
		return "allocated"
	case CodeNoCandidate:
		return "no_candidate"
	case CodeNoRequisite:
		return "no_requisite"
	case CodeInsufficientCollateral:
		return "insufficient_collateral"
	case CodeDuplicateOrder:
		return "duplicate_order"
	default:
		return "infra_error"
	}
}
