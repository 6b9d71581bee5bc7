package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/idgen"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/metrics"
)

// SettlementService drives transactions through their lifecycle after
// allocation: payment confirmation, cancellation, expiry, completion and
// disputes. Every transition and its balance effects commit atomically.
type SettlementService struct {
	traders   domain.TraderRepository
	txs       domain.TransactionRepository
	merchants domain.MerchantRepository
	disputes  domain.DisputeRepository
	txManager domain.TxManager
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
}

// NewSettlementService creates the settlement service.
func NewSettlementService(
	traders domain.TraderRepository,
	txs domain.TransactionRepository,
	merchants domain.MerchantRepository,
	disputes domain.DisputeRepository,
	txManager domain.TxManager,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
) *SettlementService {
	return &SettlementService{
		traders:   traders,
		txs:       txs,
		merchants: merchants,
		disputes:  disputes,
		txManager: txManager,
		publisher: publisher,
		metrics:   m,
	}
}

// merchantCredit is what the merchant receives for a settled transaction:
// the payment amount net of the merchant fee, converted at the market rate
// and rounded in the platform's favor.
func merchantCredit(tx *domain.Transaction) (credit, fee decimal.Decimal) {
	oneHundred := decimal.NewFromInt(100)
	gross := tx.Amount.Div(tx.MarketRate).RoundFloor(2)
	net := tx.Amount.Mul(oneHundred.Sub(tx.FeeMerchantPercent)).Div(oneHundred)
	credit = net.Div(tx.MarketRate).RoundFloor(2)
	return credit, gross.Sub(credit)
}

// Confirm marks a transaction as paid. The reserved collateral is consumed:
// it leaves both the frozen pool and the trust balance, the commission is
// credited to the trader's profit, and the merchant balance grows by the
// principal net of the merchant fee.
func (s *SettlementService) Confirm(ctx context.Context, transactionID string) (*TransactionDTO, error) {
	var result *domain.Transaction
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		// A disputed transaction leaves DISPUTE only through dispute
		// resolution; confirming it here would orphan the open dispute.
		if tx.Status == domain.StatusDispute {
			return domain.ErrTransactionDisputed
		}
		now := time.Now()
		alreadyConsumed := tx.Consumed()
		if err := tx.MarkReady(now); err != nil {
			return err
		}
		if !alreadyConsumed {
			if err := s.settle(ctx, tx, now); err != nil {
				return err
			}
		}
		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(domain.StatusReady)
	logger.Info(ctx, "Transaction confirmed",
		"transaction_id", result.TransactionID,
		"trader_id", result.TraderID,
		"frozen", result.FrozenAmount.String(),
	)
	return toTransactionDTO(result, nil), nil
}

// settle consumes the collateral of tx and credits the merchant. Caller runs
// inside a storage transaction.
func (s *SettlementService) settle(ctx context.Context, tx *domain.Transaction, now time.Time) error {
	total := tx.TotalRequired()
	if err := s.traders.AdjustCollateral(ctx, tx.TraderID, domain.CollateralAdjustment{
		FreezeDelta: total.Neg(),
		TrustDelta:  total.Neg(),
		ProfitDelta: tx.Commission,
	}); err != nil {
		return err
	}

	credit, fee := merchantCredit(tx)
	if err := s.merchants.CreditBalance(ctx, tx.MerchantID, credit); err != nil {
		return err
	}

	if s.metrics != nil {
		f, _ := total.Float64()
		s.metrics.FrozenCollateral.Sub(f)
	}

	if err := s.publisher.PublishTransactionReady(ctx, domain.TransactionReadyEvent{
		TransactionID: tx.TransactionID,
		MerchantID:    tx.MerchantID,
		TraderID:      tx.TraderID,
		Amount:        tx.Amount,
		FrozenAmount:  tx.FrozenAmount,
		Commission:    tx.Commission,
		MerchantFee:   fee,
		OccurredOn:    now,
	}); err != nil {
		return err
	}
	return s.publisher.PublishCollateralChanged(ctx, domain.CollateralChangedEvent{
		TraderID:    tx.TraderID,
		FreezeDelta: total.Neg(),
		TrustDelta:  total.Neg(),
		ProfitDelta: tx.Commission,
		Cause:       "settlement_consume",
		OccurredOn:  now,
	})
}

// unwind reverses the balance effects of tx on cancellation. A transaction
// that never settled only releases its frozen reserve; a settled one restores
// the trust balance, claws back the commission and debits the merchant.
func (s *SettlementService) unwind(ctx context.Context, tx *domain.Transaction, now time.Time, cause string) error {
	total := tx.TotalRequired()
	if !tx.Consumed() {
		if err := s.traders.AdjustCollateral(ctx, tx.TraderID, domain.CollateralAdjustment{
			FreezeDelta: total.Neg(),
		}); err != nil {
			return err
		}
		if s.metrics != nil {
			f, _ := total.Float64()
			s.metrics.FrozenCollateral.Sub(f)
		}
		return s.publisher.PublishCollateralChanged(ctx, domain.CollateralChangedEvent{
			TraderID:    tx.TraderID,
			FreezeDelta: total.Neg(),
			Cause:       cause,
			OccurredOn:  now,
		})
	}

	if err := s.traders.AdjustCollateral(ctx, tx.TraderID, domain.CollateralAdjustment{
		TrustDelta:  total,
		ProfitDelta: tx.Commission.Neg(),
	}); err != nil {
		return err
	}
	credit, _ := merchantCredit(tx)
	if err := s.merchants.CreditBalance(ctx, tx.MerchantID, credit.Neg()); err != nil {
		return err
	}
	return s.publisher.PublishCollateralChanged(ctx, domain.CollateralChangedEvent{
		TraderID:    tx.TraderID,
		TrustDelta:  total,
		ProfitDelta: tx.Commission.Neg(),
		Cause:       cause,
		OccurredOn:  now,
	})
}

// Cancel aborts a transaction and unwinds its balance effects.
func (s *SettlementService) Cancel(ctx context.Context, transactionID, reason string) (*TransactionDTO, error) {
	var result *domain.Transaction
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status == domain.StatusDispute {
			return domain.ErrTransactionDisputed
		}
		now := time.Now()
		wasSettled := tx.Consumed()
		if err := tx.Cancel(); err != nil {
			return err
		}
		if err := s.unwind(ctx, tx, now, "cancel_unwind"); err != nil {
			return err
		}
		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		if err := s.publisher.PublishTransactionCanceled(ctx, domain.TransactionCanceledEvent{
			TransactionID: tx.TransactionID,
			MerchantID:    tx.MerchantID,
			TraderID:      tx.TraderID,
			Reason:        reason,
			WasSettled:    wasSettled,
			OccurredOn:    now,
		}); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(domain.StatusCanceled)
	logger.Info(ctx, "Transaction canceled",
		"transaction_id", result.TransactionID,
		"reason", reason,
	)
	return toTransactionDTO(result, nil), nil
}

// Expire times out an unpaid transaction and releases its reserve. Used by
// the expiry watcher.
func (s *SettlementService) Expire(ctx context.Context, transactionID string) error {
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Expire(); err != nil {
			return err
		}
		if err := s.unwind(ctx, tx, now, "expiry_release"); err != nil {
			return err
		}
		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		return s.publisher.PublishTransactionExpired(ctx, domain.TransactionExpiredEvent{
			TransactionID: tx.TransactionID,
			MerchantID:    tx.MerchantID,
			TraderID:      tx.TraderID,
			FrozenAmount:  tx.FrozenAmount,
			Commission:    tx.Commission,
			OccurredOn:    now,
		})
	})
	if err != nil {
		return err
	}

	s.recordTransition(domain.StatusExpired)
	if s.metrics != nil {
		s.metrics.ExpiredTransactionsTotal.Inc()
	}
	return nil
}

// Complete finalizes a settled transaction. Balances moved at confirmation,
// so this is a pure status transition.
func (s *SettlementService) Complete(ctx context.Context, transactionID string) (*TransactionDTO, error) {
	var result *domain.Transaction
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := tx.Complete(); err != nil {
			return err
		}
		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		if err := s.publisher.PublishTransactionCompleted(ctx, domain.TransactionCompletedEvent{
			TransactionID: tx.TransactionID,
			MerchantID:    tx.MerchantID,
			TraderID:      tx.TraderID,
			OccurredOn:    time.Now(),
		}); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(domain.StatusCompleted)
	return toTransactionDTO(result, nil), nil
}

// OpenDispute contests a transaction. The transaction parks in DISPUTE and
// the open dispute counts against the trader's limit.
func (s *SettlementService) OpenDispute(ctx context.Context, transactionID, reason string) (string, error) {
	disputeID := fmt.Sprintf("DSP-%d", idgen.GenID())
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if _, err := s.disputes.GetOpenByTransactionID(ctx, transactionID); err == nil {
			return domain.ErrDisputeAlreadyOpen
		}
		if err := tx.OpenDispute(); err != nil {
			return err
		}
		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		dispute := &domain.Dispute{
			DisputeID:     disputeID,
			TransactionID: tx.TransactionID,
			TraderID:      tx.TraderID,
			MerchantID:    tx.MerchantID,
			Status:        domain.DisputeOpen,
			Reason:        reason,
		}
		if err := s.disputes.Create(ctx, dispute); err != nil {
			return err
		}
		return s.publisher.PublishDisputeOpened(ctx, domain.DisputeOpenedEvent{
			DisputeID:     dispute.DisputeID,
			TransactionID: tx.TransactionID,
			TraderID:      tx.TraderID,
			MerchantID:    tx.MerchantID,
			Reason:        reason,
			OccurredOn:    time.Now(),
		})
	})
	if err != nil {
		return "", err
	}

	s.recordTransition(domain.StatusDispute)
	logger.Info(ctx, "Dispute opened", "dispute_id", disputeID, "transaction_id", transactionID)
	return disputeID, nil
}

// ResolveDispute decides an open dispute. A client win settles the
// transaction (READY, consuming collateral if it never settled); a trader
// win cancels it and unwinds whatever effects it had.
func (s *SettlementService) ResolveDispute(ctx context.Context, disputeID string, outcome domain.DisputeStatus) error {
	if outcome != domain.DisputeResolvedClient && outcome != domain.DisputeResolvedTrader {
		return fmt.Errorf("unsupported dispute outcome %q", outcome)
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		dispute, err := s.disputes.GetByID(ctx, disputeID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := dispute.Resolve(outcome, now); err != nil {
			return err
		}
		tx, err := s.txs.GetByID(ctx, dispute.TransactionID)
		if err != nil {
			return err
		}

		switch outcome {
		case domain.DisputeResolvedClient:
			alreadyConsumed := tx.Consumed()
			if err := tx.MarkReady(now); err != nil {
				return err
			}
			if !alreadyConsumed {
				if err := s.settle(ctx, tx, now); err != nil {
					return err
				}
			}
		case domain.DisputeResolvedTrader:
			if err := tx.Cancel(); err != nil {
				return err
			}
			if err := s.unwind(ctx, tx, now, "dispute_unwind"); err != nil {
				return err
			}
		}

		if err := s.txs.Update(ctx, tx); err != nil {
			return err
		}
		if err := s.disputes.Update(ctx, dispute); err != nil {
			return err
		}
		return s.publisher.PublishDisputeResolved(ctx, domain.DisputeResolvedEvent{
			DisputeID:     dispute.DisputeID,
			TransactionID: tx.TransactionID,
			TraderID:      tx.TraderID,
			Outcome:       outcome,
			OccurredOn:    now,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "Dispute resolved", "dispute_id", disputeID, "outcome", string(outcome))
	return nil
}

// GetTransaction returns the external view of a transaction.
func (s *SettlementService) GetTransaction(ctx context.Context, transactionID string) (*TransactionDTO, error) {
	tx, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return toTransactionDTO(tx, nil), nil
}

func (s *SettlementService) recordTransition(status domain.TransactionStatus) {
	if s.metrics != nil {
		s.metrics.SettlementTransitionsTotal.WithLabelValues(string(status)).Inc()
	}
}
