package application

import (
	"context"
	"time"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
)

// ExpiryWatcher periodically times out unpaid transactions whose payment
// window has closed, releasing their frozen collateral.
type ExpiryWatcher struct {
	txs        domain.TransactionRepository
	settlement *SettlementService
	interval   time.Duration
	batchSize  int
}

// NewExpiryWatcher creates the watcher.
func NewExpiryWatcher(txs domain.TransactionRepository, settlement *SettlementService, interval time.Duration, batchSize int) *ExpiryWatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryWatcher{
		txs:        txs,
		settlement: settlement,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Run polls until the context is canceled.
func (w *ExpiryWatcher) Run(ctx context.Context) {
	logger.Info(ctx, "Expiry watcher started", "interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Expiry watcher stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep expires one batch. Failures on individual transactions are logged
// and skipped so one bad row cannot wedge the watcher.
func (w *ExpiryWatcher) sweep(ctx context.Context) {
	expired, err := w.txs.ListExpired(ctx, time.Now(), w.batchSize)
	if err != nil {
		logger.Error(ctx, "Expiry sweep query failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	logger.Info(ctx, "Expiring transactions", "count", len(expired))
	for _, tx := range expired {
		if err := w.settlement.Expire(ctx, tx.TransactionID); err != nil {
			logger.Error(ctx, "Failed to expire transaction",
				"transaction_id", tx.TransactionID,
				"error", err,
			)
		}
	}
}
