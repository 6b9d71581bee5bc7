package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
)

// allocate seeds the store and produces one live transaction to settle.
func (e *testEnv) allocate(t *testing.T) (string, *domain.Trader) {
	t.Helper()
	trader := e.seed("100")
	res, err := e.allocator.Allocate(context.Background(), allocReq("order-1"))
	require.NoError(t, err)
	require.Equal(t, CodeAllocated, res.Code)
	return res.Transaction.TransactionID, trader
}

func TestConfirmConsumesCollateral(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	dto, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusReady), dto.Status)

	// 100 - (53.43 + 0.80); commission lands in profit.
	assert.True(t, d("45.77").Equal(trader.TrustBalance), "trust: %s", trader.TrustBalance)
	assert.True(t, trader.FrozenAmount.IsZero())
	assert.True(t, d("0.8").Equal(trader.ProfitFromDeals))

	// Merchant receives 5000 net of the 3% fee at the market rate:
	// 4850 / 95.50 rounded down.
	merchant := env.store.merchants["MCH-1"]
	assert.True(t, d("50.78").Equal(merchant.Balance), "merchant balance: %s", merchant.Balance)

	assert.True(t, env.publisher.has("TransactionReady"))
}

func TestConfirmTwiceFails(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, _ := env.allocate(t)

	_, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)
	_, err = env.settlement.Confirm(context.Background(), txID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelBeforeSettlementReleasesReserve(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	dto, err := env.settlement.Cancel(context.Background(), txID, "client gave up")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCanceled), dto.Status)

	assert.True(t, trader.FrozenAmount.IsZero())
	assert.True(t, d("100").Equal(trader.TrustBalance), "release must restore full headroom")
	assert.True(t, env.store.merchants["MCH-1"].Balance.IsZero())
}

func TestCancelAfterSettlementReversesEverything(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	_, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)
	_, err = env.settlement.Cancel(context.Background(), txID, "chargeback")
	require.NoError(t, err)

	assert.True(t, d("100").Equal(trader.TrustBalance), "trust: %s", trader.TrustBalance)
	assert.True(t, trader.FrozenAmount.IsZero())
	assert.True(t, trader.ProfitFromDeals.IsZero(), "commission must be clawed back")
	assert.True(t, env.store.merchants["MCH-1"].Balance.IsZero(), "merchant credit must be reversed")
}

func TestExpireReleasesReserve(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	require.NoError(t, env.settlement.Expire(context.Background(), txID))

	tx := env.store.txs[txID]
	assert.Equal(t, domain.StatusExpired, tx.Status)
	assert.True(t, trader.FrozenAmount.IsZero())
	assert.True(t, d("100").Equal(trader.TrustBalance))
	assert.True(t, env.publisher.has("TransactionExpired"))
}

func TestExpireSettledTransactionFails(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, _ := env.allocate(t)

	_, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)
	assert.ErrorIs(t, env.settlement.Expire(context.Background(), txID), domain.ErrInvalidTransition)
}

func TestCompleteAfterConfirm(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	_, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)
	trustAfterConfirm := trader.TrustBalance

	dto, err := env.settlement.Complete(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), dto.Status)
	assert.True(t, trustAfterConfirm.Equal(trader.TrustBalance), "completion moves no balances")
}

func TestDisputeResolvedForClientSettles(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	disputeID, err := env.settlement.OpenDispute(context.Background(), txID, "paid but not confirmed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispute, env.store.txs[txID].Status)

	require.NoError(t, env.settlement.ResolveDispute(context.Background(), disputeID, domain.DisputeResolvedClient))

	assert.Equal(t, domain.StatusReady, env.store.txs[txID].Status)
	assert.True(t, d("45.77").Equal(trader.TrustBalance))
	assert.True(t, d("0.8").Equal(trader.ProfitFromDeals))
	assert.True(t, d("50.78").Equal(env.store.merchants["MCH-1"].Balance))
}

func TestDisputeResolvedForTraderCancels(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	disputeID, err := env.settlement.OpenDispute(context.Background(), txID, "no payment received")
	require.NoError(t, err)
	require.NoError(t, env.settlement.ResolveDispute(context.Background(), disputeID, domain.DisputeResolvedTrader))

	assert.Equal(t, domain.StatusCanceled, env.store.txs[txID].Status)
	assert.True(t, trader.FrozenAmount.IsZero())
	assert.True(t, d("100").Equal(trader.TrustBalance))
}

func TestDisputeOnSettledTransaction(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	_, err := env.settlement.Confirm(context.Background(), txID)
	require.NoError(t, err)

	disputeID, err := env.settlement.OpenDispute(context.Background(), txID, "merchant contests")
	require.NoError(t, err)
	require.NoError(t, env.settlement.ResolveDispute(context.Background(), disputeID, domain.DisputeResolvedTrader))

	// A settled then canceled transaction restores all balances.
	assert.True(t, d("100").Equal(trader.TrustBalance))
	assert.True(t, trader.ProfitFromDeals.IsZero())
	assert.True(t, env.store.merchants["MCH-1"].Balance.IsZero())
}

func TestConfirmDisputedTransactionRejected(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	_, err := env.settlement.OpenDispute(context.Background(), txID, "paid but not confirmed")
	require.NoError(t, err)

	_, err = env.settlement.Confirm(context.Background(), txID)
	assert.ErrorIs(t, err, domain.ErrTransactionDisputed)

	// The dispute stays open and keeps counting against the trader.
	_, err = fakeDisputeRepo{env.store}.GetOpenByTransactionID(context.Background(), txID)
	require.NoError(t, err)
	counts, err := fakeDisputeRepo{env.store}.CountOpenByTraders(context.Background(), []string{trader.TraderID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[trader.TraderID])
	assert.Equal(t, domain.StatusDispute, env.store.txs[txID].Status)
}

func TestCancelDisputedTransactionRejected(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	_, err := env.settlement.OpenDispute(context.Background(), txID, "no payment received")
	require.NoError(t, err)

	_, err = env.settlement.Cancel(context.Background(), txID, "support shortcut")
	assert.ErrorIs(t, err, domain.ErrTransactionDisputed)

	// The reserve stays frozen until the dispute resolves.
	assert.True(t, d("54.23").Equal(trader.FrozenAmount))
	assert.Equal(t, domain.StatusDispute, env.store.txs[txID].Status)
}

func TestSecondDisputeAfterResolution(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, _ := env.allocate(t)

	first, err := env.settlement.OpenDispute(context.Background(), txID, "paid")
	require.NoError(t, err)
	require.NoError(t, env.settlement.ResolveDispute(context.Background(), first, domain.DisputeResolvedClient))

	// The transaction is READY again; a fresh dispute on it must succeed.
	second, err := env.settlement.OpenDispute(context.Background(), txID, "merchant contests after all")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, domain.StatusDispute, env.store.txs[txID].Status)
}

func TestDoubleDisputeRejected(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, _ := env.allocate(t)

	_, err := env.settlement.OpenDispute(context.Background(), txID, "first")
	require.NoError(t, err)
	_, err = env.settlement.OpenDispute(context.Background(), txID, "second")
	assert.ErrorIs(t, err, domain.ErrDisputeAlreadyOpen)
}

func TestResolveDisputeTwiceFails(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, _ := env.allocate(t)

	disputeID, err := env.settlement.OpenDispute(context.Background(), txID, "paid")
	require.NoError(t, err)
	require.NoError(t, env.settlement.ResolveDispute(context.Background(), disputeID, domain.DisputeResolvedClient))
	assert.ErrorIs(t,
		env.settlement.ResolveDispute(context.Background(), disputeID, domain.DisputeResolvedClient),
		domain.ErrDisputeResolved)
}

func TestExpiryWatcherSweep(t *testing.T) {
	env := newTestEnv(t, "95.50")
	txID, trader := env.allocate(t)

	// Force the deadline into the past.
	env.store.txs[txID].ExpiresAt = time.Now().Add(-time.Minute)

	watcher := NewExpiryWatcher(fakeTxRepo{env.store}, env.settlement, time.Minute, 10)
	watcher.sweep(context.Background())

	assert.Equal(t, domain.StatusExpired, env.store.txs[txID].Status)
	assert.True(t, trader.FrozenAmount.IsZero())
}
