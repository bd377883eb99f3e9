package engine

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/orbitchat/model"
)

func balanceOf(t *testing.T, e *Engine, id string) int64 {
	t.Helper()
	a, err := e.Identity.Account(id)
	require.NoError(t, err)
	return a.Balance
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	// admin grants 100 to a user holding 20
	balance, err := e.Ledger.Grant(ctx, "1", "4", 100)
	require.NoError(t, err)
	assert.EqualValues(t, 120, balance)

	_, err = e.Ledger.Grant(ctx, "2", "4", 100)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.EqualValues(t, 120, balanceOf(t, e, "4"))

	_, err = e.Ledger.Grant(ctx, "1", "4", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Ledger.Grant(ctx, "1", "99", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Ledger.Grant(ctx, "99", "4", 10)
	assert.ErrorIs(t, err, ErrNotFound)

	balance, err = e.Ledger.Grant(ctx, "1", "1", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 155, balance)
}

func TestGrantOverflow(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Ledger.Grant(ctx, "1", "4", math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualValues(t, 20, balanceOf(t, e, "4"))
}

func TestPurchaseCurrency(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	res, err := e.Ledger.PurchaseCurrency(ctx, "4", 100)
	require.NoError(t, err)
	assert.EqualValues(t, 120, res.Balance)
	assert.EqualValues(t, 5000, res.PriceCents)

	_, err = e.Ledger.PurchaseCurrency(ctx, "4", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Ledger.PurchaseCurrency(ctx, "4", math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Ledger.PurchaseCurrency(ctx, "99", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 120, balanceOf(t, e, "4"))
}

func TestTransferGift(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	tx, err := e.Ledger.TransferGift(ctx, "1", "4", "4")
	require.NoError(t, err)
	assert.Equal(t, "1", tx.ID)
	assert.Equal(t, "1", tx.FromAccountID)
	assert.Equal(t, "4", tx.ToAccountID)
	assert.EqualValues(t, 70, balanceOf(t, e, "1"))
	assert.EqualValues(t, 20, balanceOf(t, e, "4"))

	recipient, err := e.Identity.Account("4")
	require.NoError(t, err)
	assert.Empty(t, recipient.Inventory)

	assert.Equal(t, []string{"1"}, giftIDs(e.Ledger.Gifts("1")))
	assert.Equal(t, []string{"1"}, giftIDs(e.Ledger.Gifts("4")))
	assert.Empty(t, e.Ledger.Gifts("2"))
}

func TestTransferGiftRejections(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	before := e.Snapshot()

	_, err := e.Ledger.TransferGift(ctx, "4", "1", "4")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = e.Ledger.TransferGift(ctx, "1", "4", "1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Ledger.TransferGift(ctx, "1", "1", "4")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Ledger.TransferGift(ctx, "1", "99", "4")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Ledger.TransferGift(ctx, "1", "4", "404")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, e.Snapshot())
}

func TestSpend(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	balance, err := e.Ledger.Spend(ctx, "4", 15)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)

	_, err = e.Ledger.Spend(ctx, "4", 6)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = e.Ledger.Spend(ctx, "4", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualValues(t, 5, balanceOf(t, e, "4"))
}

func TestConcurrentSpendNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	_, err := e.Ledger.Grant(ctx, "1", "4", 80)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Ledger.Spend(ctx, "4", 10)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Zero(t, balanceOf(t, e, "4"))
}

func TestConcurrentGiftsAndPurchases(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = e.Ledger.TransferGift(ctx, "1", "2", "4")
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Ledger.TransferGift(ctx, "2", "1", "4")
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Inventory.Purchase(ctx, "1", "2")
		}()
	}
	wg.Wait()

	for _, a := range e.Snapshot().Accounts {
		assert.GreaterOrEqual(t, a.Balance, int64(0), "account %s", a.ID)
	}
	sent := map[string]int64{}
	for _, g := range e.Ledger.Gifts("1") {
		sent[g.FromAccountID] += 80
	}
	admin, err := e.Identity.Account("1")
	require.NoError(t, err)
	spent := sent["1"]
	if admin.Owns("2") {
		spent += 100
	}
	assert.EqualValues(t, 150-spent, admin.Balance)
	assert.EqualValues(t, 80-sent["2"], balanceOf(t, e, "2"))
}

func giftIDs(txs []model.GiftTransaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.ID)
	}
	return out
}
