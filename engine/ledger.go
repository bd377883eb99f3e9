package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/model"
	"github.com/puyokura/orbitchat/policy"
)

// centsPerCoin prices the currency at two coins per monetary unit.
const centsPerCoin = 50

// Ledger owns every balance change. There are no refunds.
type Ledger struct {
	e *Engine
}

// CurrencyPurchase is the result of PurchaseCurrency. PriceCents is a quote
// only; no payment is captured.
type CurrencyPurchase struct {
	AccountID  string `json:"account_id"`
	Amount     int64  `json:"amount"`
	Balance    int64  `json:"balance"`
	PriceCents int64  `json:"price_cents"`
}

// Grant mints amount into targetID's balance. Admin only.
func (l *Ledger) Grant(ctx context.Context, adminID, targetID string, amount int64) (balance int64, err error) {
	const op = "grant"
	defer l.e.track(op, time.Now(), &err)

	actor, ok := l.e.account(adminID)
	if !ok {
		return 0, notFound(op, "account %s", adminID)
	}
	d := policy.Authorize(actor.Role, policy.GrantCurrency, policy.Context{ActorID: adminID, TargetID: targetID})
	if !d.Allowed {
		return 0, denied(op, d.Reason)
	}
	if amount <= 0 {
		return 0, invalid(op, "amount must be positive")
	}

	unlock := l.e.locks.Lock(accountKey(targetID))
	defer unlock()

	cur, ok := l.e.account(targetID)
	if !ok {
		return 0, notFound(op, "account %s", targetID)
	}
	next, err := credit(op, cur, amount)
	if err != nil {
		return 0, err
	}
	if err := l.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return 0, err
	}
	l.e.metrics.mint("grant", amount)
	l.e.log.Info("currency_granted", zap.String("actor", adminID), zap.String("account", targetID), zap.Int64("amount", amount), zap.Int64("balance", next.Balance))
	return next.Balance, nil
}

// PurchaseCurrency credits amount coins to the account and quotes the price.
func (l *Ledger) PurchaseCurrency(ctx context.Context, accountID string, amount int64) (res CurrencyPurchase, err error) {
	const op = "purchase_currency"
	defer l.e.track(op, time.Now(), &err)

	if amount <= 0 {
		return res, invalid(op, "amount must be positive")
	}
	if amount > math.MaxInt64/centsPerCoin {
		return res, invalid(op, "amount too large")
	}

	unlock := l.e.locks.Lock(accountKey(accountID))
	defer unlock()

	cur, ok := l.e.account(accountID)
	if !ok {
		return res, notFound(op, "account %s", accountID)
	}
	next, err := credit(op, cur, amount)
	if err != nil {
		return res, err
	}
	if err := l.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return res, err
	}
	l.e.metrics.mint("purchase", amount)
	res = CurrencyPurchase{
		AccountID:  accountID,
		Amount:     amount,
		Balance:    next.Balance,
		PriceCents: amount * centsPerCoin,
	}
	l.e.log.Info("currency_purchased", zap.String("account", accountID), zap.Int64("amount", amount), zap.Int64("price_cents", res.PriceCents))
	return res, nil
}

// TransferGift charges fromID the price of a gift item and records the
// gift to toID. The recipient's balance and inventory are not touched.
// Besides NotFound and InsufficientFunds it returns InvalidInput when the
// item is not in the gift category or when fromID and toID are the same.
func (l *Ledger) TransferGift(ctx context.Context, fromID, toID, itemID string) (tx model.GiftTransaction, err error) {
	const op = "transfer_gift"
	defer l.e.track(op, time.Now(), &err)

	item, ok := l.e.catalog[itemID]
	if !ok {
		return tx, notFound(op, "item %s", itemID)
	}
	if item.Category != model.CategoryGift {
		return tx, invalid(op, "%s is not a gift", item.Name)
	}
	if fromID == toID {
		return tx, invalid(op, "cannot send a gift to yourself")
	}

	unlock := l.e.locks.LockAll(accountKey(fromID), accountKey(toID))
	defer unlock()

	from, ok := l.e.account(fromID)
	if !ok {
		return tx, notFound(op, "account %s", fromID)
	}
	if _, ok := l.e.account(toID); !ok {
		return tx, notFound(op, "account %s", toID)
	}
	next, err := debit(op, from, item.Price)
	if err != nil {
		return tx, err
	}
	tx = model.GiftTransaction{
		ID:            l.e.ids.Next(IDGift),
		ItemID:        itemID,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Timestamp:     l.e.clock.Now(),
	}
	if err := l.e.commit(ctx, op, change{accounts: []*model.Account{next}, gifts: []model.GiftTransaction{tx}}); err != nil {
		return model.GiftTransaction{}, err
	}
	l.e.metrics.spend("gift", item.Price)
	l.e.log.Info("gift_sent", zap.String("gift", tx.ID), zap.String("from", fromID), zap.String("to", toID), zap.String("item", itemID))
	return tx, nil
}

// Spend removes amount from the account's balance.
func (l *Ledger) Spend(ctx context.Context, accountID string, amount int64) (balance int64, err error) {
	const op = "spend"
	defer l.e.track(op, time.Now(), &err)

	if amount <= 0 {
		return 0, invalid(op, "amount must be positive")
	}

	unlock := l.e.locks.Lock(accountKey(accountID))
	defer unlock()

	cur, ok := l.e.account(accountID)
	if !ok {
		return 0, notFound(op, "account %s", accountID)
	}
	next, err := debit(op, cur, amount)
	if err != nil {
		return 0, err
	}
	if err := l.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return 0, err
	}
	l.e.metrics.spend("spend", amount)
	l.e.log.Info("currency_spent", zap.String("account", accountID), zap.Int64("amount", amount), zap.Int64("balance", next.Balance))
	return next.Balance, nil
}

// Gifts returns the gift records sent or received by accountID, oldest first.
func (l *Ledger) Gifts(accountID string) []model.GiftTransaction {
	l.e.mu.RLock()
	defer l.e.mu.RUnlock()
	var out []model.GiftTransaction
	for _, g := range l.e.st.gifts {
		if g.FromAccountID == accountID || g.ToAccountID == accountID {
			out = append(out, g)
		}
	}
	return out
}

// credit and debit return the next version of a; the caller holds a's lock.
func credit(op string, a *model.Account, amount int64) (*model.Account, error) {
	if a.Balance > math.MaxInt64-amount {
		return nil, invalid(op, "balance would overflow")
	}
	next := a.Clone()
	next.Balance += amount
	return next, nil
}

func debit(op string, a *model.Account, amount int64) (*model.Account, error) {
	if a.Balance < amount {
		return nil, newError(KindInsufficientFunds, op, "balance %d is less than %d", a.Balance, amount)
	}
	next := a.Clone()
	next.Balance -= amount
	return next, nil
}
