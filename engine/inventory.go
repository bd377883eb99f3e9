package engine

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/model"
)

// Inventory sells catalog items and equips owned ones.
type Inventory struct {
	e *Engine
}

// InventoryUpdated is the result of a purchase.
type InventoryUpdated struct {
	AccountID string            `json:"account_id"`
	Item      model.CatalogItem `json:"item"`
	Balance   int64             `json:"balance"`
	Inventory []string          `json:"inventory"`
}

// EquipUpdated is the account's equipment after an equip.
type EquipUpdated struct {
	AccountID          string            `json:"account_id"`
	Item               model.CatalogItem `json:"item"`
	EquippedFrame      string            `json:"equipped_frame,omitempty"`
	EquippedBackground string            `json:"equipped_background,omitempty"`
	EquippedEmoji      []string          `json:"equipped_emoji"`
}

// Catalog lists the shop items in catalog order.
func (m *Inventory) Catalog() []model.CatalogItem {
	return slices.Clone(m.e.catalogItems)
}

func (m *Inventory) Item(id string) (model.CatalogItem, error) {
	it, ok := m.e.catalog[id]
	if !ok {
		return model.CatalogItem{}, notFound("item", "item %s", id)
	}
	return it, nil
}

// Purchase debits the item price and adds the item to the inventory in one
// commit.
func (m *Inventory) Purchase(ctx context.Context, accountID, itemID string) (res InventoryUpdated, err error) {
	const op = "purchase_item"
	defer m.e.track(op, time.Now(), &err)

	item, ok := m.e.catalog[itemID]
	if !ok {
		return res, notFound(op, "item %s", itemID)
	}

	unlock := m.e.locks.Lock(accountKey(accountID))
	defer unlock()

	cur, ok := m.e.account(accountID)
	if !ok {
		return res, notFound(op, "account %s", accountID)
	}
	if cur.Owns(itemID) {
		return res, newError(KindAlreadyOwned, op, "%s already owned", item.Name)
	}
	next, err := debit(op, cur, item.Price)
	if err != nil {
		return res, err
	}
	next.Inventory = append(next.Inventory, itemID)
	if err := m.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return res, err
	}
	m.e.metrics.spend("shop", item.Price)
	m.e.log.Info("item_purchased", zap.String("account", accountID), zap.String("item", itemID), zap.Int64("balance", next.Balance))
	return InventoryUpdated{
		AccountID: accountID,
		Item:      item,
		Balance:   next.Balance,
		Inventory: slices.Clone(next.Inventory),
	}, nil
}

// equipment places one item into an account's slots.
type equipment interface {
	apply(a *model.Account)
}

type avatarFrameEquip struct{ itemID string }

type backgroundEquip struct{ itemID string }

// emojiEquip moves the item to the front of the emoji set.
type emojiEquip struct{ itemID string }

func (e avatarFrameEquip) apply(a *model.Account) { a.EquippedFrame = e.itemID }

func (e backgroundEquip) apply(a *model.Account) { a.EquippedBackground = e.itemID }

func (e emojiEquip) apply(a *model.Account) {
	rest := slices.DeleteFunc(a.EquippedEmoji, func(id string) bool { return id == e.itemID })
	a.EquippedEmoji = append([]string{e.itemID}, rest...)
}

func equipmentFor(item model.CatalogItem) (equipment, bool) {
	switch item.Category {
	case model.CategoryAvatarFrame:
		return avatarFrameEquip{item.ID}, true
	case model.CategoryBackground:
		return backgroundEquip{item.ID}, true
	case model.CategoryEmoji:
		return emojiEquip{item.ID}, true
	}
	return nil, false
}

// Equip puts an owned item into the slot its category selects.
func (m *Inventory) Equip(ctx context.Context, accountID, itemID string) (res EquipUpdated, err error) {
	const op = "equip_item"
	defer m.e.track(op, time.Now(), &err)

	item, ok := m.e.catalog[itemID]
	if !ok {
		return res, notFound(op, "item %s", itemID)
	}
	eq, ok := equipmentFor(item)
	if !ok {
		return res, invalid(op, "%s cannot be equipped", item.Name)
	}

	unlock := m.e.locks.Lock(accountKey(accountID))
	defer unlock()

	cur, ok := m.e.account(accountID)
	if !ok {
		return res, notFound(op, "account %s", accountID)
	}
	if !cur.Owns(itemID) {
		return res, notFound(op, "%s is not in the inventory", item.Name)
	}
	next := cur.Clone()
	eq.apply(next)
	if err := m.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return res, err
	}
	m.e.log.Info("item_equipped", zap.String("account", accountID), zap.String("item", itemID), zap.String("category", string(item.Category)))
	return EquipUpdated{
		AccountID:          accountID,
		Item:               item,
		EquippedFrame:      next.EquippedFrame,
		EquippedBackground: next.EquippedBackground,
		EquippedEmoji:      slices.Clone(next.EquippedEmoji),
	}, nil
}
