package engine

import (
	"fmt"
	"time"

	"github.com/puyokura/orbitchat/model"
)

// DefaultCatalog is the shop offered when the configuration does not
// override it.
func DefaultCatalog() []model.CatalogItem {
	return []model.CatalogItem{
		{ID: "1", Name: "Star Frame", Price: 50, Category: model.CategoryAvatarFrame, RenderHint: "⭐"},
		{ID: "2", Name: "Fire Aura", Price: 100, Category: model.CategoryAvatarFrame, RenderHint: "🔥"},
		{ID: "3", Name: "Neon Heart", Price: 30, Category: model.CategoryEmoji, RenderHint: "💜"},
		{ID: "4", Name: "Cosmic Gift", Price: 80, Category: model.CategoryGift, RenderHint: "🎁"},
		{ID: "5", Name: "Cool Sticker", Price: 40, Category: model.CategoryEmoji, RenderHint: "😎"},
		{ID: "6", Name: "Nebula Backdrop", Price: 60, Category: model.CategoryBackground, RenderHint: "🌌"},
	}
}

// ValidateCatalog rejects catalogs with duplicate ids, missing names,
// non-positive prices or unknown categories.
func ValidateCatalog(items []model.CatalogItem) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		switch {
		case it.ID == "":
			return fmt.Errorf("catalog item %d: empty id", i)
		case seen[it.ID]:
			return fmt.Errorf("catalog item %s: duplicate id", it.ID)
		case it.Name == "":
			return fmt.Errorf("catalog item %s: empty name", it.ID)
		case it.Price <= 0:
			return fmt.Errorf("catalog item %s: price must be positive", it.ID)
		case !it.Category.Valid():
			return fmt.Errorf("catalog item %s: unknown category %q", it.ID, it.Category)
		}
		seen[it.ID] = true
	}
	return nil
}

// SeedChannels are the named channels every server has. They are re-added on
// load if a snapshot lacks them.
func SeedChannels() []model.Channel {
	return []model.Channel{
		{ID: "rules", Kind: model.ChannelNamed, DisplayName: "Rules", Pinned: true, AdminOnly: true},
		{ID: "general", Kind: model.ChannelNamed, DisplayName: "General"},
		{ID: "announcements", Kind: model.ChannelNamed, DisplayName: "Announcements", AdminOnly: true},
	}
}

// DefaultSeed is the state of a fresh server. credentialHash is stored on
// every seeded account; pass "" to make them impossible to log into.
func DefaultSeed(now time.Time, credentialHash string) *model.Snapshot {
	account := func(id, name, email string, role model.Role, presence model.Presence, balance int64) model.Account {
		return model.Account{
			ID:             id,
			DisplayName:    name,
			Email:          email,
			CredentialHash: credentialHash,
			Role:           role,
			Presence:       presence,
			Balance:        balance,
			EquippedEmoji:  []string{},
			Inventory:      []string{},
			CreatedAt:      now.Add(-2 * time.Hour),
		}
	}
	admin := account("1", "Cosmonaut", "astronaut@example.com", model.RoleAdmin, model.PresenceOnline, 150)
	admin.Inventory = []string{"1"}
	admin.EquippedFrame = "1"

	return &model.Snapshot{
		Version: model.SnapshotVersion,
		Accounts: []model.Account{
			admin,
			account("2", "Moderator", "mod@example.com", model.RoleModerator, model.PresenceBusy, 80),
			account("3", "Observer", "observer@example.com", model.RoleObserver, model.PresenceInvisible, 50),
			account("4", "User", "user@example.com", model.RoleUser, model.PresenceOnline, 20),
		},
		Channels: SeedChannels(),
		Messages: []model.Message{
			{
				ID: "1", ChannelID: "rules", AuthorID: "1", AuthorName: "Cosmonaut",
				Body:      "Welcome to our messenger! Please read the rules.",
				CreatedAt: now.Add(-time.Hour),
			},
			{
				ID: "2", ChannelID: "rules", AuthorID: "1", AuthorName: "Cosmonaut",
				Body:      "1. Respect other members\n2. No spam\n3. No swearing\n4. Be polite",
				CreatedAt: now.Add(-50 * time.Minute),
			},
		},
		Gifts: []model.GiftTransaction{},
	}
}
