package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/engine"
	"github.com/puyokura/orbitchat/model"
)

func (c *Client) handleCommand(cmdLine string) {
	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/register":
		c.handleRegister(args)
	case "/login":
		c.handleLogin(args)
	case "/logout":
		c.handleLogout()
	case "/help":
		c.handleHelp()
	default:
		accountID, _ := c.session()
		if accountID == "" {
			c.sendSystemMessage("You must be logged in to use " + cmd + ".")
			return
		}
		c.handleAccountCommand(accountID, cmd, args, cmdLine)
	}
}

func (c *Client) handleAccountCommand(accountID, cmd string, args []string, cmdLine string) {
	switch cmd {
	case "/name":
		c.handleName(accountID, args)
	case "/status":
		c.handleStatus(accountID, args)
	case "/passwd":
		c.handlePasswd(accountID, args)
	case "/channels":
		c.handleChannels(accountID)
	case "/join":
		c.handleJoin(accountID, args)
	case "/dm":
		c.handleDirect(accountID, args)
	case "/history":
		c.SendHistory()
	case "/edit":
		c.handleEdit(accountID, args, cmdLine)
	case "/delete":
		c.handleDelete(accountID, args)
	case "/users":
		c.handleUsers(args)
	case "/shop":
		c.handleShop(accountID)
	case "/buy":
		c.handleBuy(accountID, args)
	case "/equip":
		c.handleEquip(accountID, args)
	case "/gift":
		c.handleGift(accountID, args)
	case "/coins":
		c.handleCoins(accountID, args)
	case "/grant":
		c.handleGrant(accountID, args)
	case "/role":
		c.handleRole(accountID, args)
	case "/balance":
		c.handleBalance(accountID)
	default:
		c.sendSystemMessage("Unknown command: " + cmd)
	}
}

func (c *Client) handleRegister(args []string) {
	if len(args) < 3 {
		c.sendSystemMessage("Usage: /register <email> <password> <display name>")
		return
	}
	acct, err := c.hub.engine.Identity.Register(c.hub.ctx, strings.Join(args[2:], " "), args[0], args[1])
	if err != nil {
		c.sendError(err)
		return
	}
	c.loggedIn(acct, "Registered and logged in as")
}

func (c *Client) handleLogin(args []string) {
	if len(args) != 2 {
		c.sendSystemMessage("Usage: /login <email> <password>")
		return
	}
	acct, err := c.hub.engine.Identity.Authenticate(c.hub.ctx, args[0], args[1])
	if err != nil {
		c.hub.log.Info("login_failed", zap.String("client", c.id), zap.String("email", args[0]))
		c.sendError(err)
		return
	}
	if c.hub.config.IsBanned(acct.ID) {
		c.hub.log.Info("banned_login_refused", zap.String("account", acct.ID))
		c.sendSystemMessage("This account is banned.")
		return
	}
	c.loggedIn(acct, "Logged in as")
}

func (c *Client) loggedIn(acct model.Account, verb string) {
	c.setSession(acct.ID, defaultChannel)
	c.sendSystemMessage(fmt.Sprintf("%s %s (#%s)", verb, acct.DisplayName, acct.ID))
	c.sendEvent(model.EventAccount, acct)
	c.SendHistory()
	c.hub.log.Info("client_logged_in", zap.String("client", c.id), zap.String("account", acct.ID))
}

func (c *Client) handleLogout() {
	if accountID, _ := c.session(); accountID != "" {
		c.hub.log.Info("client_logged_out", zap.String("client", c.id), zap.String("account", accountID))
	}
	c.setSession("", defaultChannel)
	c.sendSystemMessage("Logged out.")
}

func (c *Client) handleName(accountID string, args []string) {
	if len(args) == 0 {
		c.sendSystemMessage("Usage: /name <new name>")
		return
	}
	acct, err := c.hub.engine.Identity.UpdateProfile(c.hub.ctx, accountID, strings.Join(args, " "), "")
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(model.EventAccount, acct)
	c.sendSystemMessage("You are now known as " + acct.DisplayName + ".")
}

func (c *Client) handleStatus(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /status <online|offline|invisible|busy>")
		return
	}
	acct, err := c.hub.engine.Identity.UpdateProfile(c.hub.ctx, accountID, "", model.Presence(args[0]))
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(model.EventAccount, acct)
	c.sendSystemMessage("Status set to " + string(acct.Presence) + ".")
}

func (c *Client) handlePasswd(accountID string, args []string) {
	if len(args) != 2 {
		c.sendSystemMessage("Usage: /passwd <old> <new>")
		return
	}
	if err := c.hub.engine.Identity.ChangeCredential(c.hub.ctx, accountID, args[0], args[1]); err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage("Password changed.")
}

func (c *Client) handleChannels(accountID string) {
	var sb strings.Builder
	sb.WriteString("Channels:\n")
	for _, ch := range c.hub.engine.Messaging.Channels(accountID) {
		n, _ := c.hub.engine.Messaging.MessageCount(ch.ID)
		marker := ""
		switch {
		case ch.Pinned:
			marker = " (pinned)"
		case ch.Kind == model.ChannelDirect:
			marker = " (direct)"
		}
		if ch.AdminOnly {
			marker += " (admin only)"
		}
		fmt.Fprintf(&sb, "• %s  %s%s, %d messages\n", ch.ID, c.channelLabel(&ch, accountID), marker, n)
	}
	c.sendSystemMessage(sb.String())
}

// channelLabel names a direct channel after the participant on the other
// end, so both sides see who they are talking to.
func (c *Client) channelLabel(ch *model.Channel, viewerID string) string {
	if ch.Kind != model.ChannelDirect {
		return ch.DisplayName
	}
	if other, err := c.hub.engine.Identity.Account(ch.Other(viewerID)); err == nil {
		return other.DisplayName
	}
	return ch.DisplayName
}

func (c *Client) handleJoin(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /join <channel>")
		return
	}
	for _, ch := range c.hub.engine.Messaging.Channels(accountID) {
		if ch.ID == args[0] {
			c.enterChannel(ch)
			return
		}
	}
	c.sendError(&engine.Error{Kind: engine.KindNotFound, Op: "join", Msg: "channel " + args[0]})
}

func (c *Client) handleDirect(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /dm <account id>")
		return
	}
	ch, err := c.hub.engine.Messaging.ResolveDirect(c.hub.ctx, accountID, args[0])
	if err != nil {
		c.sendError(err)
		return
	}
	c.enterChannel(ch)
}

func (c *Client) enterChannel(ch model.Channel) {
	c.setChannel(ch.ID)
	c.sendEvent(model.EventChannel, ch)
	accountID, _ := c.session()
	c.sendSystemMessage("Now in " + c.channelLabel(&ch, accountID) + ".")
	c.SendHistory()
}

// SendHistory replays the visible messages of the current channel.
func (c *Client) SendHistory() {
	_, channelID := c.session()
	messages, err := c.hub.engine.Messaging.ListMessages(channelID)
	if err != nil {
		c.sendError(err)
		return
	}
	for i, msg := range messages {
		if !c.enqueueEvent(model.EventMessage, msg) {
			c.hub.log.Warn("history_truncated", zap.String("client", c.id), zap.Int("sent", i), zap.Int("total", len(messages)))
			return
		}
	}
}

func (c *Client) enqueueEvent(eventType model.EventType, payload any) bool {
	data, err := jsonEvent(eventType, payload)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

func (c *Client) handleEdit(accountID string, args []string, cmdLine string) {
	if len(args) < 2 {
		c.sendSystemMessage("Usage: /edit <message id> <new text>")
		return
	}
	msg, err := c.hub.engine.Messaging.Edit(c.hub.ctx, accountID, args[0], restAfter(cmdLine, 2))
	if err != nil {
		c.sendError(err)
		return
	}
	c.hub.publishMessage(model.EventEdit, msg)
}

func (c *Client) handleDelete(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /delete <message id>")
		return
	}
	msg, lookupErr := c.hub.engine.Messaging.Message(args[0])
	if err := c.hub.engine.Messaging.Delete(c.hub.ctx, accountID, args[0]); err != nil {
		c.sendError(err)
		return
	}
	if lookupErr != nil {
		c.sendSystemMessage("Message already deleted.")
		return
	}
	msg.Deleted = true
	c.hub.publishMessage(model.EventDelete, msg)
}

func (c *Client) handleUsers(args []string) {
	accounts := c.hub.engine.Identity.Accounts(strings.Join(args, " "))
	if len(accounts) == 0 {
		c.sendSystemMessage("No users found.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Users:\n")
	for _, a := range accounts {
		fmt.Fprintf(&sb, "• #%s %s (%s, %s)\n", a.ID, a.DisplayName, a.Role, a.Presence)
	}
	c.sendSystemMessage(sb.String())
}

func (c *Client) handleShop(accountID string) {
	acct, err := c.hub.engine.Identity.Account(accountID)
	if err != nil {
		c.sendError(err)
		return
	}
	var sb strings.Builder
	sb.WriteString("Shop:\n")
	for _, it := range c.hub.engine.Inventory.Catalog() {
		owned := ""
		if acct.Owns(it.ID) {
			owned = " (owned)"
		}
		fmt.Fprintf(&sb, "• %s %s %s: %d coins [%s]%s\n", it.ID, it.RenderHint, it.Name, it.Price, it.Category, owned)
	}
	fmt.Fprintf(&sb, "Balance: %d coins", acct.Balance)
	c.sendSystemMessage(sb.String())
}

func (c *Client) handleBuy(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /buy <item id>")
		return
	}
	res, err := c.hub.engine.Inventory.Purchase(c.hub.ctx, accountID, args[0])
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage(fmt.Sprintf("Bought %s. Balance: %d coins.", res.Item.Name, res.Balance))
	c.sendAccount(accountID)
}

func (c *Client) handleEquip(accountID string, args []string) {
	if len(args) != 1 {
		c.sendSystemMessage("Usage: /equip <item id>")
		return
	}
	res, err := c.hub.engine.Inventory.Equip(c.hub.ctx, accountID, args[0])
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage("Equipped " + res.Item.Name + ".")
	c.sendAccount(accountID)
}

func (c *Client) handleGift(accountID string, args []string) {
	if len(args) != 2 {
		c.sendSystemMessage("Usage: /gift <account id> <item id>")
		return
	}
	tx, err := c.hub.engine.Ledger.TransferGift(c.hub.ctx, accountID, args[0], args[1])
	if err != nil {
		c.sendError(err)
		return
	}
	item, _ := c.hub.engine.Inventory.Item(tx.ItemID)
	from, _ := c.hub.engine.Identity.Account(accountID)
	to, _ := c.hub.engine.Identity.Account(tx.ToAccountID)
	c.sendSystemMessage(fmt.Sprintf("Sent %s %s to %s.", item.RenderHint, item.Name, to.DisplayName))
	c.sendAccount(accountID)
	c.hub.notifyAccount(tx.ToAccountID, fmt.Sprintf("%s sent you %s %s!", from.DisplayName, item.RenderHint, item.Name))
}

func (c *Client) handleCoins(accountID string, args []string) {
	amount, ok := c.amountArg(args, 0, "Usage: /coins <amount>", 1)
	if !ok {
		return
	}
	res, err := c.hub.engine.Ledger.PurchaseCurrency(c.hub.ctx, accountID, amount)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage(fmt.Sprintf("Added %d coins for %d.%02d. Balance: %d coins.", res.Amount, res.PriceCents/100, res.PriceCents%100, res.Balance))
	c.sendAccount(accountID)
}

func (c *Client) handleGrant(accountID string, args []string) {
	amount, ok := c.amountArg(args, 1, "Usage: /grant <account id> <amount>", 2)
	if !ok {
		return
	}
	balance, err := c.hub.engine.Ledger.Grant(c.hub.ctx, accountID, args[0], amount)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage(fmt.Sprintf("Granted %d coins to #%s. Their balance: %d.", amount, args[0], balance))
	c.hub.notifyAccount(args[0], fmt.Sprintf("You received %d coins.", amount))
}

func (c *Client) handleRole(accountID string, args []string) {
	if len(args) != 2 {
		c.sendSystemMessage("Usage: /role <account id> <admin|moderator|observer|user>")
		return
	}
	acct, err := c.hub.engine.Identity.AssignRole(c.hub.ctx, accountID, args[0], model.Role(args[1]))
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage(fmt.Sprintf("%s is now %s.", acct.DisplayName, acct.Role))
	c.hub.notifyAccount(acct.ID, "Your role is now "+string(acct.Role)+".")
}

func (c *Client) handleBalance(accountID string) {
	acct, err := c.hub.engine.Identity.Account(accountID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendSystemMessage(fmt.Sprintf("Balance: %d coins. Items owned: %d.", acct.Balance, len(acct.Inventory)))
	c.sendEvent(model.EventAccount, acct)
}

func (c *Client) handleHelp() {
	help := `Available commands:
/register <email> <pass> <name> - Register new account
/login <email> <pass> - Login
/logout - Logout
/name <name> - Change display name
/status <online|offline|invisible|busy> - Set presence
/passwd <old> <new> - Change password
/channels - List channels
/join <channel> - Switch channel
/dm <account id> - Open a direct conversation
/history - Replay the current channel
/edit <message id> <text> - Edit a message
/delete <message id> - Delete a message
/users [query] - Search users
/shop - Show the shop
/buy <item id> - Buy an item
/equip <item id> - Equip an owned item
/gift <account id> <item id> - Send a gift
/coins <amount> - Buy coins
/balance - Show your balance
/grant <account id> <amount> - Grant coins (admin only)
/role <account id> <role> - Assign a role (admin only)
/help - Show this help
`
	c.sendSystemMessage(help)
}

func (c *Client) sendAccount(accountID string) {
	acct, err := c.hub.engine.Identity.Account(accountID)
	if err != nil {
		return
	}
	c.sendEvent(model.EventAccount, acct)
}

func (c *Client) amountArg(args []string, idx int, usage string, want int) (int64, bool) {
	if len(args) != want {
		c.sendSystemMessage(usage)
		return 0, false
	}
	amount, err := strconv.ParseInt(args[idx], 10, 64)
	if err != nil {
		c.sendError(&engine.Error{Kind: engine.KindInvalidInput, Op: "parse", Msg: "amount must be a whole number", Err: errors.Unwrap(err)})
		return 0, false
	}
	return amount, true
}

// notifyAccount sends a system line and a fresh account event to every
// client logged in as accountID.
func (h *Hub) notifyAccount(accountID, text string) {
	acct, err := h.engine.Identity.Account(accountID)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if id, _ := client.session(); id != accountID {
			continue
		}
		client.sendSystemMessage(text)
		client.sendEvent(model.EventAccount, acct)
	}
}

// restAfter returns cmdLine with its first n fields removed, keeping the
// spacing and newlines of the remainder.
func restAfter(cmdLine string, n int) string {
	s := strings.TrimLeft(cmdLine, " \t\n")
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(s, " \t\n")
		if idx < 0 {
			return ""
		}
		s = strings.TrimLeft(s[idx:], " \t\n")
	}
	return s
}
