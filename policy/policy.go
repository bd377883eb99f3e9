// Package policy decides which role may perform which write. It holds no
// state; callers pass everything the decision needs.
package policy

import "github.com/puyokura/orbitchat/model"

// Action names a write that needs authorization.
type Action string

const (
	WriteChannel  Action = "write_channel"
	EditMessage   Action = "edit_message"
	DeleteMessage Action = "delete_message"
	AssignRole    Action = "assign_role"
	GrantCurrency Action = "grant_currency"
)

// Context carries the target of an action.
type Context struct {
	ActorID string
	// Channel is the destination for WriteChannel.
	Channel *model.Channel
	// AuthorID is the author of the message for EditMessage and DeleteMessage.
	AuthorID string
	// TargetID is the account affected by AssignRole and GrantCurrency.
	TargetID string
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorize answers whether an actor with role may perform action in ctx.
// Only writes are restricted; reads are open to every role.
func Authorize(role model.Role, action Action, ctx Context) Decision {
	switch action {
	case WriteChannel:
		ch := ctx.Channel
		if ch == nil {
			return deny("unknown channel")
		}
		if ch.Kind == model.ChannelDirect {
			if !ch.HasParticipant(ctx.ActorID) {
				return deny("not a participant of this conversation")
			}
			return allow()
		}
		if ch.AdminOnly && role != model.RoleAdmin {
			return deny("channel is admin only")
		}
		return allow()

	case EditMessage, DeleteMessage:
		if ctx.ActorID != "" && ctx.ActorID == ctx.AuthorID {
			return allow()
		}
		if role == model.RoleAdmin || role == model.RoleModerator {
			return allow()
		}
		return deny("only the author or a moderator may change this message")

	case AssignRole, GrantCurrency:
		if role != model.RoleAdmin {
			return deny("admin only")
		}
		return allow()
	}
	return deny("unknown action")
}
