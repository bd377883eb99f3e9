package engine

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/credential"
	"github.com/puyokura/orbitchat/model"
	"github.com/puyokura/orbitchat/policy"
)

const minCredentialLength = 6

// Identity manages account records.
type Identity struct {
	e *Engine
}

// Register creates a user account with a zero balance.
func (s *Identity) Register(ctx context.Context, displayName, email, rawCredential string) (acct model.Account, err error) {
	const op = "register"
	defer s.e.track(op, time.Now(), &err)

	displayName = strings.TrimSpace(displayName)
	email = strings.TrimSpace(email)
	if displayName == "" {
		return acct, invalid(op, "display name is required")
	}
	if !validEmail(email) {
		return acct, invalid(op, "malformed email %q", email)
	}
	if err := checkCredential(op, rawCredential); err != nil {
		return acct, err
	}

	key := normalizeEmail(email)
	unlock := s.e.locks.Lock(emailKey(key))
	defer unlock()

	if _, taken := s.e.accountByEmail(key); taken {
		return acct, newError(KindDuplicateEmail, op, "email already registered")
	}
	hash, err := s.hash(op, rawCredential)
	if err != nil {
		return acct, err
	}

	a := &model.Account{
		ID:             s.e.ids.Next(IDAccount),
		DisplayName:    displayName,
		Email:          email,
		CredentialHash: hash,
		Role:           model.RoleUser,
		Presence:       model.PresenceOnline,
		EquippedEmoji:  []string{},
		Inventory:      []string{},
		CreatedAt:      s.e.clock.Now(),
	}
	if err := s.e.commit(ctx, op, change{accounts: []*model.Account{a}}); err != nil {
		return acct, err
	}
	s.e.log.Info("account_registered", zap.String("account", a.ID), zap.String("name", a.DisplayName))
	return a.Public(), nil
}

// Authenticate resolves an email and raw credential to an account.
func (s *Identity) Authenticate(ctx context.Context, email, rawCredential string) (acct model.Account, err error) {
	const op = "authenticate"
	defer s.e.track(op, time.Now(), &err)

	a, ok := s.e.accountByEmail(normalizeEmail(email))
	if !ok || !s.e.verifier.Verify(a.CredentialHash, rawCredential) {
		return acct, newError(KindAuthenticationFailed, op, "invalid email or credential")
	}
	return a.Public(), nil
}

// UpdateProfile changes the actor's own display name and presence. Empty
// arguments leave the field as it is.
func (s *Identity) UpdateProfile(ctx context.Context, actorID, displayName string, presence model.Presence) (acct model.Account, err error) {
	const op = "update_profile"
	defer s.e.track(op, time.Now(), &err)

	displayName = strings.TrimSpace(displayName)
	if presence != "" && !presence.Valid() {
		return acct, invalid(op, "unknown presence %q", presence)
	}

	unlock := s.e.locks.Lock(accountKey(actorID))
	defer unlock()

	cur, ok := s.e.account(actorID)
	if !ok {
		return acct, notFound(op, "account %s", actorID)
	}
	next := cur.Clone()
	if displayName != "" {
		next.DisplayName = displayName
	}
	if presence != "" {
		next.Presence = presence
	}
	if err := s.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return acct, err
	}
	s.e.log.Info("profile_updated", zap.String("account", next.ID), zap.String("name", next.DisplayName), zap.String("presence", string(next.Presence)))
	return next.Public(), nil
}

// ChangeCredential replaces the actor's credential after verifying the old one.
func (s *Identity) ChangeCredential(ctx context.Context, actorID, oldRaw, newRaw string) (err error) {
	const op = "change_credential"
	defer s.e.track(op, time.Now(), &err)

	if err := checkCredential(op, newRaw); err != nil {
		return err
	}

	unlock := s.e.locks.Lock(accountKey(actorID))
	defer unlock()

	cur, ok := s.e.account(actorID)
	if !ok {
		return notFound(op, "account %s", actorID)
	}
	if !s.e.verifier.Verify(cur.CredentialHash, oldRaw) {
		return newError(KindAuthenticationFailed, op, "current credential does not match")
	}
	hash, err := s.hash(op, newRaw)
	if err != nil {
		return err
	}
	next := cur.Clone()
	next.CredentialHash = hash
	if err := s.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return err
	}
	s.e.log.Info("credential_changed", zap.String("account", next.ID))
	return nil
}

// AssignRole sets targetID's role. Only admins may do it, to themselves
// included.
func (s *Identity) AssignRole(ctx context.Context, actorID, targetID string, role model.Role) (acct model.Account, err error) {
	const op = "assign_role"
	defer s.e.track(op, time.Now(), &err)

	actor, ok := s.e.account(actorID)
	if !ok {
		return acct, notFound(op, "account %s", actorID)
	}
	d := policy.Authorize(actor.Role, policy.AssignRole, policy.Context{ActorID: actorID, TargetID: targetID})
	if !d.Allowed {
		return acct, denied(op, d.Reason)
	}
	if !role.Valid() {
		return acct, invalid(op, "unknown role %q", role)
	}

	unlock := s.e.locks.Lock(accountKey(targetID))
	defer unlock()

	next, err := s.setRole(ctx, op, targetID, role)
	if err != nil {
		return acct, err
	}
	s.e.log.Info("role_assigned", zap.String("actor", actorID), zap.String("account", targetID), zap.String("role", string(role)))
	return next.Public(), nil
}

// setRole must be called with the target's account lock held.
func (s *Identity) setRole(ctx context.Context, op, targetID string, role model.Role) (*model.Account, error) {
	cur, ok := s.e.account(targetID)
	if !ok {
		return nil, notFound(op, "account %s", targetID)
	}
	if cur.Role == role {
		return cur, nil
	}
	next := cur.Clone()
	next.Role = role
	if err := s.e.commit(ctx, op, change{accounts: []*model.Account{next}}); err != nil {
		return nil, err
	}
	return next, nil
}

// Account returns a copy of the account with the given id.
func (s *Identity) Account(id string) (model.Account, error) {
	a, ok := s.e.account(id)
	if !ok {
		return model.Account{}, notFound("account", "account %s", id)
	}
	return a.Public(), nil
}

// Accounts lists accounts whose display name or email contains query,
// ignoring case. An empty query lists everyone.
func (s *Identity) Accounts(query string) []model.Account {
	q := strings.ToLower(strings.TrimSpace(query))

	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	out := make([]model.Account, 0, len(s.e.st.accountOrder))
	for _, id := range s.e.st.accountOrder {
		a := s.e.st.accounts[id]
		if q != "" &&
			!strings.Contains(strings.ToLower(a.DisplayName), q) &&
			!strings.Contains(strings.ToLower(a.Email), q) {
			continue
		}
		out = append(out, a.Public())
	}
	return out
}

func (s *Identity) hash(op, raw string) (string, error) {
	hash, err := s.e.verifier.Hash(raw)
	if errors.Is(err, credential.ErrTooLong) {
		return "", &Error{Kind: KindInvalidInput, Op: op, Msg: "credential too long", Err: err}
	}
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: op, Msg: "credential rejected", Err: err}
	}
	return hash, nil
}

func checkCredential(op, raw string) error {
	if utf8.RuneCountInString(raw) < minCredentialLength {
		return invalid(op, "credential must be at least %d characters", minCredentialLength)
	}
	return nil
}

// validEmail accepts a bare addr-spec with a dotted domain.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}
