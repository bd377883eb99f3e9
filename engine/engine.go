// Package engine owns the chat server's shared state: accounts, channels,
// messages, the shop catalog and the gift audit log. All mutation goes
// through the managers exposed on Engine; each command is written to the
// snapshot store before it becomes visible in memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/credential"
	"github.com/puyokura/orbitchat/model"
	"github.com/puyokura/orbitchat/storage"
)

// Options wires the engine's collaborators. Store and Verifier are
// required; everything else has a default.
type Options struct {
	Store    storage.SnapshotStore
	Verifier credential.Verifier
	Clock    Clock
	IDs      IDGenerator
	// Catalog defaults to DefaultCatalog.
	Catalog []model.CatalogItem
	// Seed is the initial state used when the store holds no snapshot.
	// Defaults to DefaultSeed with no credentials.
	Seed    *model.Snapshot
	Logger  *zap.Logger
	Metrics *Metrics
}

// Engine is the process-wide state container.
type Engine struct {
	Identity  *Identity
	Ledger    *Ledger
	Inventory *Inventory
	Messaging *Messaging

	store    storage.SnapshotStore
	verifier credential.Verifier
	clock    *monotonicClock
	ids      IDGenerator
	log      *zap.Logger
	metrics  *Metrics

	catalog      map[string]model.CatalogItem
	catalogItems []model.CatalogItem

	locks *keyedMutex

	// persistMu serializes snapshot writes; mu guards st.
	persistMu sync.Mutex
	mu        sync.RWMutex
	st        *state
}

// Open loads the persisted snapshot, or the seed when the store is empty,
// and returns a ready engine.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: snapshot store is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("engine: credential verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = NewSequence()
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if err := ValidateCatalog(opts.Catalog); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		store:    opts.Store,
		verifier: opts.Verifier,
		clock:    newMonotonicClock(opts.Clock),
		ids:      opts.IDs,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		catalog:  make(map[string]model.CatalogItem, len(opts.Catalog)),
		locks:    newKeyedMutex(),
	}
	for _, it := range opts.Catalog {
		e.catalog[it.ID] = it
		e.catalogItems = append(e.catalogItems, it)
	}
	e.Identity = &Identity{e: e}
	e.Ledger = &Ledger{e: e}
	e.Inventory = &Inventory{e: e}
	e.Messaging = &Messaging{e: e}

	snap, err := opts.Store.Load(ctx)
	dirty := false
	switch {
	case errors.Is(err, storage.ErrNoSnapshot):
		snap = opts.Seed
		if snap == nil {
			snap = DefaultSeed(time.Now().UTC(), "")
		}
		dirty = true
		e.log.Info("snapshot_seeded", zap.Int("accounts", len(snap.Accounts)), zap.Int("channels", len(snap.Channels)))
	case err != nil:
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	default:
		e.log.Info("snapshot_loaded", zap.Int("accounts", len(snap.Accounts)), zap.Int("messages", len(snap.Messages)))
	}

	e.st = newState()
	e.st.load(snap, e.ids, e.clock)
	for _, ch := range SeedChannels() {
		if _, ok := e.st.channels[ch.ID]; !ok {
			e.st.apply(change{channels: []*model.Channel{ch.Clone()}})
			e.log.Warn("seed_channel_restored", zap.String("channel", ch.ID))
			dirty = true
		}
	}
	if dirty {
		if err := e.store.Save(ctx, e.st.snapshotWith(change{})); err != nil {
			return nil, fmt.Errorf("engine: save initial snapshot: %w", err)
		}
	}
	return e, nil
}

// Close releases the snapshot store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Snapshot returns the current persisted view of the state.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.snapshotWith(change{})
}

// change is the set of new record versions produced by one command.
type change struct {
	accounts []*model.Account
	channels []*model.Channel
	messages []*model.Message
	gifts    []model.GiftTransaction
}

// commit writes the state with ch applied to the store and, only if that
// succeeds, applies ch in memory. The write ignores cancellation of ctx: once
// started it runs to completion so memory and storage never diverge.
func (e *Engine) commit(ctx context.Context, op string, ch change) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.RLock()
	snap := e.st.snapshotWith(ch)
	e.mu.RUnlock()

	err := e.store.Save(context.WithoutCancel(ctx), snap)
	e.metrics.snapshotWrite(err)
	if err != nil {
		e.log.Error("snapshot_write_failed", zap.String("op", op), zap.Error(err))
		return &Error{Kind: KindPersistence, Op: op, Msg: "state not saved", Err: err}
	}

	e.mu.Lock()
	e.st.apply(ch)
	e.mu.Unlock()
	return nil
}

func (e *Engine) track(op string, start time.Time, errp *error) {
	e.metrics.observeCommand(op, start, *errp)
}

func (e *Engine) account(id string) (*model.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.st.accounts[id]
	return a, ok
}

func (e *Engine) accountByEmail(normalized string) (*model.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.st.emails[normalized]
	if !ok {
		return nil, false
	}
	return e.st.accounts[id], true
}

func (e *Engine) channel(id string) (*model.Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.st.channels[id]
	return c, ok
}

func (e *Engine) message(id string) (*model.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.st.messages[id]
	return m, ok
}

// state holds immutable record versions; a change swaps in new pointers.
type state struct {
	accounts     map[string]*model.Account
	accountOrder []string
	emails       map[string]string // normalized email -> account id

	channels     map[string]*model.Channel
	channelOrder []string

	messages        map[string]*model.Message
	messageOrder    []string
	channelMessages map[string][]string

	gifts []model.GiftTransaction
}

func newState() *state {
	return &state{
		accounts:        make(map[string]*model.Account),
		emails:          make(map[string]string),
		channels:        make(map[string]*model.Channel),
		messages:        make(map[string]*model.Message),
		channelMessages: make(map[string][]string),
	}
}

func (s *state) load(snap *model.Snapshot, ids IDGenerator, clock *monotonicClock) {
	ch := change{}
	for i := range snap.Accounts {
		a := snap.Accounts[i].Clone()
		ids.Observe(IDAccount, a.ID)
		ch.accounts = append(ch.accounts, a)
	}
	for i := range snap.Channels {
		ch.channels = append(ch.channels, snap.Channels[i].Clone())
	}
	for i := range snap.Messages {
		m := snap.Messages[i]
		ids.Observe(IDMessage, m.ID)
		clock.observe(m.CreatedAt)
		clock.observe(m.EditedAt)
		ch.messages = append(ch.messages, &m)
	}
	for _, g := range snap.Gifts {
		ids.Observe(IDGift, g.ID)
		clock.observe(g.Timestamp)
		ch.gifts = append(ch.gifts, g)
	}
	s.apply(ch)
}

func (s *state) apply(ch change) {
	for _, a := range ch.accounts {
		if _, ok := s.accounts[a.ID]; !ok {
			s.accountOrder = append(s.accountOrder, a.ID)
		}
		s.accounts[a.ID] = a
		s.emails[normalizeEmail(a.Email)] = a.ID
	}
	for _, c := range ch.channels {
		if _, ok := s.channels[c.ID]; !ok {
			s.channelOrder = append(s.channelOrder, c.ID)
		}
		s.channels[c.ID] = c
	}
	for _, m := range ch.messages {
		if _, ok := s.messages[m.ID]; !ok {
			s.messageOrder = append(s.messageOrder, m.ID)
			s.channelMessages[m.ChannelID] = append(s.channelMessages[m.ChannelID], m.ID)
		}
		s.messages[m.ID] = m
	}
	s.gifts = append(s.gifts, ch.gifts...)
}

// snapshotWith renders the state as it will look once ch is applied,
// without modifying s.
func (s *state) snapshotWith(ch change) *model.Snapshot {
	snap := &model.Snapshot{
		Version:  model.SnapshotVersion,
		Accounts: make([]model.Account, 0, len(s.accountOrder)+len(ch.accounts)),
		Channels: make([]model.Channel, 0, len(s.channelOrder)+len(ch.channels)),
		Messages: make([]model.Message, 0, len(s.messageOrder)+len(ch.messages)),
		Gifts:    make([]model.GiftTransaction, 0, len(s.gifts)+len(ch.gifts)),
	}

	accounts := make(map[string]*model.Account, len(ch.accounts))
	for _, a := range ch.accounts {
		accounts[a.ID] = a
	}
	for _, id := range s.accountOrder {
		a := s.accounts[id]
		if next, ok := accounts[id]; ok {
			a = next
			delete(accounts, id)
		}
		snap.Accounts = append(snap.Accounts, *a)
	}
	for _, a := range ch.accounts {
		if _, pending := accounts[a.ID]; pending {
			snap.Accounts = append(snap.Accounts, *a)
		}
	}

	channels := make(map[string]*model.Channel, len(ch.channels))
	for _, c := range ch.channels {
		channels[c.ID] = c
	}
	for _, id := range s.channelOrder {
		c := s.channels[id]
		if next, ok := channels[id]; ok {
			c = next
			delete(channels, id)
		}
		snap.Channels = append(snap.Channels, *c)
	}
	for _, c := range ch.channels {
		if _, pending := channels[c.ID]; pending {
			snap.Channels = append(snap.Channels, *c)
		}
	}

	messages := make(map[string]*model.Message, len(ch.messages))
	for _, m := range ch.messages {
		messages[m.ID] = m
	}
	for _, id := range s.messageOrder {
		m := s.messages[id]
		if next, ok := messages[id]; ok {
			m = next
			delete(messages, id)
		}
		snap.Messages = append(snap.Messages, *m)
	}
	for _, m := range ch.messages {
		if _, pending := messages[m.ID]; pending {
			snap.Messages = append(snap.Messages, *m)
		}
	}

	snap.Gifts = append(snap.Gifts, s.gifts...)
	snap.Gifts = append(snap.Gifts, ch.gifts...)
	return snap
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
