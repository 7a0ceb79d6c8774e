// Package session remembers who is signed in on this client and owns the
// live subscriptions opened on their behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"doctor-booking-api/internal/model"
)

const (
	AuthKey   = "auth"
	TokensKey = "tokens"
)

type Tokens struct {
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken"`
	ChatAuthToken string `json:"chatAuthToken,omitempty"`
}

// Store reads and writes the signed-in profile and its tokens.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store { return &Store{kv: kv} }

// Load returns nil, nil when nobody is signed in.
func (s *Store) Load(ctx context.Context) (*model.UserProfile, error) {
	var p model.UserProfile
	ok, err := s.get(ctx, AuthKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Store) Save(ctx context.Context, p model.UserProfile) error {
	return s.put(ctx, AuthKey, p)
}

func (s *Store) LoadTokens(ctx context.Context) (*Tokens, error) {
	var t Tokens
	ok, err := s.get(ctx, TokensKey, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (s *Store) SaveTokens(ctx context.Context, t Tokens) error {
	return s.put(ctx, TokensKey, t)
}

// Clear forgets the profile and the tokens.
func (s *Store) Clear(ctx context.Context) error {
	return errors.Join(s.kv.Delete(ctx, AuthKey), s.kv.Delete(ctx, TokensKey))
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, b)
}

// Subscription is anything with an idempotent Unsubscribe.
type Subscription interface {
	Unsubscribe()
}

// CancelFunc adapts a context cancel to Subscription.
type CancelFunc func()

func (f CancelFunc) Unsubscribe() { f() }

// Manager is the client's single source of "who is signed in". It is made
// once at startup and passed to whatever opens subscriptions.
type Manager struct {
	store *Store

	mu     sync.Mutex
	subs   []Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(store *Store) *Manager {
	m := &Manager{store: store}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

func (m *Manager) Store() *Store { return m.store }

// Current returns the signed-in profile, or nil.
func (m *Manager) Current(ctx context.Context) (*model.UserProfile, error) {
	return m.store.Load(ctx)
}

func (m *Manager) Login(ctx context.Context, p model.UserProfile, t Tokens) error {
	if err := m.store.Save(ctx, p); err != nil {
		return err
	}
	return m.store.SaveTokens(ctx, t)
}

// Context is cancelled by Logout.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Track registers sub so that Logout ends it.
func (m *Manager) Track(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// Active reports how many tracked subscriptions are open.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Logout ends every tracked subscription and clears the stored session.
// The manager can be used again after a new Login.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return m.store.Clear(ctx)
}
