package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/phonginreallife/autoanswer/db"
	"github.com/phonginreallife/autoanswer/internal/clock"
	"github.com/phonginreallife/autoanswer/internal/marketplace"
)

var (
	// ErrTokenUnavailable means there is no usable access token right now.
	// Callers must defer the work instead of calling the API.
	ErrTokenUnavailable = errors.New("access token unavailable")
	// ErrNoRefreshToken means a refresh was requested without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token configured")
	// ErrTokenNotPersisted means the token is live in memory but the store
	// write failed, so it will not survive a restart.
	ErrTokenNotPersisted = errors.New("token set but not persisted")
)

type TokenStatus string

const (
	TokenStatusNoToken     TokenStatus = "no_token"
	TokenStatusValid       TokenStatus = "valid"
	TokenStatusNearExpiry  TokenStatus = "near_expiry"
	TokenStatusExpired     TokenStatus = "expired"
	TokenStatusInvalidated TokenStatus = "invalidated"
)

const (
	DefaultRenewalThreshold = 30 * time.Minute
	DefaultNotifyDebounce   = 10 * time.Minute
)

// TokenAPI is the part of the marketplace client the monitor needs.
type TokenAPI interface {
	ProbeToken(ctx context.Context, accessToken string) error
	RefreshToken(ctx context.Context, refreshToken string) (*marketplace.TokenGrant, error)
}

// TokenMonitorOptions configures a TokenMonitor. Zero durations fall back
// to the defaults.
type TokenMonitorOptions struct {
	RenewalThreshold time.Duration
	NotifyDebounce   time.Duration
	AutoRefresh      bool
	// RefreshToken seeds the monitor when nothing has been persisted yet.
	RefreshToken string
}

// TokenMonitor owns the single marketplace credential. All reads and
// writes go through mu; the polling worker, the supervisory worker and
// the HTTP handlers share one instance. Writers also hold writeMu from
// the state swap through the store write, so the persisted state always
// matches the last one installed.
type TokenMonitor struct {
	api      TokenAPI
	store    TokenStore
	notifier Notifier
	clock    clock.Clock

	renewalThreshold time.Duration
	notifyDebounce   time.Duration
	autoRefresh      bool

	mu                sync.RWMutex
	state             *db.TokenState
	seedRefreshToken  string
	invalidated       bool
	invalidReason     string
	lastRenewalNotice time.Time

	writeMu sync.Mutex
}

func NewTokenMonitor(api TokenAPI, store TokenStore, notifier Notifier, clk clock.Clock, opts TokenMonitorOptions) *TokenMonitor {
	if opts.RenewalThreshold <= 0 {
		opts.RenewalThreshold = DefaultRenewalThreshold
	}
	if opts.NotifyDebounce <= 0 {
		opts.NotifyDebounce = DefaultNotifyDebounce
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &TokenMonitor{
		api:              api,
		store:            store,
		notifier:         notifier,
		clock:            clk,
		renewalThreshold: opts.RenewalThreshold,
		notifyDebounce:   opts.NotifyDebounce,
		autoRefresh:      opts.AutoRefresh,
		seedRefreshToken: opts.RefreshToken,
	}
}

// Restore loads the persisted state, if any. It does not write back.
func (m *TokenMonitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		log.Println("TokenMonitor: no persisted token found")
		return nil
	}

	m.mu.Lock()
	m.state = state
	m.invalidated = false
	m.invalidReason = ""
	m.mu.Unlock()

	log.Printf("TokenMonitor: restored token expiring at %s", state.ExpiresAt.Format(time.RFC3339))
	return nil
}

// SetToken replaces the credential; expiry is now + ttlSeconds. An empty
// refreshToken keeps the current one. The new state is live even when
// persisting it fails; the error is still returned.
func (m *TokenMonitor) SetToken(ctx context.Context, accessToken string, ttlSeconds int64, refreshToken string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.setTokenLocked(ctx, accessToken, ttlSeconds, refreshToken)
}

// setTokenLocked requires writeMu.
func (m *TokenMonitor) setTokenLocked(ctx context.Context, accessToken string, ttlSeconds int64, refreshToken string) error {
	if accessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}

	now := m.clock.Now()

	m.mu.Lock()
	if refreshToken == "" {
		refreshToken = m.refreshTokenLocked()
	}
	state := db.TokenState{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(time.Duration(ttlSeconds) * time.Second),
		UpdatedAt:    now,
	}
	m.state = &state
	m.invalidated = false
	m.invalidReason = ""
	m.lastRenewalNotice = time.Time{}
	m.mu.Unlock()

	log.Printf("TokenMonitor: token set, expires at %s", state.ExpiresAt.Format(time.RFC3339))

	if m.store != nil {
		if err := m.store.Save(ctx, state); err != nil {
			log.Printf("TokenMonitor: failed to persist token: %v", err)
			return fmt.Errorf("%w: %v", ErrTokenNotPersisted, err)
		}
	}
	return nil
}

// IsValid reports whether the local clock is before expiry.
func (m *TokenMonitor) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isValidLocked(m.clock.Now())
}

func (m *TokenMonitor) isValidLocked(now time.Time) bool {
	return m.state != nil && now.Before(m.state.ExpiresAt)
}

// NeedsRenewal reports whether less than the renewal threshold remains.
// It is a soft signal; the token may still be valid.
func (m *TokenMonitor) NeedsRenewal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return false
	}
	return m.state.ExpiresAt.Sub(m.clock.Now()) < m.renewalThreshold
}

// Status returns the current lifecycle state.
func (m *TokenMonitor) Status() TokenStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked(m.clock.Now())
}

func (m *TokenMonitor) statusLocked(now time.Time) TokenStatus {
	switch {
	case m.state == nil:
		return TokenStatusNoToken
	case m.invalidated:
		return TokenStatusInvalidated
	case !m.isValidLocked(now):
		return TokenStatusExpired
	case m.state.ExpiresAt.Sub(now) < m.renewalThreshold:
		return TokenStatusNearExpiry
	default:
		return TokenStatusValid
	}
}

// State returns a copy of the current credential, or nil.
func (m *TokenMonitor) State() *db.TokenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}
	cp := *m.state
	return &cp
}

// TokenSnapshot is a read-only view for status endpoints.
type TokenSnapshot struct {
	Status          TokenStatus `json:"status"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	RemainingSecs   int64       `json:"remaining_seconds"`
	NeedsRenewal    bool        `json:"needs_renewal"`
	HasRefreshToken bool        `json:"has_refresh_token"`
	InvalidReason   string      `json:"invalid_reason,omitempty"`
}

func (m *TokenMonitor) Snapshot() TokenSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	snap := TokenSnapshot{
		Status:          m.statusLocked(now),
		HasRefreshToken: m.refreshTokenLocked() != "",
		InvalidReason:   m.invalidReason,
	}
	if m.state != nil {
		expiresAt := m.state.ExpiresAt
		snap.ExpiresAt = &expiresAt
		remaining := expiresAt.Sub(now)
		if remaining > 0 {
			snap.RemainingSecs = int64(remaining / time.Second)
		}
		snap.NeedsRenewal = remaining < m.renewalThreshold
	}
	return snap
}

// RemoteProbe asks the marketplace whether the current token is still
// accepted. It fails closed. A rejection marks the token invalidated; a
// transport failure, 429 or 5xx only fails this call.
func (m *TokenMonitor) RemoteProbe(ctx context.Context) error {
	m.mu.RLock()
	if m.state == nil {
		m.mu.RUnlock()
		return ErrTokenUnavailable
	}
	token := m.state.AccessToken
	m.mu.RUnlock()

	return m.probe(ctx, token)
}

func (m *TokenMonitor) probe(ctx context.Context, token string) error {
	err := m.api.ProbeToken(ctx, token)
	if err == nil {
		return nil
	}
	if !marketplace.IsTransient(err) {
		m.Invalidate(token, err.Error())
	}
	return fmt.Errorf("%w: probe failed: %v", ErrTokenUnavailable, err)
}

// GetValidToken returns the access token only when it is locally valid,
// not invalidated, and accepted by the remote probe.
func (m *TokenMonitor) GetValidToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	status := m.statusLocked(m.clock.Now())
	var token string
	if m.state != nil {
		token = m.state.AccessToken
	}
	m.mu.RUnlock()

	switch status {
	case TokenStatusNoToken, TokenStatusExpired, TokenStatusInvalidated:
		return "", fmt.Errorf("%w: %s", ErrTokenUnavailable, status)
	}

	if err := m.probe(ctx, token); err != nil {
		return "", err
	}
	return token, nil
}

// Invalidate marks token unusable until the next SetToken. It is a no-op
// if token is no longer the current one.
func (m *TokenMonitor) Invalidate(token, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.AccessToken != token || m.invalidated {
		return
	}
	m.invalidated = true
	m.invalidReason = reason
	log.Printf("TokenMonitor: token invalidated: %s", reason)
}

func (m *TokenMonitor) refreshTokenLocked() string {
	if m.state != nil && m.state.RefreshToken != "" {
		return m.state.RefreshToken
	}
	return m.seedRefreshToken
}

// Refresh exchanges the refresh token for a new access token and applies
// it. It holds writeMu for the whole exchange, so a concurrent SetToken
// lands either before the refresh token is read or after the result is
// saved, never in between.
func (m *TokenMonitor) Refresh(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	refreshToken := m.refreshTokenLocked()
	m.mu.RUnlock()

	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	grant, err := m.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	return m.setTokenLocked(ctx, grant.AccessToken, grant.ExpiresIn, grant.RefreshToken)
}

// Supervise runs one supervisory evaluation. The token worker calls it on
// a fixed interval.
//
// Expired and invalidated tokens are reported on every call. Renewal
// warnings are debounced. With AutoRefresh set, a refresh is attempted
// whenever the token is missing, near expiry, expired or invalidated.
func (m *TokenMonitor) Supervise(ctx context.Context) {
	status := m.Status()

	if status == TokenStatusValid || status == TokenStatusNearExpiry {
		if err := m.RemoteProbe(ctx); err != nil {
			log.Printf("TokenMonitor: remote probe failed: %v", err)
		}
		status = m.Status()
	}

	now := m.clock.Now()
	expiresAt := m.expiresAt()

	switch status {
	case TokenStatusNoToken:
		log.Println("TokenMonitor: no token configured")
	case TokenStatusExpired:
		m.notify(ctx, TokenAlert{
			Kind:      AlertExpired,
			Message:   fmt.Sprintf("Marketplace token expired at %s; automatic answers are paused", expiresAt.Format(time.RFC3339)),
			ExpiresAt: expiresAt,
			At:        now,
		})
	case TokenStatusInvalidated:
		m.notify(ctx, TokenAlert{
			Kind:      AlertInvalidated,
			Message:   "Marketplace rejected the access token; automatic answers are paused",
			ExpiresAt: expiresAt,
			At:        now,
		})
	case TokenStatusNearExpiry:
		if m.claimRenewalNotice(now) {
			m.notify(ctx, TokenAlert{
				Kind:      AlertRenewalNeeded,
				Message:   fmt.Sprintf("Marketplace token expires in %s", expiresAt.Sub(now).Round(time.Minute)),
				ExpiresAt: expiresAt,
				At:        now,
			})
		}
	case TokenStatusValid:
		return
	}

	if !m.autoRefresh {
		return
	}
	if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrTokenNotPersisted) {
		if errors.Is(err, ErrNoRefreshToken) {
			return
		}
		log.Printf("TokenMonitor: automatic refresh failed: %v", err)
		m.notify(ctx, TokenAlert{Kind: AlertRefreshFailed, Message: err.Error(), ExpiresAt: expiresAt, At: now})
		return
	}
	m.notify(ctx, TokenAlert{Kind: AlertRefreshed, Message: "Marketplace token refreshed", ExpiresAt: m.expiresAt(), At: m.clock.Now()})
}

// claimRenewalNotice returns true at most once per debounce period.
func (m *TokenMonitor) claimRenewalNotice(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastRenewalNotice.IsZero() && now.Sub(m.lastRenewalNotice) < m.notifyDebounce {
		return false
	}
	m.lastRenewalNotice = now
	return true
}

func (m *TokenMonitor) expiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return time.Time{}
	}
	return m.state.ExpiresAt
}

func (m *TokenMonitor) notify(ctx context.Context, alert TokenAlert) {
	if err := m.notifier.Notify(ctx, alert); err != nil {
		log.Printf("TokenMonitor: failed to deliver %s alert: %v", alert.Kind, err)
	}
}
