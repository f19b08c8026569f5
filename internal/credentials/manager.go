package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/logging"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoLogin is returned when a token is needed but the record holds no
// username or password hash to obtain one.
var ErrNoLogin = errors.New("credential has no login material")

// Store persists meter credentials and their cached tokens
type Store interface {
	ListCredentials(ctx context.Context) ([]db.MeterCredential, error)
	GetCredential(ctx context.Context, roomNo string) (*db.MeterCredential, error)
	UpdateToken(ctx context.Context, roomNo, token string, expiresAt time.Time) error
}

// Authenticator exchanges login material for a platform token
type Authenticator interface {
	Login(ctx context.Context, username, passwordHash string) (string, error)
}

// Manager owns session tokens of linked meters
type Manager struct {
	store   Store
	auth    Authenticator
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewManager creates a token manager. Every refresh is valid for ttl.
func NewManager(store Store, auth Authenticator, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		auth:    auth,
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
}

// Ensure returns a usable token for cred, logging in when the cached one is
// absent or expired. cred is updated in place with the new token.
func (m *Manager) Ensure(ctx context.Context, cred *db.MeterCredential) (string, error) {
	now := m.now()
	if cred.TokenValid(now) {
		return *cred.Token, nil
	}
	if !cred.HasLogin() {
		return "", fmt.Errorf("room %s: %w", cred.RoomNo, ErrNoLogin)
	}

	token, err := m.auth.Login(ctx, cred.Username, cred.PasswordHash)
	if err != nil {
		m.metrics.TokenRefresh(false)
		return "", fmt.Errorf("login for room %s: %w", cred.RoomNo, err)
	}
	m.metrics.TokenRefresh(true)

	expiresAt := now.Add(m.ttl)
	if err := m.store.UpdateToken(ctx, cred.RoomNo, token, expiresAt); err != nil {
		return "", fmt.Errorf("persist token for room %s: %w", cred.RoomNo, err)
	}
	cred.Token = &token
	cred.TokenExpiresAt = &expiresAt

	return token, nil
}

// TokenFor loads one credential and ensures its token
func (m *Manager) TokenFor(ctx context.Context, roomNo string) (*db.MeterCredential, string, error) {
	cred, err := m.store.GetCredential(ctx, roomNo)
	if err != nil {
		return nil, "", err
	}
	token, err := m.Ensure(ctx, cred)
	if err != nil {
		return cred, "", err
	}
	return cred, token, nil
}

// LoadAll returns roomNo -> token for every credential that holds a usable
// token after refreshing the expired ones. Refreshes run concurrently; a
// failed refresh only drops that room from the result.
func (m *Manager) LoadAll(ctx context.Context) (map[string]string, error) {
	creds, err := m.store.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	var (
		mu     sync.Mutex
		tokens = make(map[string]string, len(creds))
		g      errgroup.Group
	)

	for i := range creds {
		cred := &creds[i]
		g.Go(func() error {
			token, err := m.Ensure(ctx, cred)
			if err != nil {
				logging.WithRoom(m.logger, cred.RoomNo).Warn("token refresh failed, skipping meter", zap.Error(err))
				return nil
			}
			mu.Lock()
			tokens[cred.RoomNo] = token
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return tokens, nil
}
