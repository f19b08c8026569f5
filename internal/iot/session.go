package iot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenCache holds one session token and its expiry. It is created by the
// owner of a session and passed to it, never shared through package state.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get returns the token if it is still valid at now
func (c *TokenCache) Get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !now.Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores a token valid until expiresAt
func (c *TokenCache) Set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// Invalidate drops the cached token
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// AdminSession performs platform-wide queries with the admin account,
// logging in lazily and sharing one login among concurrent callers.
type AdminSession struct {
	client       *Client
	cache        *TokenCache
	username     string
	passwordHash string
	ttl          time.Duration
	now          func() time.Time
	logins       singleflight.Group
	logger       *zap.Logger
}

// NewAdminSession creates a session around client and cache
func NewAdminSession(client *Client, cache *TokenCache, username, passwordHash string, ttl time.Duration, logger *zap.Logger) *AdminSession {
	return &AdminSession{
		client:       client,
		cache:        cache,
		username:     username,
		passwordHash: passwordHash,
		ttl:          ttl,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *AdminSession) token(ctx context.Context) (string, error) {
	if token, ok := s.cache.Get(s.now()); ok {
		return token, nil
	}

	v, err, _ := s.logins.Do("login", func() (any, error) {
		if token, ok := s.cache.Get(s.now()); ok {
			return token, nil
		}
		issuedAt := s.now()
		token, err := s.client.Login(ctx, s.username, s.passwordHash)
		if err != nil {
			return "", err
		}
		s.cache.Set(token, issuedAt.Add(s.ttl))
		s.logger.Info("admin session refreshed", zap.Time("expires_at", issuedAt.Add(s.ttl)))
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// observe drops the cached token after an explicit platform rejection so the
// next call logs in again.
func (s *AdminSession) observe(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s.cache.Invalidate()
	}
}

// Projects lists all projects
func (s *AdminSession) Projects(ctx context.Context) ([]Project, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := s.client.Projects(ctx, token)
	s.observe(err)
	return projects, err
}

// Meters lists the meters of one project
func (s *AdminSession) Meters(ctx context.Context, projectID string) ([]RawMeter, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	meters, err := s.client.Meters(ctx, projectID, token)
	s.observe(err)
	return meters, err
}

// Sales lists sales of one meter in the time window
func (s *AdminSession) Sales(ctx context.Context, meterID, start, end string) ([]SaleRecord, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.client.Sales(ctx, meterID, start, end, token)
	s.observe(err)
	return sales, err
}

// Energy lists consumption of one meter in the time window
func (s *AdminSession) Energy(ctx context.Context, meterID, start, end string) ([]EnergyRecord, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.client.Energy(ctx, meterID, start, end, token)
	s.observe(err)
	return records, err
}
