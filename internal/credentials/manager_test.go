package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu    sync.Mutex
	creds map[string]db.MeterCredential
}

func newMemoryStore(creds ...db.MeterCredential) *memoryStore {
	s := &memoryStore{creds: make(map[string]db.MeterCredential)}
	for _, c := range creds {
		s.creds[c.RoomNo] = c
	}
	return s
}

func (s *memoryStore) ListCredentials(ctx context.Context) ([]db.MeterCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.MeterCredential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, c)
	}
	return out, nil
}

func (s *memoryStore) GetCredential(ctx context.Context, roomNo string) (*db.MeterCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[roomNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *memoryStore) UpdateToken(ctx context.Context, roomNo, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[roomNo]
	c.Token = &token
	c.TokenExpiresAt = &expiresAt
	s.creds[roomNo] = c
	return nil
}

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Login(ctx context.Context, username, passwordHash string) (string, error) {
	args := m.Called(ctx, username, passwordHash)
	return args.String(0), args.Error(1)
}

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(store Store, auth Authenticator) *Manager {
	m := NewManager(store, auth, 24*time.Hour, nil, zap.NewNop())
	m.now = func() time.Time { return fixedNow }
	return m
}

func TestEnsure_RefreshesExpiredToken(t *testing.T) {
	previousExpiry := fixedNow.Add(-time.Minute)
	cred := db.MeterCredential{
		RoomNo: "A1", Username: "a1", PasswordHash: "h1",
		Token: ptr("old"), TokenExpiresAt: &previousExpiry,
	}
	store := newMemoryStore(cred)
	auth := new(mockAuth)
	auth.On("Login", mock.Anything, "a1", "h1").Return("fresh", nil).Once()

	token, err := newTestManager(store, auth).Ensure(context.Background(), &cred)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	stored, _ := store.GetCredential(context.Background(), "A1")
	require.NotNil(t, stored.TokenExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *stored.TokenExpiresAt)
	assert.False(t, fixedNow.Before(previousExpiry))
	auth.AssertExpectations(t)
}

func TestEnsure_KeepsValidToken(t *testing.T) {
	expiry := fixedNow.Add(time.Hour)
	cred := db.MeterCredential{
		RoomNo: "A1", Username: "a1", PasswordHash: "h1",
		Token: ptr("still-good"), TokenExpiresAt: &expiry,
	}
	auth := new(mockAuth)

	token, err := newTestManager(newMemoryStore(cred), auth).Ensure(context.Background(), &cred)
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
	auth.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsure_TokenWithoutExpiryIsRefreshed(t *testing.T) {
	cred := db.MeterCredential{RoomNo: "A1", Username: "a1", PasswordHash: "h1", Token: ptr("orphan")}
	auth := new(mockAuth)
	auth.On("Login", mock.Anything, "a1", "h1").Return("fresh", nil).Once()

	token, err := newTestManager(newMemoryStore(cred), auth).Ensure(context.Background(), &cred)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestEnsure_NoLoginMaterial(t *testing.T) {
	cred := db.MeterCredential{RoomNo: "A1", Username: "a1"}

	_, err := newTestManager(newMemoryStore(cred), new(mockAuth)).Ensure(context.Background(), &cred)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoLogin))
}

func TestLoadAll_DegradesPerMeter(t *testing.T) {
	valid := fixedNow.Add(2 * time.Hour)
	expired := fixedNow.Add(-2 * time.Hour)
	store := newMemoryStore(
		db.MeterCredential{RoomNo: "A1", Username: "a1", PasswordHash: "h1", Token: ptr("t1"), TokenExpiresAt: &valid},
		db.MeterCredential{RoomNo: "A2", Username: "a2", PasswordHash: "h2", Token: ptr("t2"), TokenExpiresAt: &expired},
		db.MeterCredential{RoomNo: "A3", Username: "a3", PasswordHash: "h3"},
		db.MeterCredential{RoomNo: "A4"},
	)
	auth := new(mockAuth)
	auth.On("Login", mock.Anything, "a2", "h2").Return("t2-new", nil).Once()
	auth.On("Login", mock.Anything, "a3", "h3").Return("", errors.New("invalid password")).Once()

	tokens, err := newTestManager(store, auth).LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"A1": "t1", "A2": "t2-new"}, tokens)
	auth.AssertExpectations(t)
}

func TestTokenFor_UnknownRoom(t *testing.T) {
	_, _, err := newTestManager(newMemoryStore(), new(mockAuth)).TokenFor(context.Background(), "Z9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

// gateAuth blocks every login until the expected number of callers are
// inside Login at the same time.
type gateAuth struct {
	want    int32
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
	once    sync.Once
}

func (g *gateAuth) Login(ctx context.Context, username, passwordHash string) (string, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if n >= g.want {
		g.once.Do(func() { close(g.release) })
	}
	select {
	case <-g.release:
		return "tok-" + username, nil
	case <-time.After(2 * time.Second):
		return "", errors.New("logins did not overlap")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestLoadAll_RefreshesConcurrently(t *testing.T) {
	store := newMemoryStore(
		db.MeterCredential{RoomNo: "A1", Username: "a1", PasswordHash: "h1"},
		db.MeterCredential{RoomNo: "A2", Username: "a2", PasswordHash: "h2"},
		db.MeterCredential{RoomNo: "A3", Username: "a3", PasswordHash: "h3"},
	)
	auth := &gateAuth{want: 3, release: make(chan struct{})}

	tokens, err := newTestManager(store, auth).LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"A1": "tok-a1", "A2": "tok-a2", "A3": "tok-a3"}, tokens)
	assert.Equal(t, int32(3), auth.peak.Load())

	a2, _ := store.GetCredential(context.Background(), "A2")
	require.NotNil(t, a2.TokenExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *a2.TokenExpiresAt)
}
