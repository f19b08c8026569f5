package metersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/notify"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
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
	var out []db.MeterCredential
	for _, room := range []string{"A1", "A2", "A3", "B1"} {
		if c, ok := s.creds[room]; ok {
			out = append(out, c)
		}
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

func (s *memoryStore) GetCredentialByMeter(ctx context.Context, meterID string) (*db.MeterCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.MeterID == meterID {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) UpsertCredential(ctx context.Context, cred *db.MeterCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.creds[cred.RoomNo]
	cred.MeterData = existing.MeterData
	cred.LastSyncAt = existing.LastSyncAt
	s.creds[cred.RoomNo] = *cred
	return nil
}

func (s *memoryStore) UpdateSnapshot(ctx context.Context, roomNo string, data db.MeterData, syncedAt time.Time, prev *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[roomNo]
	if !sameTime(c.LastSyncAt, prev) {
		return repository.ErrConcurrentUpdate
	}
	c.MeterData = &data
	c.LastSyncAt = &syncedAt
	s.creds[roomNo] = c
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type staticTokens struct {
	fail  map[string]bool
	store *memoryStore
}

func (s staticTokens) Ensure(ctx context.Context, cred *db.MeterCredential) (string, error) {
	if s.fail[cred.RoomNo] {
		return "", errors.New("login rejected")
	}
	return "tok-" + cred.RoomNo, nil
}

func (s staticTokens) LoadAll(ctx context.Context) (map[string]string, error) {
	tokens := map[string]string{}
	if s.store == nil {
		return tokens, nil
	}
	creds, _ := s.store.ListCredentials(ctx)
	for i := range creds {
		if token, err := s.Ensure(ctx, &creds[i]); err == nil {
			tokens[creds[i].RoomNo] = token
		}
	}
	return tokens, nil
}

type fakePlatform struct {
	mu       sync.Mutex
	meters   map[string]iot.RawMeter
	fail     map[string]bool
	controls []string
}

func (p *fakePlatform) MeterInfo(ctx context.Context, meterID, token string) (*iot.RawMeter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[meterID] {
		return nil, &iot.APIError{Path: "/api/meter/info", Message: "meter unreachable"}
	}
	m := p.meters[meterID]
	return &m, nil
}

func (p *fakePlatform) Control(ctx context.Context, meterID, action, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = append(p.controls, meterID+":"+action)
	m := p.meters[meterID]
	if action == iot.ActionOff {
		m.ControlMode = 2
		m.SwitchSta = 0
	}
	p.meters[meterID] = m
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, routingKey)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notify.Event) notify.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return notify.Result{}
}

var syncTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestSyncer(store Store, tokens TokenSource, platform Platform, pub Publisher) *Syncer {
	s := NewSyncer(store, tokens, platform, pub, nil, nil, zap.NewNop())
	s.now = func() time.Time { return syncTime }
	s.async = func(f func()) { f() }
	return s
}

func TestSyncMeter_StoresSnapshot(t *testing.T) {
	store := newMemoryStore(db.MeterCredential{RoomNo: "A1", MeterID: "m1"})
	platform := &fakePlatform{meters: map[string]iot.RawMeter{
		"m1": {ID: "m1", Balance: 420, EPI: 88.5, SwitchSta: 1, Power: 1.2},
	}}
	pub := &recordingPublisher{}

	result, err := newTestSyncer(store, staticTokens{}, platform, pub).SyncMeter(context.Background(), "A1")
	require.NoError(t, err)

	assert.Equal(t, 420.0, result.Balance)
	assert.Equal(t, 88.5, result.Reading)
	assert.Equal(t, iot.SwitchOn, result.SwitchState)
	assert.Equal(t, iot.Online, result.Connectivity)
	assert.Equal(t, iot.ModePrepaid, result.ControlMode)

	stored, _ := store.GetCredential(context.Background(), "A1")
	require.NotNil(t, stored.MeterData)
	assert.Equal(t, 420.0, stored.MeterData.Balance)
	assert.Equal(t, syncTime, *stored.LastSyncAt)
	assert.Equal(t, []string{RoutingKeyMeterSynced}, pub.keys)
}

func TestSyncMeter_UpstreamFailureKeepsSnapshot(t *testing.T) {
	prev := syncTime.Add(-time.Hour)
	store := newMemoryStore(db.MeterCredential{
		RoomNo: "A1", MeterID: "m1",
		MeterData:  &db.MeterData{Balance: 99},
		LastSyncAt: &prev,
	})
	platform := &fakePlatform{fail: map[string]bool{"m1": true}}

	_, err := newTestSyncer(store, staticTokens{}, platform, nil).SyncMeter(context.Background(), "A1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, iot.ErrUpstream))

	stored, _ := store.GetCredential(context.Background(), "A1")
	assert.Equal(t, 99.0, stored.MeterData.Balance)
	assert.Equal(t, prev, *stored.LastSyncAt)
}

func TestSyncMeter_ConcurrentWriteDetected(t *testing.T) {
	store := newMemoryStore(db.MeterCredential{RoomNo: "A1", MeterID: "m1"})
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m1": {Balance: 10}}}
	syncer := newTestSyncer(store, staticTokens{}, platform, nil)

	stale, _ := store.GetCredential(context.Background(), "A1")
	_, err := syncer.SyncMeter(context.Background(), "A1")
	require.NoError(t, err)

	_, err = syncer.sync(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConcurrentUpdate))
}

func TestSyncAll_IsolatesFailures(t *testing.T) {
	store := newMemoryStore(
		db.MeterCredential{RoomNo: "A1", MeterID: "m1"},
		db.MeterCredential{RoomNo: "A2", MeterID: "m2"},
		db.MeterCredential{RoomNo: "A3", MeterID: "m3"},
		db.MeterCredential{RoomNo: "B1", MeterID: "m4"},
	)
	platform := &fakePlatform{
		meters: map[string]iot.RawMeter{"m1": {Balance: 1}, "m3": {Balance: 3}, "m4": {Balance: 4}},
		fail:   map[string]bool{"m2": true},
	}
	tokens := staticTokens{fail: map[string]bool{"B1": true}, store: store}

	summary, err := newTestSyncer(store, tokens, platform, nil).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 2, Failed: 2}, summary)

	a3, _ := store.GetCredential(context.Background(), "A3")
	require.NotNil(t, a3.MeterData)
	assert.Equal(t, 3.0, a3.MeterData.Balance)
}

type preloadedTokens map[string]string

func (p preloadedTokens) Ensure(ctx context.Context, cred *db.MeterCredential) (string, error) {
	return "", errors.New("tokens must come from LoadAll")
}

func (p preloadedTokens) LoadAll(ctx context.Context) (map[string]string, error) {
	return p, nil
}

func TestSyncAll_UsesBulkLoadedTokens(t *testing.T) {
	store := newMemoryStore(
		db.MeterCredential{RoomNo: "A1", MeterID: "m1"},
		db.MeterCredential{RoomNo: "A2", MeterID: "m2"},
	)
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m1": {Balance: 1}, "m2": {Balance: 2}}}

	summary, err := newTestSyncer(store, preloadedTokens{"A1": "tok-a1"}, platform, nil).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Synced: 1, Failed: 1}, summary)

	a2, _ := store.GetCredential(context.Background(), "A2")
	assert.Nil(t, a2.MeterData)
}

func TestLinkCredentials_AnnouncesFirstLinkOnly(t *testing.T) {
	store := newMemoryStore()
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m9": {Balance: 500}}}
	notifier := &recordingNotifier{}
	syncer := newTestSyncer(store, staticTokens{}, platform, nil)
	syncer.notifier = notifier

	req := LinkRequest{MeterID: "m9", RoomNo: "C7", Username: "c7", Password: "pw"}
	_, err := syncer.LinkCredentials(context.Background(), req)
	require.NoError(t, err)
	_, err = syncer.LinkCredentials(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, notify.KindRegistration, ev.Kind)
	assert.Equal(t, "C7", ev.RoomNo)
	assert.Equal(t, "m9", ev.MeterID)
	assert.Equal(t, syncTime, ev.OccurredAt)
}

func TestLinkCredentials_HashesPlainPassword(t *testing.T) {
	store := newMemoryStore()
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m9": {Balance: 500}}}

	result, err := newTestSyncer(store, staticTokens{}, platform, nil).LinkCredentials(context.Background(), LinkRequest{
		MeterID: "m9", RoomNo: "C7", Username: "c7", Password: "password",
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, result.Balance)

	stored, _ := store.GetCredential(context.Background(), "C7")
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", stored.PasswordHash)
}

func TestLinkCredentials_KeepsLinkWhenSyncFails(t *testing.T) {
	store := newMemoryStore()
	platform := &fakePlatform{fail: map[string]bool{"m9": true}}

	_, err := newTestSyncer(store, staticTokens{}, platform, nil).LinkCredentials(context.Background(), LinkRequest{
		MeterID: "m9", RoomNo: "C7", Username: "c7", PasswordHash: "abc",
	})
	require.Error(t, err)

	stored, err := store.GetCredential(context.Background(), "C7")
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.PasswordHash)
}

func TestControl_AppliesAndResyncs(t *testing.T) {
	store := newMemoryStore(db.MeterCredential{RoomNo: "A1", MeterID: "m1"})
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m1": {Balance: 50, SwitchSta: 1}}}

	result, err := newTestSyncer(store, staticTokens{}, platform, nil).Control(context.Background(), "m1", iot.ActionOff)
	require.NoError(t, err)

	assert.Equal(t, []string{"m1:off"}, platform.controls)
	assert.Equal(t, iot.ModeForcedOff, result.ControlMode)
	assert.Equal(t, iot.SwitchOff, result.SwitchState)
}

func TestCredentials_HidesSecrets(t *testing.T) {
	expiry := syncTime.Add(time.Hour)
	token := "tok"
	store := newMemoryStore(db.MeterCredential{
		RoomNo: "A1", MeterID: "m1", Username: "a1", PasswordHash: "secret",
		Token: &token, TokenExpiresAt: &expiry,
	})

	infos, err := newTestSyncer(store, staticTokens{}, &fakePlatform{}, nil).Credentials(context.Background())
	require.NoError(t, err)
	require.Contains(t, infos, "A1")
	assert.True(t, infos["A1"].HasToken)
	assert.Equal(t, "m1", infos["A1"].MeterID)
}
