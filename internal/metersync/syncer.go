package metersync

import (
	"context"
	"fmt"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/logging"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/notify"
	"go.uber.org/zap"
)

// RoutingKeyMeterSynced is published after every successful snapshot write
const RoutingKeyMeterSynced = "meter.synced"

// Store persists credentials and their telemetry snapshots
type Store interface {
	ListCredentials(ctx context.Context) ([]db.MeterCredential, error)
	GetCredential(ctx context.Context, roomNo string) (*db.MeterCredential, error)
	GetCredentialByMeter(ctx context.Context, meterID string) (*db.MeterCredential, error)
	UpsertCredential(ctx context.Context, cred *db.MeterCredential) error
	UpdateSnapshot(ctx context.Context, roomNo string, data db.MeterData, syncedAt time.Time, prevSyncAt *time.Time) error
}

// TokenSource yields valid session tokens. LoadAll refreshes every linked
// room and returns roomNo -> token for the rooms that hold one.
type TokenSource interface {
	Ensure(ctx context.Context, cred *db.MeterCredential) (string, error)
	LoadAll(ctx context.Context) (map[string]string, error)
}

// Platform is the subset of the meter platform the syncer drives
type Platform interface {
	MeterInfo(ctx context.Context, meterID, token string) (*iot.RawMeter, error)
	Control(ctx context.Context, meterID, action, token string) error
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Notifier tells operators and customers about new registrations
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) notify.Result
}

// Result is the outcome of one successful sync
type Result struct {
	RoomNo       string    `json:"roomNo"`
	MeterID      string    `json:"meterId"`
	Balance      float64   `json:"balance"`
	Reading      float64   `json:"reading"`
	SwitchState  string    `json:"switchState"`
	Connectivity string    `json:"connectivity"`
	ControlMode  string    `json:"controlMode"`
	Power        float64   `json:"power"`
	SyncedAt     time.Time `json:"syncedAt"`
}

// Summary counts the outcome of a sync-all pass
type Summary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Syncer refreshes stored telemetry snapshots from the platform
type Syncer struct {
	store     Store
	tokens    TokenSource
	platform  Platform
	publisher Publisher
	notifier  Notifier
	async     func(func())
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSyncer creates a syncer. publisher and notifier may be nil.
func NewSyncer(store Store, tokens TokenSource, platform Platform, publisher Publisher, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:     store,
		tokens:    tokens,
		platform:  platform,
		publisher: publisher,
		notifier:  notifier,
		async:     func(f func()) { go f() },
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

// SyncMeter refreshes the snapshot of one room. On failure the previous
// snapshot is left untouched and the error is returned without retry.
func (s *Syncer) SyncMeter(ctx context.Context, roomNo string) (*Result, error) {
	cred, err := s.store.GetCredential(ctx, roomNo)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, cred)
}

// SyncAll refreshes all tokens concurrently, then syncs every room that got
// one. Rooms without a token count as failed; one room's failure does not
// stop the others.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	tokens, err := s.tokens.LoadAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load tokens: %w", err)
	}
	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list credentials: %w", err)
	}

	var summary Summary
	for i := range creds {
		token, ok := tokens[creds[i].RoomNo]
		if !ok {
			s.metrics.MeterSync(false)
			logging.WithRoom(s.logger, creds[i].RoomNo).Warn("meter sync skipped, no usable token")
			summary.Failed++
			continue
		}
		if _, err := s.syncWithToken(ctx, &creds[i], token); err != nil {
			summary.Failed++
			continue
		}
		summary.Synced++
	}

	s.logger.Info("sync-all completed",
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (s *Syncer) sync(ctx context.Context, cred *db.MeterCredential) (*Result, error) {
	logger := logging.WithRoom(s.logger, cred.RoomNo)

	token, err := s.tokens.Ensure(ctx, cred)
	if err != nil {
		s.metrics.MeterSync(false)
		logger.Warn("meter sync skipped, no usable token", zap.Error(err))
		return nil, err
	}
	return s.syncWithToken(ctx, cred, token)
}

func (s *Syncer) syncWithToken(ctx context.Context, cred *db.MeterCredential, token string) (*Result, error) {
	logger := logging.WithRoom(s.logger, cred.RoomNo)

	info, err := s.platform.MeterInfo(ctx, cred.MeterID, token)
	if err != nil {
		s.metrics.MeterSync(false)
		logger.Warn("meter info request failed", zap.Error(err))
		return nil, fmt.Errorf("meter info for room %s: %w", cred.RoomNo, err)
	}

	tel := info.Telemetry()
	data := db.MeterData{
		Balance:      tel.Balance,
		Reading:      tel.Reading,
		SwitchState:  tel.SwitchState,
		Connectivity: tel.Connectivity,
		ControlMode:  tel.ControlMode,
		Power:        tel.Power,
	}

	syncedAt := s.now()
	if err := s.store.UpdateSnapshot(ctx, cred.RoomNo, data, syncedAt, cred.LastSyncAt); err != nil {
		s.metrics.MeterSync(false)
		logger.Warn("failed to store meter snapshot", zap.Error(err))
		return nil, err
	}
	cred.MeterData = &data
	cred.LastSyncAt = &syncedAt
	s.metrics.MeterSync(true)

	result := &Result{
		RoomNo:       cred.RoomNo,
		MeterID:      cred.MeterID,
		Balance:      data.Balance,
		Reading:      data.Reading,
		SwitchState:  data.SwitchState,
		Connectivity: data.Connectivity,
		ControlMode:  data.ControlMode,
		Power:        data.Power,
		SyncedAt:     syncedAt,
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, RoutingKeyMeterSynced, result); err != nil {
			logger.Error("failed to publish meter synced event", zap.Error(err))
		}
	}

	logger.Debug("meter synced", zap.Float64("balance", data.Balance), zap.String("connectivity", data.Connectivity))
	return result, nil
}
