package metersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/notify"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"go.uber.org/zap"
)

// ErrLink is returned when the credential record itself could not be stored
var ErrLink = errors.New("failed to link credentials")

// LinkRequest carries the credentials an admin attaches to a meter. Exactly
// one of Password and PasswordHash is expected; a plain password is hashed.
type LinkRequest struct {
	MeterID      string
	RoomNo       string
	ProjectID    string
	ProjectName  string
	Username     string
	Password     string
	PasswordHash string
}

// CredentialInfo is the admin-facing view of a credential, without secrets
type CredentialInfo struct {
	MeterID        string        `json:"meterId"`
	ProjectID      string        `json:"projectId"`
	ProjectName    string        `json:"projectName"`
	Username       string        `json:"username"`
	HasToken       bool          `json:"hasToken"`
	TokenExpiresAt *time.Time    `json:"tokenExpiresAt"`
	MeterData      *db.MeterData `json:"meterData"`
	LastSyncAt     *time.Time    `json:"lastSyncAt"`
}

// LinkCredentials stores the credentials and runs a first sync. The link is
// kept even when that sync fails; the sync error is returned alongside. A
// room linked for the first time is announced as a registration.
func (s *Syncer) LinkCredentials(ctx context.Context, req LinkRequest) (*Result, error) {
	existing, err := s.store.GetCredential(ctx, req.RoomNo)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrLink, err)
	}
	isNew := existing == nil

	hash := req.PasswordHash
	if hash == "" {
		hash = iot.HashPassword(req.Password)
	}

	cred := &db.MeterCredential{
		RoomNo:       req.RoomNo,
		MeterID:      req.MeterID,
		ProjectID:    req.ProjectID,
		ProjectName:  req.ProjectName,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLink, err)
	}

	s.logger.Info("meter credentials linked",
		zap.String("room_no", req.RoomNo),
		zap.String("meter_id", req.MeterID),
		zap.Bool("new", isNew))

	if isNew {
		s.announceRegistration(req)
	}
	return s.SyncMeter(ctx, req.RoomNo)
}

func (s *Syncer) announceRegistration(req LinkRequest) {
	if s.notifier == nil {
		return
	}
	ev := notify.Event{
		Kind:         notify.KindRegistration,
		RoomNo:       req.RoomNo,
		MeterID:      req.MeterID,
		CustomerName: req.Username,
		OccurredAt:   s.now(),
	}
	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, ev)
	})
}

// Control switches a linked meter's mode and resyncs its snapshot
func (s *Syncer) Control(ctx context.Context, meterID, action string) (*Result, error) {
	cred, err := s.store.GetCredentialByMeter(ctx, meterID)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Ensure(ctx, cred)
	if err != nil {
		return nil, err
	}

	if err := s.platform.Control(ctx, cred.MeterID, action, token); err != nil {
		return nil, fmt.Errorf("control %s on meter %s: %w", action, meterID, err)
	}

	s.logger.Info("meter control applied",
		zap.String("meter_id", meterID),
		zap.String("action", action))

	return s.sync(ctx, cred)
}

// Credentials returns roomNo -> credential info for every linked meter
func (s *Syncer) Credentials(ctx context.Context) (map[string]CredentialInfo, error) {
	creds, err := s.store.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	now := s.now()
	out := make(map[string]CredentialInfo, len(creds))
	for i := range creds {
		c := &creds[i]
		out[c.RoomNo] = CredentialInfo{
			MeterID:        c.MeterID,
			ProjectID:      c.ProjectID,
			ProjectName:    c.ProjectName,
			Username:       c.Username,
			HasToken:       c.TokenValid(now),
			TokenExpiresAt: c.TokenExpiresAt,
			MeterData:      c.MeterData,
			LastSyncAt:     c.LastSyncAt,
		}
	}
	return out, nil
}
