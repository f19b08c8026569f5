package metersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a sync request that can never succeed
var ErrInvalidRequest = errors.New("invalid sync request")

// SyncRequest asks for one room to be resynced. An empty RoomNo with a
// MeterID resolves the room through the linked meter.
type SyncRequest struct {
	RoomNo  string `json:"roomNo"`
	MeterID string `json:"meterId,omitempty"`
}

// HandleSyncRequest is the queue handler for sync requests
func (s *Syncer) HandleSyncRequest(ctx context.Context, body []byte) error {
	var req SyncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	roomNo := req.RoomNo
	if roomNo == "" && req.MeterID != "" {
		cred, err := s.store.GetCredentialByMeter(ctx, req.MeterID)
		if err != nil {
			return fmt.Errorf("resolve meter %s: %w", req.MeterID, err)
		}
		roomNo = cred.RoomNo
	}
	if roomNo == "" {
		return fmt.Errorf("%w: roomNo or meterId is required", ErrInvalidRequest)
	}

	_, err := s.SyncMeter(ctx, roomNo)
	return err
}
