package metersync

import (
	"context"
	"testing"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSyncRequest(t *testing.T) {
	store := newMemoryStore(db.MeterCredential{RoomNo: "A1", MeterID: "m1"})
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m1": {Balance: 75}}}
	syncer := newTestSyncer(store, staticTokens{}, platform, nil)

	require.NoError(t, syncer.HandleSyncRequest(context.Background(), []byte(`{"roomNo":"A1"}`)))
	stored, _ := store.GetCredential(context.Background(), "A1")
	require.NotNil(t, stored.MeterData)
	assert.Equal(t, 75.0, stored.MeterData.Balance)
}

func TestHandleSyncRequest_ByMeterID(t *testing.T) {
	store := newMemoryStore(db.MeterCredential{RoomNo: "A2", MeterID: "m2"})
	platform := &fakePlatform{meters: map[string]iot.RawMeter{"m2": {Balance: 12}}}

	err := newTestSyncer(store, staticTokens{}, platform, nil).HandleSyncRequest(context.Background(), []byte(`{"meterId":"m2"}`))
	require.NoError(t, err)
}

func TestHandleSyncRequest_Rejects(t *testing.T) {
	syncer := newTestSyncer(newMemoryStore(), staticTokens{}, &fakePlatform{}, nil)

	assert.ErrorIs(t, syncer.HandleSyncRequest(context.Background(), []byte(`not json`)), ErrInvalidRequest)
	assert.ErrorIs(t, syncer.HandleSyncRequest(context.Background(), []byte(`{}`)), ErrInvalidRequest)
	assert.ErrorIs(t, syncer.HandleSyncRequest(context.Background(), []byte(`{"roomNo":"Z9"}`)), repository.ErrNotFound)
}
