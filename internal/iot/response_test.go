package iot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalize_NewShape(t *testing.T) {
	env, err := normalize([]byte(`{"success":"1","errorMsg":"","data":{"token":"abc"}}`))
	require.NoError(t, err)
	assert.True(t, env.OK)
	assert.JSONEq(t, `{"token":"abc"}`, string(env.Data))
}

func TestNormalize_NewShapeFailure(t *testing.T) {
	env, err := normalize([]byte(`{"success":"0","errorMsg":"wrong password"}`))
	require.NoError(t, err)
	assert.False(t, env.OK)
	assert.Equal(t, "wrong password", env.Message)
}

func TestNormalize_NumericSuccess(t *testing.T) {
	env, err := normalize([]byte(`{"success":1,"data":[]}`))
	require.NoError(t, err)
	assert.True(t, env.OK)
}

func TestNormalize_LegacyShape(t *testing.T) {
	for _, code := range []string{`0`, `200`, `"200"`} {
		env, err := normalize([]byte(`{"code":` + code + `,"msg":"ok","data":[1]}`))
		require.NoError(t, err)
		assert.True(t, env.OK, "code %s", code)
	}

	env, err := normalize([]byte(`{"code":401,"msg":"token expired"}`))
	require.NoError(t, err)
	assert.False(t, env.OK)
	assert.Equal(t, "token expired", env.Message)
}

func TestNormalize_UnknownShape(t *testing.T) {
	_, err := normalize([]byte(`{"data":[]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))

	_, err = normalize([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
}

func TestNormalize_FailureWithoutMessage(t *testing.T) {
	env, err := normalize([]byte(`{"success":"0"}`))
	require.NoError(t, err)
	assert.Equal(t, "request rejected", env.Message)
}

func TestDecodeList_Wrapped(t *testing.T) {
	items, err := decodeList[SaleRecord]([]byte(`{"list":[{"saleMoney":"50"}]}`), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50.0, items[0].Amount())

	items, err = decodeList[SaleRecord]([]byte(`null`), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDecodeList_NonNumericFieldKeepsRecord(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	body := []byte(`[{"id":"m1","roomNo":"A1","balance":"N/A","alarmA":"N/A","P":"bad"},{"id":"m2","balance":"40"}]`)

	meters, err := decodeList[RawMeter](body, zap.New(core))
	require.NoError(t, err)
	require.Len(t, meters, 2)

	assert.Equal(t, ID("m1"), meters[0].ID)
	assert.Equal(t, ID("A1"), meters[0].RoomNo)
	assert.Equal(t, Number(0), meters[0].Balance)
	assert.Equal(t, Number(0), meters[0].AlarmA)
	assert.Equal(t, Number(0), meters[0].Power)
	assert.Equal(t, Number(40), meters[1].Balance)
	assert.Equal(t, 2, logs.Len())
}

func TestDecodeList_MalformedRecordStillFails(t *testing.T) {
	_, err := decodeList[RawMeter]([]byte(`[{"id":"m1","projectName":42}]`), zap.NewNop())
	require.Error(t, err)
}
