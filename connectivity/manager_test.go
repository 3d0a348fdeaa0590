package connectivity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/config"
	"github.com/saiset-co/sai-sync/logger"
	"github.com/saiset-co/sai-sync/types"
)

func staticConfig(t *testing.T, connectivity *types.ConnectivityConfig) types.ConfigManager {
	t.Helper()

	cm, err := config.NewStaticManager(context.Background(), &types.EngineConfig{
		Name:         "connectivity-test",
		Version:      "0.1.0",
		Connectivity: connectivity,
	})
	require.NoError(t, err)

	return cm
}

func TestNewManager_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	log := logger.NewZapWrapper(zap.NewNop())

	probe, err := NewManager(ctx, staticConfig(t, &types.ConnectivityConfig{
		Type:   "probe",
		Config: map[string]interface{}{"url": "http://127.0.0.1:1"},
	}), log)
	require.NoError(t, err)
	assert.IsType(t, &ProbeSensor{}, probe)

	manual, err := NewManager(ctx, staticConfig(t, &types.ConnectivityConfig{
		Type: "manual",
	}), log)
	require.NoError(t, err)
	assert.IsType(t, &ManualSensor{}, manual)

	_, err = NewManager(ctx, staticConfig(t, &types.ConnectivityConfig{
		Type: "semaphore-flags",
	}), log)
	assert.True(t, types.IsError(err, types.ErrSensorTypeUnknown))
}

type stubSensor struct{ types.ConnectivitySensor }

func TestRegisterSensor_CustomCreator(t *testing.T) {
	RegisterSensor("stub", func(config interface{}) (types.ConnectivitySensor, error) {
		return &stubSensor{}, nil
	})

	sensor, err := NewManager(context.Background(), staticConfig(t, &types.ConnectivityConfig{
		Type: "stub",
	}), logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)
	assert.IsType(t, &stubSensor{}, sensor)
}
