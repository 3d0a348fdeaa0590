package connectivity

import (
	"context"

	"github.com/saiset-co/sai-sync/types"
)

var customSensorCreators = make(map[string]types.ConnectivitySensorCreator)

// RegisterSensor lets host applications plug in a platform reachability
// signal under their own type name.
func RegisterSensor(sensorType string, creator types.ConnectivitySensorCreator) {
	customSensorCreators[sensorType] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.ConnectivitySensor, error) {
	sensorConfig := config.GetConfig().Connectivity
	if sensorConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	sensorType := sensorConfig.Type

	switch sensorType {
	case "probe", "":
		return NewProbeSensor(ctx, logger, sensorConfig.Config)
	case "manual":
		return NewManualSensor(ctx, logger, sensorConfig.Config)
	default:
		if creator, exists := customSensorCreators[sensorType]; exists {
			return creator(sensorConfig.Config)
		}
		return nil, types.Errorf(types.ErrSensorTypeUnknown, "type: %s", sensorType)
	}
}
