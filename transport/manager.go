package transport

import (
	"context"

	"github.com/saiset-co/sai-sync/types"
)

var customTransportCreators = make(map[string]types.TransportCreator)

// RegisterTransport lets host applications plug in an authenticated or
// otherwise customized transport under their own type name.
func RegisterTransport(transportType string, creator types.TransportCreator) {
	customTransportCreators[transportType] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.Transport, error) {
	transportConfig := config.GetConfig().Transport
	if transportConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	transportType := transportConfig.Type

	switch transportType {
	case "http", "":
		return NewHTTPTransport(ctx, logger, transportConfig.Config)
	default:
		if creator, exists := customTransportCreators[transportType]; exists {
			return creator(transportConfig.Config)
		}
		return nil, types.Errorf(types.ErrTransportTypeUnknown, "type: %s", transportType)
	}
}
