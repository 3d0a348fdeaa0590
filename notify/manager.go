package notify

import (
	"context"

	"github.com/saiset-co/sai-sync/types"
)

var customBrokerCreators = make(map[string]types.EventBrokerCreator)

// RegisterEventBroker makes a custom outbound leg available under the
// given config type name.
func RegisterEventBroker(brokerName string, creator types.EventBrokerCreator) {
	customBrokerCreators[brokerName] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, store types.DurableStore) (types.NotifyManager, error) {
	notifyConfig := config.GetConfig().Notify

	if notifyConfig == nil || !notifyConfig.Enabled {
		return nil, types.ErrNotifyIsDisabled
	}

	return NewDispatcher(ctx, config, logger, store)
}
