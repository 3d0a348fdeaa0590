package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrComponentAlreadyRunning = errors.New("component already running")
	ErrComponentNotRunning     = errors.New("component not running")
	ErrComponentStartFailed    = errors.New("component start failed")
	ErrComponentStopFailed     = errors.New("component stop failed")
	ErrComponentNotFound       = errors.New("component not found")
)

var (
	ErrStoreWriteFailed       = errors.New("store write failed")
	ErrStoreReadFailed        = errors.New("store read failed")
	ErrStoreKeyNotFound       = errors.New("store key not found")
	ErrStoreCollectionUnknown = errors.New("store collection unknown")
	ErrStoreTypeUnknown       = errors.New("store type unknown")
	ErrStoreBatchEmpty        = errors.New("store batch empty")
)

var (
	ErrCacheEntryNotFound    = errors.New("cache entry not found")
	ErrCacheEntryExpired     = errors.New("cache entry expired")
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrMutationNotFound  = errors.New("mutation not found")
	ErrMutationDuplicate = errors.New("mutation already applied")
	ErrQueueFull         = errors.New("mutation queue full")
	ErrRecordNotFound    = errors.New("record not found")
)

var (
	ErrTransientNetwork     = errors.New("transient network failure")
	ErrPermanentRejection   = errors.New("permanent rejection")
	ErrTransportTypeUnknown = errors.New("transport type unknown")
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrSyncIsDisabled     = errors.New("sync scheduler is disabled")
	ErrSensorTypeUnknown  = errors.New("sensor type unknown")
)

var (
	ErrNotifyPublishFailed    = errors.New("notify publish failed")
	ErrNotifyConnectionFailed = errors.New("notify connection failed")
	ErrNotifyTypeUnknown      = errors.New("notify type unknown")
	ErrNotifyIsDisabled       = errors.New("notify broker is disabled")
	ErrWebhookNotFound        = errors.New("webhook not found")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronIsDisabled        = errors.New("cron scheduler is disabled")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
	ErrHealthIsDisabled   = errors.New("health manager is disabled")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
)

var (
	ErrEngineIsRunning    = errors.New("engine is running")
	ErrEngineIsNotRunning = errors.New("engine is not running")
)

var (
	ErrSerializationFailed = errors.New("serialization failed")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrOperationFailed     = errors.New("operation failed")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrInternalError       = errors.New("internal error")
	ErrContextCancelled    = errors.New("context cancelled")
	ErrContextTimeout      = errors.New("context timeout")
	ErrInvalidState        = errors.New("invalid state")
	ErrNotSupported        = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
