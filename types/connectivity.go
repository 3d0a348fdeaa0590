package types

// ConnectivitySensor reports whether the remote endpoint is believed
// reachable. Subscribers are notified on transitions only.
type ConnectivitySensor interface {
	LifecycleManager
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

type ConnectivitySensorCreator func(config interface{}) (ConnectivitySensor, error)
