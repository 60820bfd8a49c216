package types

// LifecycleManager is implemented by components that own background work or
// open handles.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}
