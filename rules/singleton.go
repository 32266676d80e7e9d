package rules

import "sync"

// Global store instance and initialization guard.
var (
	globalStore *Store
	globalOnce  sync.Once
)

// Global returns the singleton rule store.
// Creates an empty store on first call if not already initialized.
func Global() *Store {
	globalOnce.Do(func() {
		globalStore = NewStore()
	})
	return globalStore
}

// InitGlobal initializes the global store with a custom instance.
// Must be called before any call to Global() to take effect.
// Safe for concurrent use but only the first call has any effect.
func InitGlobal(s *Store) {
	globalOnce.Do(func() {
		globalStore = s
	})
}

// ResetGlobal resets the global store for testing purposes.
// This is NOT thread-safe and should only be used in tests.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalStore = nil
}
