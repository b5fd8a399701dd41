package testsupport

import (
	"testing"

	"vtunerd/internal/config"
	"vtunerd/internal/sessionlog"
)

// MustOpenJournal opens a sessionlog.Store for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *sessionlog.Store {
	t.Helper()

	store, err := sessionlog.Open(cfg.SessionDBPath())
	if err != nil {
		t.Fatalf("sessionlog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
