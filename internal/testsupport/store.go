package testsupport

import (
	"testing"

	"tally/internal/codec"
	"tally/internal/config"
	"tally/internal/kvstore"
)

// MustOpenKV opens the blob store declared by cfg and registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) *kvstore.Store {
	t.Helper()

	store, err := kvstore.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open kv store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close kv store: %v", err)
		}
	})
	return store
}

// MustNewCodec builds a snapshot codec and registers cleanup.
func MustNewCodec(t testing.TB) *codec.Codec {
	t.Helper()

	c, err := codec.New()
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}
