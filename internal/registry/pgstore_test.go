package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// The Postgres backend runs the shared contract only when a scratch
// database is provided.
func TestPgStore(t *testing.T) {
	dsn := os.Getenv("EDOAGREE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("EDOAGREE_TEST_PG_DSN not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		ctx := context.Background()
		s, err := NewPgStore(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.InitSchema(ctx))
		_, err = s.DB.Exec(ctx, `TRUNCATE counterparties`)
		require.NoError(t, err)
		return s
	})
}
