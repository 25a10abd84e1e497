package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/disturb/internal/natsserver"
)

// NATSURL starts an embedded JetStream server for the calling test and
// returns its client URL. The server is stopped when the test ends.
func NATSURL(t *testing.T) string {
	t.Helper()

	srv, err := natsserver.New(natsserver.Options{
		Port:     -1,
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(srv.Stop)

	return srv.ClientURL()
}
