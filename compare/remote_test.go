package compare

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unkn0wn-root/partdiff"
	"github.com/unkn0wn-root/partdiff/memstore"
	"github.com/unkn0wn-root/partdiff/remote"
)

func TestCompareThroughRemoteProtocol(t *testing.T) {
	local, far := memstore.New(), memstore.New()
	for k := int64(0); k < 300; k++ {
		bins := map[string]partdiff.Value{"k": partdiff.Int(k)}
		if k%3 != 0 {
			putInt(t, local, k, bins)
		}
		if k%5 == 0 {
			bins = map[string]partdiff.Value{"k": partdiff.Int(-k)}
		}
		if k%7 != 0 {
			putInt(t, far, k, bins)
		}
	}

	srv, err := remote.NewServer(far, remote.Default(), zaptest.NewLogger(t))
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	for _, mode := range []Mode{ModeMissing, ModeHash, ModeFull} {
		for _, ra := range []int{0, 16} {
			cfg := remote.Default()
			cfg.ReadAhead = ra
			client, err := remote.NewClient(ln.Addr().String(), cfg, zaptest.NewLogger(t))
			require.NoError(t, err)

			direct := newRunner(t, []partdiff.Cluster{local, far}, nil)
			want, err := direct.Run(context.Background(), scanOptions(mode))
			require.NoError(t, err)

			tunneled := newRunner(t, []partdiff.Cluster{local, client}, nil)
			got, err := tunneled.Run(context.Background(), scanOptions(mode))
			require.NoError(t, err)

			require.Equal(t, want.Missing, got.Missing, "mode %s read-ahead %d", mode, ra)
			require.Equal(t, want.Differing, got.Differing, "mode %s read-ahead %d", mode, ra)
			require.Equal(t, want.Records, got.Records)
			require.NoError(t, client.Close())
		}
	}
}
