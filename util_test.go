package argateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/everFinance/goar"
	"github.com/permadata-network/argateway/cache"
	"github.com/permadata-network/argateway/rawdb"
	"github.com/stretchr/testify/assert"
)

// newTestGateway wires a gateway against bolt, sqlite and the
// in-process queue. The peer client points at a dead loopback port so
// network tiers fail fast instead of reaching out.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	store, err := rawdb.NewBoltDB(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	wdb := NewSqliteWdb(t.TempDir())
	assert.NoError(t, wdb.Migrate())
	t.Cleanup(wdb.Close)

	hot, err := cache.NewLocalCache(time.Minute)
	assert.NoError(t, err)

	queue := NewMemQueue()
	t.Cleanup(func() { queue.Close() })

	return &Gateway{
		store:        store,
		wdb:          wdb,
		queue:        queue,
		peerCli: &PeerClient{
			cli:     goar.NewClient("http://127.0.0.1:1"),
			nodeUrl: "http://127.0.0.1:1",
			httpCli: &http.Client{Timeout: time.Second},
		},
		cache:        &Cache{hot: hot},
		kwriters:     map[string]*KWriter{},
		maxForkDepth: DefaultMaxForkDepth,
	}
}
