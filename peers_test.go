package argateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
	"github.com/stretchr/testify/assert"
)

func newTestPeerNode(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/tx/tx01/offset", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"size":"262144","offset":"1048575"}`))
	})
	mux.HandleFunc("/chunk/786432", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chunk":"` + utils.Base64Encode([]byte("chunk-bytes")) + `","data_path":"","tx_path":""}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPeerClientGetTxOffset(t *testing.T) {
	srv := newTestPeerNode(t)
	p := NewPeerClient(srv.URL)

	offset, err := p.GetTxOffset("tx01")
	assert.NoError(t, err)
	assert.Equal(t, "262144", offset.Size)
	assert.Equal(t, "1048575", offset.Offset)

	_, err = p.GetTxOffset("missing")
	assert.Equal(t, schema.ErrFetchData, err)
}

func TestPeerClientGetChunkData(t *testing.T) {
	srv := newTestPeerNode(t)
	p := NewPeerClient(srv.URL)

	data, err := p.GetChunkData(786432)
	assert.NoError(t, err)
	assert.Equal(t, []byte("chunk-bytes"), data)

	_, err = p.GetChunkData(42)
	assert.Equal(t, schema.ErrFetchData, err)
}
