package argateway

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
	"github.com/stretchr/testify/assert"
)

func TestDataStreamFromStoreCache(t *testing.T) {
	s := newTestGateway(t)

	payload := []byte("cached payload")
	assert.NoError(t, s.store.Put(schema.TxDataBucket, schema.TxDataKey("tx1"), payload, "text/plain"))

	body, size, contentType, err := s.DataStream("tx1")
	assert.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
	assert.Equal(t, "text/plain", contentType)
	got, err := io.ReadAll(body)
	assert.NoError(t, err)
	assert.NoError(t, body.Close())
	assert.Equal(t, payload, got)
}

func TestDataStreamFromLegacyParent(t *testing.T) {
	s := newTestGateway(t)

	itemData := []byte("item payload")
	wrapper := schema.BundleWrapper{Items: []schema.BundleItem{{
		Id:        "item1",
		Owner:     utils.Base64Encode([]byte("owner")),
		Signature: "sig",
		Tags:      []types.Tag{b64Tag("Content-Type", "text/html")},
		Data:      utils.Base64Encode(itemData),
	}}}
	bundleBy, err := json.Marshal(wrapper)
	assert.NoError(t, err)
	assert.NoError(t, s.store.Put(schema.TxDataBucket, schema.TxDataKey("bundle1"), bundleBy, "application/json"))

	// the item row points at its parent, no payload of its own cached
	assert.NoError(t, s.wdb.SaveBundleItems([]schema.Transaction{{
		Id:       "item1",
		Parent:   "bundle1",
		DataSize: int64(len(itemData)),
	}}, nil))

	data, contentType, err := s.GetData("item1")
	assert.NoError(t, err)
	assert.Equal(t, itemData, data)
	assert.Equal(t, "text/html", contentType)
}

func TestDataStreamFromCachedChunks(t *testing.T) {
	s := newTestGateway(t)

	chunkA := []byte("first-chunk-")
	chunkB := []byte("second-chunk")
	dataSize := int64(len(chunkA) + len(chunkB))

	assert.NoError(t, s.wdb.SaveTx(schema.Transaction{
		Id:          "tx1",
		DataRoot:    "root1",
		DataSize:    dataSize,
		ContentType: "application/octet-stream",
	}, nil))
	for _, chunk := range []struct {
		offset int64
		data   []byte
	}{{0, chunkA}, {int64(len(chunkA)), chunkB}} {
		assert.NoError(t, s.store.Put(schema.TxDataBucket, schema.ChunkDataKey("root1", chunk.offset), chunk.data, ""))
		assert.NoError(t, s.wdb.SaveChunk(schema.Chunk{
			DataRoot:  "root1",
			DataSize:  dataSize,
			Offset:    chunk.offset,
			ChunkSize: int64(len(chunk.data)),
		}))
	}

	body, size, contentType, err := s.DataStream("tx1")
	assert.NoError(t, err)
	assert.Equal(t, dataSize, size)
	assert.Equal(t, "application/octet-stream", contentType)
	got, err := io.ReadAll(body)
	assert.NoError(t, err)
	assert.Equal(t, "first-chunk-second-chunk", string(got))
}

func TestDataStreamIncompleteChunksFallThrough(t *testing.T) {
	s := newTestGateway(t)

	assert.NoError(t, s.wdb.SaveTx(schema.Transaction{
		Id:       "tx1",
		DataRoot: "root1",
		DataSize: 100,
	}, nil))
	// only half the bytes are indexed, the tier must not serve a
	// truncated payload; with peers unreachable resolution fails
	assert.NoError(t, s.wdb.SaveChunk(schema.Chunk{
		DataRoot: "root1", DataSize: 100, Offset: 0, ChunkSize: 50,
	}))

	_, _, _, err := s.DataStream("tx1")
	assert.Equal(t, schema.ErrNotFound, err)
}

func TestDataStreamMissingEverywhere(t *testing.T) {
	s := newTestGateway(t)

	_, _, _, err := s.DataStream("unknown")
	assert.Equal(t, schema.ErrNotFound, err)
}

func TestChunkReaderPoisonsOnMissingChunk(t *testing.T) {
	s := newTestGateway(t)

	// index claims two chunks but only the first payload exists
	assert.NoError(t, s.store.Put(schema.TxDataBucket, schema.ChunkDataKey("root1", 0), []byte("abc"), ""))
	reader := &chunkReader{gw: s, dataRoot: "root1", chunks: []schema.Chunk{
		{DataRoot: "root1", DataSize: 6, Offset: 0, ChunkSize: 3},
		{DataRoot: "root1", DataSize: 6, Offset: 3, ChunkSize: 3},
	}}

	buf := make([]byte, 3)
	n, err := reader.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = reader.Read(buf)
	assert.Equal(t, schema.ErrNotExist, err)
	// the failure sticks
	_, err = reader.Read(buf)
	assert.Equal(t, schema.ErrNotExist, err)
}
