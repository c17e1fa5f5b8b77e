package argateway

import (
	"encoding/json"
	"testing"

	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
	"github.com/stretchr/testify/assert"
)

func networkTx(id string, tags ...types.Tag) *types.Transaction {
	return &types.Transaction{
		Format:   2,
		ID:       id,
		Owner:    utils.Base64Encode([]byte("owner-" + id)),
		Target:   "target1",
		Quantity: "0",
		Reward:   "5000",
		LastTx:   "anchor1",
		Tags:     tags,
		DataSize: "1024",
		DataRoot: "root1",
	}
}

func TestHandleImportTxPersistsHeaderAndTags(t *testing.T) {
	s := newTestGateway(t)

	tx := networkTx("tx1", b64Tag("Content-Type", "image/png"), b64Tag("App-Name", "test"))
	assert.NoError(t, s.handleImportTx(schema.ImportTx{Id: "tx1", Tx: tx}))

	got, err := s.wdb.GetTx("tx1")
	assert.NoError(t, err)
	assert.Equal(t, 2, got.Format)
	assert.Equal(t, tx.Owner, got.Owner)
	assert.Equal(t, int64(1024), got.DataSize)
	assert.Equal(t, "root1", got.DataRoot)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Nil(t, got.Height)

	expectedAddr, err := ownerAddress(tx.Owner)
	assert.NoError(t, err)
	assert.Equal(t, expectedAddr, got.OwnerAddress)

	var tagCount int64
	s.wdb.Read.Model(&schema.TagRow{}).Where("tx_id = ?", "tx1").Count(&tagCount)
	assert.Equal(t, int64(2), tagCount)

	// a plain tx queues no bundle import
	assert.Equal(t, 0, s.queue.(*MemQueue).Size(schema.QueueImportBundles))
}

func TestHandleImportTxQueuesBundleImport(t *testing.T) {
	s := newTestGateway(t)

	tx := networkTx("bundle1",
		b64Tag(schema.BundleFormatTag, schema.BundleFormatBinary),
		b64Tag(schema.BundleVersionTag, schema.BundleVersionV2),
	)
	assert.NoError(t, s.handleImportTx(schema.ImportTx{Id: "bundle1", Tx: tx}))

	q := s.queue.(*MemQueue)
	assert.Equal(t, 1, q.Size(schema.QueueImportBundles))
	msg := schema.ImportBundle{}
	assert.NoError(t, json.Unmarshal(<-q.ch(schema.QueueImportBundles), &msg))
	assert.Equal(t, "bundle1", msg.Id)
	assert.NotNil(t, msg.Header)
	assert.Equal(t, "bundle1", msg.Header.ID)
}

func TestHandleImportTxReimportKeepsHeight(t *testing.T) {
	s := newTestGateway(t)

	assert.NoError(t, s.SaveBlocks([]*types.Block{networkBlock("b1", 3, "tx1")}))

	tx := networkTx("tx1")
	assert.NoError(t, s.handleImportTx(schema.ImportTx{Id: "tx1", Tx: tx}))

	got, err := s.wdb.GetTx("tx1")
	assert.NoError(t, err)
	assert.NotNil(t, got.Height)
	assert.Equal(t, int64(3), *got.Height)
	assert.Equal(t, tx.Owner, got.Owner)
}

func TestHandleImportTxSkipsEmptyBundle(t *testing.T) {
	s := newTestGateway(t)

	// bundle tags on a zero-size tx never reach the import queue
	tx := networkTx("empty1",
		b64Tag(schema.BundleFormatTag, schema.BundleFormatJson),
		b64Tag(schema.BundleVersionTag, schema.BundleVersionV1),
	)
	tx.DataSize = "0"
	assert.NoError(t, s.handleImportTx(schema.ImportTx{Id: "empty1", Tx: tx}))
	assert.Equal(t, 0, s.queue.(*MemQueue).Size(schema.QueueImportBundles))
}

func TestIsBundleTx(t *testing.T) {
	jsonTags := []types.Tag{
		b64Tag(schema.BundleFormatTag, schema.BundleFormatJson),
		b64Tag(schema.BundleVersionTag, "1.0.0"),
	}
	assert.True(t, isBundleTx(jsonTags, 1))
	assert.True(t, isBundleTx([]types.Tag{
		b64Tag(schema.BundleFormatTag, schema.BundleFormatJson),
		b64Tag(schema.BundleVersionTag, "1.2.0"),
	}, 1024))
	assert.False(t, isBundleTx(jsonTags, 0))

	binaryTags := []types.Tag{
		b64Tag(schema.BundleFormatTag, schema.BundleFormatBinary),
		b64Tag(schema.BundleVersionTag, schema.BundleVersionV2),
	}
	assert.True(t, isBundleTx(binaryTags, schema.MinBundleBinarySize+1))
	// too small to hold even the preamble
	assert.False(t, isBundleTx(binaryTags, schema.MinBundleBinarySize))

	assert.False(t, isBundleTx([]types.Tag{
		b64Tag(schema.BundleFormatTag, schema.BundleFormatBinary),
		b64Tag(schema.BundleVersionTag, "1.0.0"),
	}, 1024))
	assert.False(t, isBundleTx(nil, 1024))
}
