package argateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/everFinance/goar/types"
	"github.com/permadata-network/argateway/schema"
)

// OnImportTx is the import-txs queue handler.
func (s *Gateway) OnImportTx(ctx context.Context, body []byte) error {
	msg := schema.ImportTx{}
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("bad import-txs message", "err", err, "body", string(body))
		// drop it, redelivery cannot fix a malformed body
		return nil
	}
	return s.handleImportTx(msg)
}

func (s *Gateway) handleImportTx(msg schema.ImportTx) error {
	tx := msg.Tx
	if tx == nil {
		var err error
		tx, err = s.peerCli.GetUnconfirmedTx(msg.Id)
		if err != nil {
			log.Warn("fetch tx header failed", "txId", msg.Id, "err", err)
			return err
		}
	}

	dbTx, tagRows, err := dbTxFromNetwork(tx)
	if err != nil {
		return err
	}
	if err := s.wdb.SaveTx(dbTx, tagRows); err != nil {
		return err
	}
	metricTxImported()

	if isBundleTx(tx.Tags, dbTx.DataSize) {
		body, err := json.Marshal(schema.ImportBundle{Id: tx.ID, Header: tx})
		if err != nil {
			return err
		}
		if err := s.queue.Enqueue(schema.QueueImportBundles, body, &EnqueueOptions{GroupId: tx.ID}); err != nil {
			return err
		}
		log.Debug("queued bundle import", "txId", tx.ID)
	}
	return nil
}

func dbTxFromNetwork(tx *types.Transaction) (schema.Transaction, []schema.TagRow, error) {
	ownerAddr, err := ownerAddress(tx.Owner)
	if err != nil {
		return schema.Transaction{}, nil, err
	}
	tagsBy, err := json.Marshal(tx.Tags)
	if err != nil {
		return schema.Transaction{}, nil, err
	}
	dataSize, _ := strconv.ParseInt(tx.DataSize, 10, 64)

	dbTx := schema.Transaction{
		Id:           tx.ID,
		Format:       tx.Format,
		Signature:    tx.Signature,
		Owner:        tx.Owner,
		OwnerAddress: ownerAddr,
		Target:       tx.Target,
		Quantity:     tx.Quantity,
		Reward:       tx.Reward,
		LastTx:       tx.LastTx,
		Tags:         tagsBy,
		DataSize:     dataSize,
		DataRoot:     tx.DataRoot,
		ContentType:  getTagValue(tx.Tags, schema.ContentTypeTag),
	}
	return dbTx, tagsToRows(tx.ID, tx.Tags), nil
}

// isBundleTx detects both bundle wire formats from the header tags:
// the binary 2.0.0 format and the legacy json 1.x one. A payload too
// small to hold the claimed format is not a bundle no matter what the
// tags say.
func isBundleTx(tags []types.Tag, dataSize int64) bool {
	format := getTagValue(tags, schema.BundleFormatTag)
	version := getTagValue(tags, schema.BundleVersionTag)
	switch format {
	case schema.BundleFormatBinary:
		return dataSize > schema.MinBundleBinarySize && version == schema.BundleVersionV2
	case schema.BundleFormatJson:
		return dataSize > 0 && strings.HasPrefix(version, "1.")
	}
	return false
}
