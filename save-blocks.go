package argateway

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/everFinance/goar/types"
	"github.com/permadata-network/argateway/schema"
	"github.com/tidwall/gjson"
)

// extendedBlockFields are kept on the block row as opaque json, never
// queried. Everything else on a network block is either a first-class
// column or dropped.
var extendedBlockFields = []string{
	"nonce",
	"hash",
	"diff",
	"cumulative_diff",
	"last_retarget",
	"reward_addr",
	"reward_pool",
	"weave_size",
	"block_size",
	"tx_root",
	"tx_tree",
	"wallet_list",
}

func dbBlockFromNetwork(block *types.Block) (schema.Block, error) {
	raw, err := json.Marshal(block)
	if err != nil {
		return schema.Block{}, err
	}
	extended := make(map[string]json.RawMessage, len(extendedBlockFields))
	for _, field := range extendedBlockFields {
		if v := gjson.GetBytes(raw, field); v.Exists() {
			extended[field] = json.RawMessage(v.Raw)
		}
	}
	extendedBy, err := json.Marshal(extended)
	if err != nil {
		return schema.Block{}, err
	}
	txsBy, err := json.Marshal(block.Txs)
	if err != nil {
		return schema.Block{}, err
	}
	return schema.Block{
		Id:            block.IndepHash,
		Height:        block.Height,
		PreviousBlock: block.PreviousBlock,
		MinedAt:       time.Unix(block.Timestamp, 0).UTC(),
		Txs:           txsBy,
		Extended:      extendedBy,
	}, nil
}

// SaveBlocks persists a resolved branch and queues its txs for header
// import. Blocks are applied strictly ascending by height, one db
// transaction per block, whatever order the caller passes them in.
// Every tx of every block is enqueued, already-imported ones included:
// on a fork replacement the winning branch's txs must all be re-run so
// heights and headers land on the surviving blocks. Queueing happens
// after each commit: a crash before it means the next track pass
// re-saves the block and re-enqueues, both idempotent.
func (s *Gateway) SaveBlocks(blocks []*types.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Height < blocks[j].Height
	})
	for _, block := range blocks {
		dbBlock, err := dbBlockFromNetwork(block)
		if err != nil {
			return err
		}
		height := block.Height
		txHeights := make([]schema.TxHeight, 0, len(block.Txs))
		for _, txId := range block.Txs {
			txHeights = append(txHeights, schema.TxHeight{Id: txId, Height: &height})
		}
		if err := s.wdb.SaveBlock(dbBlock, txHeights); err != nil {
			return err
		}
		metricBlocksSaved(1)

		for _, txId := range block.Txs {
			body, err := json.Marshal(schema.ImportTx{Id: txId})
			if err != nil {
				return err
			}
			if err := s.queue.Enqueue(schema.QueueImportTxs, body, &EnqueueOptions{GroupId: txId}); err != nil {
				log.Error("enqueue tx import failed", "txId", txId, "err", err)
				return err
			}
		}
		metricTxsQueued(len(block.Txs))
		s.publishBlockEvent(block)
	}
	log.Info("saved blocks", "from", blocks[0].Height, "to", blocks[len(blocks)-1].Height, "count", len(blocks))
	return nil
}

func (s *Gateway) publishBlockEvent(block *types.Block) {
	kw, ok := s.kwriters[BlockTopic]
	if !ok {
		return
	}
	body, err := json.Marshal(block)
	if err != nil {
		return
	}
	if err := kw.Write(body); err != nil {
		log.Warn("publish block event failed", "block", block.IndepHash, "err", err)
	}
}

// TrackChain polls the network tip and imports whatever branch it sits
// on. The recent window bounds fork resolution; anything reconnecting
// deeper than maxForkDepth is dropped and logged.
func (s *Gateway) TrackChain() error {
	info, err := s.peerCli.GetInfo()
	if err != nil {
		return err
	}
	s.cache.UpdateInfo(*info)

	latest, err := s.wdb.GetLatestBlock()
	if err == nil && latest.Id == info.Current {
		return nil
	}

	tip, err := s.peerCli.GetBlockByHash(info.Current)
	if err != nil {
		return err
	}

	recent, err := s.wdb.GetRecentBlocks(schema.RecentChainWindow)
	if err != nil {
		return err
	}
	knownIds := make(map[string]bool, len(recent))
	for _, b := range recent {
		knownIds[b.Id] = true
	}

	fork, err := resolveFork(tip, knownIds, s.maxForkDepth, s.peerCli.GetBlockByHash)
	if err != nil {
		return err
	}
	return s.SaveBlocks(fork)
}
