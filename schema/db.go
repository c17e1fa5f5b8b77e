package schema

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// MaxTagIndexBytes is the relational store's index key-size limit for
	// one decoded tag pair; pairs at or above it are kept on the header
	// blob but never indexed.
	MaxTagIndexBytes = 2712

	// HeightBatch bounds how many tx height backfill rows go into one
	// upsert statement inside a block transaction.
	HeightBatch = 10

	RecentChainWindow = 400
)

// Block is the canonical chain row. Height is the conflict key: a
// forked-out block is overwritten by the replacement at its height, the
// two never sit side by side.
type Block struct {
	Id            string         `gorm:"size:64;index" json:"id"`
	Height        int64          `gorm:"primaryKey;autoIncrement:false" json:"height"`
	PreviousBlock string         `gorm:"size:64" json:"previousBlock"`
	MinedAt       time.Time      `json:"minedAt"`
	Txs           datatypes.JSON `json:"txs"`      // ordered tx id list
	Extended      datatypes.JSON `json:"extended"` // fields we keep but never query
}

// Transaction is an indexed tx header. Height stays null until the
// containing block is persisted; that transition is the whole
// pending/confirmed distinction, there is no status column. Parent is
// set only for bundle-contained items.
type Transaction struct {
	Id           string         `gorm:"primaryKey;size:64" json:"id"`
	Height       *int64         `gorm:"index" json:"height"`
	Parent       string         `gorm:"size:64;index" json:"parent"`
	Format       int            `json:"format"`
	Signature    string         `json:"signature"`
	Owner        string         `json:"owner"`
	OwnerAddress string         `gorm:"size:64;index" json:"ownerAddress"`
	Target       string         `gorm:"size:64;index" json:"target"`
	Quantity     string         `json:"quantity"`
	Reward       string         `json:"reward"`
	LastTx       string         `json:"lastTx"`
	Tags         datatypes.JSON `json:"tags"`
	DataSize     int64          `json:"dataSize"`
	DataRoot     string         `gorm:"size:64;index" json:"dataRoot"`
	ContentType  string         `json:"contentType"`
}

// TxHeight is the projection block persistence writes. It shares the
// transactions table so a bare {id, height} upsert backfills the
// confirmed height without touching the header columns.
type TxHeight struct {
	Id     string `gorm:"primaryKey;size:64" json:"id"`
	Height *int64 `json:"height"`
}

func (TxHeight) TableName() string {
	return "transactions"
}

// TagRow is one decoded, indexable tag pair of a transaction.
type TagRow struct {
	TxId  string `gorm:"primaryKey;size:64;column:tx_id" json:"txId"`
	Index int    `gorm:"primaryKey;autoIncrement:false" json:"index"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (TagRow) TableName() string {
	return "tags"
}

// Chunk records one cached byte range of a transaction's payload. The
// payload is fully cached iff sum(chunk_size) over its data_root equals
// data_size.
type Chunk struct {
	DataRoot  string `gorm:"primaryKey;size:64" json:"dataRoot"`
	DataSize  int64  `gorm:"primaryKey;autoIncrement:false" json:"dataSize"`
	Offset    int64  `gorm:"primaryKey;autoIncrement:false" json:"offset"`
	ChunkSize int64  `json:"chunkSize"`
}

const (
	BundlePending  = "pending"
	BundleComplete = "complete"
	BundleError    = "error"
	BundleInvalid  = "invalid"
)

// BundleStatus tracks one bundle import. complete and invalid are
// terminal; error becomes terminal once attempts pass MaxRetry.
type BundleStatus struct {
	Id         string         `gorm:"primaryKey;size:64" json:"id"`
	Status     string         `gorm:"size:16;index" json:"status"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error"`
	BundleMeta datatypes.JSON `json:"bundleMeta"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
