package schema

import (
	"fmt"
)

var (
	// TxDataBucket holds whole payloads under tx/{id} and chunk payloads
	// under chunks/{root}/{offset}.
	TxDataBucket = "tx-data"

	AllBuckets = []string{TxDataBucket}
)

func TxDataKey(id string) string {
	return "tx/" + id
}

func ChunkDataKey(root string, offset int64) string {
	return fmt.Sprintf("chunks/%s/%d", root, offset)
}
