package schema

import (
	"github.com/everFinance/goar/types"
)

const (
	QueueImportTxs     = "import-txs"
	QueueImportBundles = "import-bundles"
)

// ImportTx asks the tx importer to index a header. Either the id alone
// (header fetched from peers) or the full header is carried.
type ImportTx struct {
	Id string             `json:"id"`
	Tx *types.Transaction `json:"tx,omitempty"`
}

// ImportBundle asks the bundle importer to decompose a bundle tx.
type ImportBundle struct {
	Id     string             `json:"id"`
	Header *types.Transaction `json:"header,omitempty"`
}
