package schema

import (
	"github.com/everFinance/goar/types"
)

const (
	ContentTypeTag   = "Content-Type"
	BundleFormatTag  = "Bundle-Format"
	BundleVersionTag = "Bundle-Version"

	BundleFormatBinary = "binary"
	BundleVersionV2    = "2.0.0"
	BundleFormatJson   = "json"
	BundleVersionV1    = "1.0.0"

	// MinBundleBinarySize is the smallest byte length a binary bundle can
	// have (item count word plus one entry); anything shorter cannot be a
	// bundle no matter what its tags claim.
	MinBundleBinarySize = 80

	MaxRetry            = 9
	RetryBackoffSeconds = 60
	MaxBackoffSeconds   = 150

	// ItemExtractPool bounds the fan-out while item payloads are copied
	// out of a bundle; ItemPersistBatch bounds rows per metadata upsert.
	ItemExtractPool  = 50
	ItemPersistBatch = 100
)

// BundleItem is one decoded sub-transaction of a bundle, normalized to
// the store's base64url tag convention regardless of wire format.
// DataOffset is the payload's absolute offset inside the bundle binary
// and is set for the binary format only; the legacy format carries the
// payload inline in Data.
type BundleItem struct {
	Id         string      `json:"id"`
	Owner      string      `json:"owner"`
	Target     string      `json:"target"`
	Signature  string      `json:"signature"`
	Anchor     string      `json:"nonce"`
	Tags       []types.Tag `json:"tags"`
	Data       string      `json:"data"`
	DataOffset int64       `json:"dataOffset"`
	DataSize   int64       `json:"dataSize"`
}

// BundleWrapper is the legacy JSON bundle envelope.
type BundleWrapper struct {
	Items []BundleItem `json:"items"`
}
