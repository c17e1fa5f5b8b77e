package argateway

import (
	"crypto/sha256"
	"strings"
	"unicode/utf8"

	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
)

// getTagValue returns the decoded value of the named tag. Tag names and
// values are stored base64url-encoded; undecodable bytes are treated as
// if the tag were absent.
func getTagValue(tags []types.Tag, name string) string {
	for _, tg := range tags {
		nameBy, err := utils.Base64Decode(tg.Name)
		if err != nil {
			continue
		}
		if strings.EqualFold(string(nameBy), name) {
			valBy, err := utils.Base64Decode(tg.Value)
			if err != nil {
				return ""
			}
			return string(valBy)
		}
	}
	return ""
}

// utf8DecodeTag decodes one base64url tag pair. A side that is not
// valid UTF-8 after decoding comes back empty rather than poisoning the
// index with binary garbage.
func utf8DecodeTag(tag types.Tag) (name, value string) {
	if nameBy, err := utils.Base64Decode(tag.Name); err == nil && utf8.Valid(nameBy) {
		name = string(nameBy)
	}
	if valBy, err := utils.Base64Decode(tag.Value); err == nil && utf8.Valid(valBy) {
		value = string(valBy)
	}
	return
}

// encodeTags converts plain-text tag pairs to the base64url convention
// used everywhere else in the store. The binary bundle indexer yields
// raw tag bytes, everything downstream expects encoded ones.
func encodeTags(tags []types.Tag) []types.Tag {
	encoded := make([]types.Tag, 0, len(tags))
	for _, tg := range tags {
		encoded = append(encoded, types.Tag{
			Name:  utils.Base64Encode([]byte(tg.Name)),
			Value: utils.Base64Encode([]byte(tg.Value)),
		})
	}
	return encoded
}

// ownerAddress derives the canonical address from a base64url owner key.
func ownerAddress(owner string) (string, error) {
	ownerBy, err := utils.Base64Decode(owner)
	if err != nil {
		return "", err
	}
	addr := sha256.Sum256(ownerBy)
	return utils.Base64Encode(addr[:]), nil
}

// tagsToRows converts a header's tags to indexable rows. Pairs whose
// decoded size exceeds the store's index key bound are dropped from the
// index; the full tag list stays on the header blob either way.
func tagsToRows(txId string, tags []types.Tag) []schema.TagRow {
	rows := make([]schema.TagRow, 0, len(tags))
	for i, tg := range tags {
		name, value := utf8DecodeTag(tg)
		if len(name)+len(value) >= schema.MaxTagIndexBytes {
			log.Warn("tag exceeds index key bound, not indexed", "txId", txId, "index", i)
			continue
		}
		rows = append(rows, schema.TagRow{
			TxId:  txId,
			Index: i,
			Name:  name,
			Value: value,
		})
	}
	return rows
}
