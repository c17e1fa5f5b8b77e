package argateway

import (
	"strings"
	"testing"

	"github.com/everFinance/goar/types"
	"github.com/everFinance/goar/utils"
	"github.com/permadata-network/argateway/schema"
	"github.com/stretchr/testify/assert"
)

func b64Tag(name, value string) types.Tag {
	return types.Tag{
		Name:  utils.Base64Encode([]byte(name)),
		Value: utils.Base64Encode([]byte(value)),
	}
}

func TestGetTagValue(t *testing.T) {
	tags := []types.Tag{
		b64Tag("Content-Type", "text/html"),
		b64Tag("App-Name", "argateway"),
	}
	assert.Equal(t, "text/html", getTagValue(tags, "Content-Type"))
	// tag name matching is case-insensitive
	assert.Equal(t, "text/html", getTagValue(tags, "content-type"))
	assert.Equal(t, "", getTagValue(tags, "Bundle-Format"))

	// undecodable name is skipped, not fatal
	tags = append([]types.Tag{{Name: "!!!not-base64url!!!", Value: "x"}}, tags...)
	assert.Equal(t, "argateway", getTagValue(tags, "App-Name"))
}

func TestUtf8DecodeTagDropsInvalid(t *testing.T) {
	name, value := utf8DecodeTag(b64Tag("App-Name", "argateway"))
	assert.Equal(t, "App-Name", name)
	assert.Equal(t, "argateway", value)

	// invalid utf8 on one side empties just that side
	badValue := types.Tag{
		Name:  utils.Base64Encode([]byte("App-Name")),
		Value: utils.Base64Encode([]byte{0xff, 0xfe, 0xfd}),
	}
	name, value = utf8DecodeTag(badValue)
	assert.Equal(t, "App-Name", name)
	assert.Equal(t, "", value)
}

func TestEncodeTagsRoundTrip(t *testing.T) {
	plain := []types.Tag{{Name: "Content-Type", Value: "image/png"}}
	encoded := encodeTags(plain)
	assert.Equal(t, "image/png", getTagValue(encoded, "Content-Type"))
}

func TestOwnerAddress(t *testing.T) {
	owner := utils.Base64Encode([]byte("test-owner-key"))
	addr, err := ownerAddress(owner)
	assert.NoError(t, err)
	// sha256 digest, base64url encoded without padding
	assert.Equal(t, 43, len(addr))
	assert.False(t, strings.ContainsAny(addr, "+/="))

	_, err = ownerAddress("!!!not-base64url!!!")
	assert.Error(t, err)
}

func TestTagsToRowsBoundsIndexSize(t *testing.T) {
	// name+value exactly at the bound is already too big
	atBound := strings.Repeat("v", schema.MaxTagIndexBytes-4)
	underBound := strings.Repeat("v", schema.MaxTagIndexBytes-5)
	tags := []types.Tag{
		b64Tag("small", "value"),
		b64Tag("huge", atBound),
		b64Tag("also-small", "value2"),
		b64Tag("just", underBound),
	}
	rows := tagsToRows("tx1", tags)
	assert.Len(t, rows, 3)
	assert.Equal(t, "small", rows[0].Name)
	assert.Equal(t, 0, rows[0].Index)
	// the dropped pair keeps its slot, indexes are positional
	assert.Equal(t, "also-small", rows[1].Name)
	assert.Equal(t, 2, rows[1].Index)
	assert.Equal(t, "tx1", rows[1].TxId)
	assert.Equal(t, "just", rows[2].Name)
	assert.Equal(t, 3, rows[2].Index)
}
