package rawdb

import (
	"io"

	"github.com/permadata-network/argateway/common"
)

var log = common.NewLog("rawdb")

// KeyValueDB is the object store behind the data cascade. Every backend
// keeps the object's content type next to its bytes so cached payloads
// can be served back with the type they were resolved with.
type KeyValueDB interface {
	Put(bucket, key string, value []byte, contentType string) (err error)

	PutStream(bucket, key string, value io.Reader, contentType string) (err error)

	Get(bucket, key string) (data []byte, contentType string, err error)

	// GetStream returns the object body as a reader plus its size and
	// content type. The caller owns closing the reader.
	GetStream(bucket, key string) (body io.ReadCloser, size int64, contentType string, err error)

	// GetRange reads the byte range [start, end] inclusive.
	GetRange(bucket, key string, start, end int64) (data []byte, err error)

	Head(bucket, key string) (size int64, contentType string, err error)

	Exist(bucket, key string) bool

	GetAllKey(bucket string) (keys []string, err error)

	Delete(bucket, key string) (err error)

	Close() (err error)

	Type() string
}
