package schema

import (
	"errors"
)

var (
	ErrNotExist = errors.New("not_exist_record")
	ErrNotFound = errors.New("not_found")

	ErrForkUnresolved = errors.New("fork_unresolved")

	ErrFetchBlock = errors.New("fetch_block_from_peers")
	ErrFetchTx    = errors.New("fetch_tx_from_peers")
	ErrFetchData  = errors.New("fetch_tx_data_from_peers")
	ErrFetchPrice = errors.New("fetch_price_from_peers")
)
