package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the read side of the chain used by the scanner.
type Reader interface {
	// LatestBlock returns the current head block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// FilterLogs returns logs emitted by address with topic0 in [from, to].
	FilterLogs(ctx context.Context, address string, topic common.Hash, from, to uint64) ([]types.Log, error)

	// BlockTimestamp returns the timestamp of a block.
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
}

// TokenTransferer pays out a fungible token.
type TokenTransferer interface {
	// Transfer sends amount to the recipient and blocks until the transfer is
	// confirmed. It returns the transaction hash.
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}
