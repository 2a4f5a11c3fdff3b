package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sethvargo/go-retry"
)

// Config holds the RPC connection settings.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	// MaxRetries bounds retries of a single read call; 0 uses the default.
	MaxRetries uint64
}

// Client is a thin ethclient wrapper with per-call timeouts and bounded retries.
type Client struct {
	eth        *ethclient.Client
	timeout    time.Duration
	maxRetries uint64
	log        *slog.Logger
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Client{
		eth:        eth,
		timeout:    timeout,
		maxRetries: maxRetries,
		log:        slog.Default().With("component", "evm_client"),
	}, nil
}

// Eth exposes the underlying client for contract bindings.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call runs fn with a per-attempt timeout and exponential backoff between attempts.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(500*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		c.log.Debug("RPC call failed", "method", method, "attempt", attempt, "error", err)
		return retry.RetryableError(fmt.Errorf("%s: %w", method, err))
	})
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "eth_chainId", func(ctx context.Context) error {
		var err error
		id, err = c.eth.ChainID(ctx)
		return err
	})
	return id, err
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// FilterLogs returns logs emitted by address with the given topic0 in [from, to].
func (c *Client) FilterLogs(
	ctx context.Context,
	address string,
	topic common.Hash,
	from, to uint64,
) ([]types.Log, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(address)},
		Topics:    [][]common.Hash{{topic}},
	}

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// BlockTimestamp returns the timestamp of a block.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}
