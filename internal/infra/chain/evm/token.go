package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrTransferReverted is returned when a transfer is mined with a failed status.
var ErrTransferReverted = errors.New("transfer reverted")

const erc20TransferABI = `[{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// Backend is what a token needs from the chain to send and confirm transfers.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TokenConfig holds the payout token settings.
type TokenConfig struct {
	Address        string
	SignerKey      string
	ChainID        *big.Int
	ConfirmTimeout time.Duration
}

// Token sends ERC-20 transfers from a treasury key.
type Token struct {
	backend        Backend
	contract       *bind.BoundContract
	opts           *bind.TransactOpts
	confirmTimeout time.Duration
	log            *slog.Logger

	// Serializes nonce assignment for the treasury account.
	mu sync.Mutex
}

// NewToken binds an ERC-20 contract with a signing key.
func NewToken(backend Backend, cfg TokenConfig) (*Token, error) {
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("invalid token address %q", cfg.Address)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token abi: %w", err)
	}
	address := common.HexToAddress(cfg.Address)
	contract := bind.NewBoundContract(address, parsed, backend, backend, backend)

	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Token{
		backend:        backend,
		contract:       contract,
		opts:           opts,
		confirmTimeout: timeout,
		log: slog.Default().With(
			"component", "token",
			"token", strings.ToLower(address.Hex()),
			"treasury", strings.ToLower(opts.From.Hex()),
		),
	}, nil
}

// Transfer submits transfer(to, amount) and waits for the receipt.
func (t *Token) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("invalid amount %v", amount)
	}

	t.mu.Lock()
	opts := *t.opts
	opts.Context = ctx
	tx, err := t.contract.Transact(&opts, "transfer", common.HexToAddress(to), amount)
	t.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	t.log.Info("Transfer submitted", "tx", tx.Hash().Hex(), "to", strings.ToLower(to), "amount", amount.String())

	waitCtx, cancel := context.WithTimeout(ctx, t.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, t.backend, tx)
	if err != nil {
		return "", fmt.Errorf("confirm %s: %w", tx.Hash().Hex(), err)
	}
	if err := checkReceipt(receipt); err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func checkReceipt(receipt *types.Receipt) error {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s in block %v", ErrTransferReverted, receipt.TxHash.Hex(), receipt.BlockNumber)
	}
	return nil
}
