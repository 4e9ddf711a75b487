// Package blockchain reads custodial deposits from a chain and verifies
// wallet signatures.
package blockchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrUnsupportedChain is returned for an unknown chain kind
var ErrUnsupportedChain = errors.New("unsupported chain")

// Transfer is one token transfer into the custodial address, in ledger
// minor units. TxHash is unique per transfer, not per transaction.
type Transfer struct {
	TxHash      string
	BlockHeight uint64
	BlockHash   string
	From        string
	To          string
	Amount      int64
}

// Source is a read-only view of the chain the indexer scans
type Source interface {
	// Head returns the latest block height
	Head(ctx context.Context) (uint64, error)
	// Transfers returns custodial transfers in [from, to]
	Transfers(ctx context.Context, from, to uint64) ([]Transfer, error)
	// Lookup returns the transfer as currently seen on the canonical chain,
	// or nil if it is not there
	Lookup(ctx context.Context, txHash string) (*Transfer, error)
	// CustodyBalance returns the custodial token balance in minor units
	CustodyBalance(ctx context.Context) (int64, error)
}

// ScaleToLedger converts a raw token amount to ledger minor units,
// truncating precision the ledger does not carry
func ScaleToLedger(raw *uint256.Int, chainDecimals, ledgerDecimals int32) (int64, error) {
	v := new(uint256.Int).Set(raw)
	switch {
	case chainDecimals > ledgerDecimals:
		v.Div(v, pow10(chainDecimals-ledgerDecimals))
	case chainDecimals < ledgerDecimals:
		if _, overflow := v.MulOverflow(v, pow10(ledgerDecimals-chainDecimals)); overflow {
			return 0, fmt.Errorf("amount %s overflows", raw.Dec())
		}
	}
	if !v.IsUint64() || v.Uint64() > 1<<62 {
		return 0, fmt.Errorf("amount %s exceeds ledger range", raw.Dec())
	}
	return int64(v.Uint64()), nil
}

func pow10(n int32) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
