package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
)

// ErrManualPayout means payments are executed by an operator
var ErrManualPayout = errors.New("payouts are executed manually")

// Payer sends a withdrawal to a wallet and returns the transaction hash
type Payer interface {
	Pay(ctx context.Context, to string, amount int64) (string, error)
}

// ManualPayer leaves every payment to an operator
type ManualPayer struct{}

func (ManualPayer) Pay(ctx context.Context, to string, amount int64) (string, error) {
	return "", ErrManualPayout
}

// SolanaPayer sends SPL token transfers from the hot wallet
type SolanaPayer struct {
	client         *rpc.Client
	wallet         *solana.Wallet
	mint           solana.PublicKey
	tokenDecimals  int32
	ledgerDecimals int32
}

// NewSolanaPayer loads the hot wallet from a base58 private key
func NewSolanaPayer(rpcURL, privateKey, mint string, tokenDecimals, ledgerDecimals int32) (*SolanaPayer, error) {
	wallet, err := solana.WalletFromPrivateKeyBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load hot wallet: %w", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	log.Printf("[SolanaPayer] hot wallet loaded: %s", wallet.PublicKey())
	return &SolanaPayer{
		client:         rpc.New(rpcURL),
		wallet:         wallet,
		mint:           mintKey,
		tokenDecimals:  tokenDecimals,
		ledgerDecimals: ledgerDecimals,
	}, nil
}

func (p *SolanaPayer) Pay(ctx context.Context, to string, amount int64) (string, error) {
	owner, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid destination: %w", err)
	}
	raw, err := ScaleToChain(amount, p.tokenDecimals, p.ledgerDecimals)
	if err != nil {
		return "", err
	}

	payer := p.wallet.PublicKey()
	source, _, err := solana.FindAssociatedTokenAddress(payer, p.mint)
	if err != nil {
		return "", err
	}
	dest, _, err := solana.FindAssociatedTokenAddress(owner, p.mint)
	if err != nil {
		return "", err
	}

	var instructions []solana.Instruction
	if _, err := p.client.GetAccountInfo(ctx, dest); errors.Is(err, rpc.ErrNotFound) {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(payer, owner, p.mint).Build())
	} else if err != nil {
		return "", fmt.Errorf("failed to look up destination account: %w", err)
	}
	instructions = append(instructions, token.NewTransferCheckedInstruction(
		raw, uint8(p.tokenDecimals), source, p.mint, dest, payer, []solana.PublicKey{},
	).Build())

	recent, err := p.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &p.wallet.PrivateKey
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := p.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

// ScaleToChain converts ledger minor units to a raw token amount
func ScaleToChain(amount int64, chainDecimals, ledgerDecimals int32) (uint64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	v := uint256.NewInt(uint64(amount))
	switch {
	case chainDecimals > ledgerDecimals:
		if _, overflow := v.MulOverflow(v, pow10(chainDecimals-ledgerDecimals)); overflow {
			return 0, fmt.Errorf("amount %d overflows", amount)
		}
	case chainDecimals < ledgerDecimals:
		v.Div(v, pow10(ledgerDecimals-chainDecimals))
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("amount %d exceeds token range", amount)
	}
	return v.Uint64(), nil
}
