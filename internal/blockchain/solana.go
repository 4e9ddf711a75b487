package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
)

const signaturePage = 500

// SolanaSource reads SPL token transfers into the custodial owner's token
// accounts. Slots stand in for block heights.
type SolanaSource struct {
	client         *rpc.Client
	mint           solana.PublicKey
	custody        solana.PublicKey
	ledgerDecimals int32
	commitment     rpc.CommitmentType
}

// NewSolanaSource creates a source for the given RPC endpoint
func NewSolanaSource(rpcURL, mint, custody string, ledgerDecimals int32) (*SolanaSource, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	custodyKey, err := solana.PublicKeyFromBase58(custody)
	if err != nil {
		return nil, fmt.Errorf("invalid custodial address: %w", err)
	}
	return &SolanaSource{
		client:         rpc.New(rpcURL),
		mint:           mintKey,
		custody:        custodyKey,
		ledgerDecimals: ledgerDecimals,
		commitment:     rpc.CommitmentConfirmed,
	}, nil
}

func (s *SolanaSource) Head(ctx context.Context) (uint64, error) {
	return s.client.GetSlot(ctx, s.commitment)
}

func (s *SolanaSource) Transfers(ctx context.Context, from, to uint64) ([]Transfer, error) {
	accounts, err := s.tokenAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var out []Transfer
	seen := make(map[solana.Signature]bool)
	for _, account := range accounts {
		sigs, err := s.signaturesInRange(ctx, account, from, to)
		if err != nil {
			return nil, err
		}
		for _, sig := range sigs {
			if seen[sig] {
				continue
			}
			seen[sig] = true
			t, err := s.transfer(ctx, sig)
			if err != nil {
				return nil, err
			}
			if t != nil {
				out = append(out, *t)
			}
		}
	}
	return out, nil
}

// signaturesInRange pages back from the newest signature until it passes from
func (s *SolanaSource) signaturesInRange(ctx context.Context, account solana.PublicKey, from, to uint64) ([]solana.Signature, error) {
	var (
		out       []solana.Signature
		before    solana.Signature
		hasBefore bool
	)
	limit := signaturePage
	for {
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit, Commitment: s.commitment}
		if hasBefore {
			opts.Before = before
		}
		page, err := s.client.GetSignaturesForAddressWithOpts(ctx, account, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list signatures for %s: %w", account, err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for _, info := range page {
			if info.Slot < from {
				return out, nil
			}
			if info.Slot <= to && info.Err == nil {
				out = append(out, info.Signature)
			}
		}
		before = page[len(page)-1].Signature
		hasBefore = true
	}
}

// transfer computes the net amount the custodial owner received in a
// transaction from its token balance changes
func (s *SolanaSource) transfer(ctx context.Context, sig solana.Signature) (*Transfer, error) {
	version := uint64(0)
	tx, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.commitment,
		MaxSupportedTransactionVersion: &version,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return nil, nil
	}

	pre := make(map[uint16]rpc.TokenBalance)
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Mint == s.mint {
			pre[b.AccountIndex] = b
		}
	}

	var (
		received *uint256.Int
		decimals uint8
		sender   string
	)
	for _, post := range tx.Meta.PostTokenBalances {
		if post.Mint != s.mint || post.Owner == nil {
			continue
		}
		before, hadBefore := pre[post.AccountIndex]
		after := rawAmount(post.UiTokenAmount)
		prior := uint256.NewInt(0)
		if hadBefore {
			prior = rawAmount(before.UiTokenAmount)
		}

		if *post.Owner == s.custody {
			if after.Gt(prior) {
				received = new(uint256.Int).Sub(after, prior)
				decimals = post.UiTokenAmount.Decimals
			}
		} else if after.Lt(prior) {
			sender = post.Owner.String()
		}
	}
	if received == nil {
		return nil, nil
	}

	amount, err := ScaleToLedger(received, int32(decimals), s.ledgerDecimals)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		TxHash:      sig.String(),
		BlockHeight: tx.Slot,
		From:        sender,
		To:          s.custody.String(),
		Amount:      amount,
	}, nil
}

func (s *SolanaSource) Lookup(ctx context.Context, txHash string) (*Transfer, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", txHash, err)
	}
	status, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", txHash, err)
	}
	if len(status.Value) == 0 || status.Value[0] == nil || status.Value[0].Err != nil {
		return nil, nil
	}
	return s.transfer(ctx, sig)
}

func (s *SolanaSource) CustodyBalance(ctx context.Context) (int64, error) {
	resp, err := s.client.GetTokenAccountsByOwner(
		ctx,
		s.custody,
		&rpc.GetTokenAccountsConfig{Mint: &s.mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: s.commitment},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get token accounts: %w", err)
	}

	total := uint256.NewInt(0)
	for _, account := range resp.Value {
		var tokenAccount token.Account
		if err := tokenAccount.UnmarshalWithDecoder(bin.NewBinDecoder(account.Account.Data.GetBinary())); err != nil {
			log.Printf("[SolanaSource] failed to decode token account %s: %v", account.Pubkey, err)
			continue
		}
		total.Add(total, uint256.NewInt(tokenAccount.Amount))
	}

	decimals, err := s.mintDecimals(ctx)
	if err != nil {
		return 0, err
	}
	return ScaleToLedger(total, decimals, s.ledgerDecimals)
}

func (s *SolanaSource) tokenAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	resp, err := s.client.GetTokenAccountsByOwner(
		ctx,
		s.custody,
		&rpc.GetTokenAccountsConfig{Mint: &s.mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: s.commitment},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get token accounts: %w", err)
	}
	out := make([]solana.PublicKey, 0, len(resp.Value))
	for _, it := range resp.Value {
		out = append(out, it.Pubkey)
	}
	return out, nil
}

func (s *SolanaSource) mintDecimals(ctx context.Context) (int32, error) {
	supply, err := s.client.GetTokenSupply(ctx, s.mint, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get mint decimals: %w", err)
	}
	return int32(supply.Value.Decimals), nil
}

func rawAmount(ui *rpc.UiTokenAmount) *uint256.Int {
	if ui == nil {
		return uint256.NewInt(0)
	}
	v, err := uint256.FromDecimal(ui.Amount)
	if err != nil {
		return uint256.NewInt(0)
	}
	return v
}
