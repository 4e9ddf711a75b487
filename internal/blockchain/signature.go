package blockchain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Supported chain kinds
const (
	ChainEVM    = "evm"
	ChainSolana = "solana"
)

// ErrBadSignature means the signature does not belong to the address
var ErrBadSignature = errors.New("signature does not match wallet")

// ValidateAddress checks the address format for a chain
func ValidateAddress(chain, address string) error {
	switch chain {
	case ChainEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address %q", address)
		}
	case ChainSolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address %q: %w", address, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
	return nil
}

// NormalizeAddress returns the canonical spelling of an address
func NormalizeAddress(chain, address string) string {
	if chain == ChainEVM && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return strings.TrimSpace(address)
}

// VerifySignature checks a wallet signature over message
func VerifySignature(chain, address, message, signature string) error {
	switch chain {
	case ChainEVM:
		return verifyEVM(address, message, signature)
	case ChainSolana:
		return verifySolana(address, message, signature)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
}

// verifyEVM checks a personal_sign signature (hex, 65 bytes)
func verifyEVM(address, message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return ErrBadSignature
	}
	return nil
}

// verifySolana checks an ed25519 signature (base58, 64 bytes)
func verifySolana(address, message, signature string) error {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}
	raw, err := base58.Decode(signature)
	if err != nil || len(raw) != solana.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if !solana.SignatureFromBytes(raw).Verify(pub, []byte(message)) {
		return ErrBadSignature
	}
	return nil
}
