package blockchain

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
)

func TestVerifyEVMSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message := "Sign in to crash\nnonce: abc"

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatal(err)
	}
	sig[crypto.RecoveryIDOffset] += 27 // wallets return v in {27, 28}

	if err := VerifySignature(ChainEVM, address, message, hexutil.Encode(sig)); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(ChainEVM, address, message+"!", hexutil.Encode(sig)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for altered message, got %v", err)
	}
	if err := VerifySignature(ChainEVM, address, message, "0x1234"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for short signature, got %v", err)
	}
}

func TestVerifySolanaSignature(t *testing.T) {
	wallet := solana.NewWallet()
	message := "Sign in to crash\nnonce: xyz"
	sig := ed25519.Sign(ed25519.PrivateKey(wallet.PrivateKey), []byte(message))
	address := wallet.PublicKey().String()

	if err := VerifySignature(ChainSolana, address, message, base58.Encode(sig)); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	other := solana.NewWallet().PublicKey().String()
	if err := VerifySignature(ChainSolana, other, message, base58.Encode(sig)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature for other key, got %v", err)
	}
}

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		chain, address string
		ok             bool
	}{
		{ChainEVM, "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{ChainEVM, "0x1234", false},
		{ChainSolana, "11111111111111111111111111111111", true},
		{ChainSolana, "0OIl", false},
		{"bitcoin", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", false},
	}
	for _, tc := range cases {
		if err := ValidateAddress(tc.chain, tc.address); (err == nil) != tc.ok {
			t.Errorf("ValidateAddress(%s, %s) = %v", tc.chain, tc.address, err)
		}
	}
}

func TestScaleToLedger(t *testing.T) {
	raw := uint256.MustFromDecimal("1500000000000000000") // 1.5 with 18 decimals
	got, err := ScaleToLedger(raw, 18, 6)
	if err != nil || got != 1_500_000 {
		t.Errorf("expected 1500000, got %d (%v)", got, err)
	}
	got, err = ScaleToLedger(uint256.NewInt(15), 1, 6)
	if err != nil || got != 1_500_000 {
		t.Errorf("expected 1500000 when scaling up, got %d (%v)", got, err)
	}
	if got, _ := ScaleToLedger(uint256.NewInt(1_999_999), 12, 6); got != 1 {
		t.Errorf("expected truncation to 1, got %d", got)
	}
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	if _, err := ScaleToLedger(huge, 6, 6); err == nil {
		t.Error("expected out of range error")
	}
}
