package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

var (
	transferTopic     = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// EVMSource reads ERC-20 transfers into the custodial address
type EVMSource struct {
	client         *ethclient.Client
	token          common.Address
	custody        common.Address
	tokenDecimals  int32
	ledgerDecimals int32
}

// NewEVMSource dials the RPC endpoint
func NewEVMSource(ctx context.Context, rpcURL, token, custody string, tokenDecimals, ledgerDecimals int32) (*EVMSource, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(custody) {
		return nil, fmt.Errorf("invalid token or custodial address")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return &EVMSource{
		client:         client,
		token:          common.HexToAddress(token),
		custody:        common.HexToAddress(custody),
		tokenDecimals:  tokenDecimals,
		ledgerDecimals: ledgerDecimals,
	}, nil
}

// Close closes the RPC connection
func (s *EVMSource) Close() {
	s.client.Close()
}

func (s *EVMSource) Head(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func (s *EVMSource) Transfers(ctx context.Context, from, to uint64) ([]Transfer, error) {
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.token},
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(s.custody.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
	}

	out := make([]Transfer, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		t, err := s.decode(&logs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *EVMSource) Lookup(ctx context.Context, txHash string) (*Transfer, error) {
	hash, index, err := splitTransferID(txHash)
	if err != nil {
		return nil, err
	}
	receipt, err := s.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}
	for _, l := range receipt.Logs {
		if l.Index == index && l.Address == s.token {
			return s.decode(l)
		}
	}
	return nil, nil
}

func (s *EVMSource) CustodyBalance(ctx context.Context) (int64, error) {
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(s.custody.Bytes(), 32)...)
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return ScaleToLedger(new(uint256.Int).SetBytes(out), s.tokenDecimals, s.ledgerDecimals)
}

func (s *EVMSource) decode(l *types.Log) (*Transfer, error) {
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
		return nil, fmt.Errorf("log %s:%d is not a transfer", l.TxHash.Hex(), l.Index)
	}
	amount, err := ScaleToLedger(new(uint256.Int).SetBytes(l.Data), s.tokenDecimals, s.ledgerDecimals)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		TxHash:      transferID(l.TxHash, l.Index),
		BlockHeight: l.BlockNumber,
		BlockHash:   l.BlockHash.Hex(),
		From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		Amount:      amount,
	}, nil
}

// transferID keys a transfer by transaction hash and log index
func transferID(hash common.Hash, index uint) string {
	return hash.Hex() + ":" + strconv.FormatUint(uint64(index), 10)
}

func splitTransferID(id string) (common.Hash, uint, error) {
	hashPart, indexPart, ok := strings.Cut(id, ":")
	if !ok {
		return common.Hash{}, 0, fmt.Errorf("malformed transfer id %q", id)
	}
	index, err := strconv.ParseUint(indexPart, 10, 32)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("malformed transfer id %q: %w", id, err)
	}
	return common.HexToHash(hashPart), uint(index), nil
}
