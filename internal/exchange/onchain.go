package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// OnchainPositionReader is the read-only data source for WhaleKind ==
// ONCHAIN_WALLET whales: it has no order-placing surface, since nobody
// copy-trades an on-chain wallet's private key. The scheduler treats a
// wallet's tracked ERC-20 balances as its open "positions", one sample
// per tracked token.
type OnchainPositionReader interface {
	GetWalletHoldings(ctx context.Context, chain, walletAddress string) ([]domain.PositionSample, error)
}

// TrackedToken is one ERC-20 (or native-asset pseudo-token) this reader
// watches per chain.
type TrackedToken struct {
	Symbol   string
	Address  string // empty for the chain's native asset
	Decimals int32
}

// OnchainAdapter reads public ERC-20/native balances over JSON-RPC,
// built on go-ethereum's ethclient + abi packages rather than
// hand-rolled eth_call JSON.
type OnchainAdapter struct {
	rpcByChain map[string]string
	tokens     map[string][]TrackedToken
	erc20ABI   abi.ABI
}

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// NewOnchainAdapter builds a reader for the given chain -> RPC endpoint
// map and chain -> tracked-token list map.
func NewOnchainAdapter(rpcByChain map[string]string, tokens map[string][]TrackedToken) (*OnchainAdapter, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("parsing erc20 abi: %w", err)
	}
	return &OnchainAdapter{rpcByChain: rpcByChain, tokens: tokens, erc20ABI: parsed}, nil
}

func (a *OnchainAdapter) GetWalletHoldings(ctx context.Context, chain, walletAddress string) ([]domain.PositionSample, error) {
	rpcURL, ok := a.rpcByChain[chain]
	if !ok {
		return nil, fmt.Errorf("%w: no rpc endpoint configured for chain %q", domain.ErrUnsupported, chain)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", domain.ErrRetryableNetwork, chain, err)
	}
	defer client.Close()

	owner := common.HexToAddress(walletAddress)
	tracked := a.tokens[chain]
	samples := make([]domain.PositionSample, 0, len(tracked))

	for _, tok := range tracked {
		var raw *big.Int
		if tok.Address == "" {
			raw, err = client.BalanceAt(ctx, owner, nil)
		} else {
			raw, err = a.erc20BalanceOf(ctx, client, tok.Address, owner)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s balance: %v", domain.ErrRetryableNetwork, tok.Symbol, err)
		}
		if raw.Sign() == 0 {
			continue
		}

		qty := decimal.NewFromBigInt(raw, -tok.Decimals)
		samples = append(samples, domain.PositionSample{
			Symbol:     tok.Symbol,
			Market:     domain.MarketSpot,
			Side:       domain.SideLong,
			Quantity:   qty,
			EntryPrice: decimal.Zero, // unknown for a raw wallet balance
		})
	}
	return samples, nil
}

func (a *OnchainAdapter) erc20BalanceOf(ctx context.Context, client *ethclient.Client, tokenAddress string, owner common.Address) (*big.Int, error) {
	data, err := a.erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("packing balanceOf call: %w", err)
	}
	token := common.HexToAddress(tokenAddress)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := a.erc20ABI.Unpack("balanceOf", result)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("unpacking balanceOf result: %w", err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type")
	}
	return bal, nil
}
