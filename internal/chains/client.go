package chains

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the slice of node functionality the wallet actually uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	Close()
}

// Receipt carries the receipt fields the wallet inspects. Status is a pointer
// because pre-Byzantium nodes omit the field entirely; a receipt without a
// status is not a failed receipt.
type Receipt struct {
	TxHash      common.Hash
	Status      *uint64
	BlockNumber *big.Int
	GasUsed     uint64
}

// nodeClient pairs an ethclient with its underlying rpc connection. The raw
// connection is kept so receipts can be fetched without ethclient's strict
// status decoding.
type nodeClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

var _ Client = (*nodeClient)(nil)

func dialNode(ctx context.Context, url string) (*nodeClient, error) {
	rawClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc %q", url)
	}
	return &nodeClient{eth: ethclient.NewClient(rawClient), rpc: rawClient}, nil
}

func (c *nodeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *nodeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *nodeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *nodeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *nodeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *nodeClient) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, nil)
}

func (c *nodeClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *nodeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

func (c *nodeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, hash)
}

// rpcReceipt mirrors the wire shape of eth_getTransactionReceipt with status
// kept nullable.
type rpcReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          *hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
}

func (c *nodeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var raw *rpcReceipt
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ethereum.NotFound
	}

	receipt := &Receipt{
		TxHash:  raw.TransactionHash,
		GasUsed: uint64(raw.GasUsed),
	}
	if raw.Status != nil {
		status := uint64(*raw.Status)
		receipt.Status = &status
	}
	if raw.BlockNumber != nil {
		receipt.BlockNumber = raw.BlockNumber.ToInt()
	}
	return receipt, nil
}

func (c *nodeClient) Close() {
	c.rpc.Close()
}
