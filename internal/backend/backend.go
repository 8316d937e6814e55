// Package backend executes wallet operations against the chain: reads,
// estimation, signing, broadcasting, and EIP-7702 account upgrades. Everything
// here assumes the request has already passed gating and approval.
package backend

import (
	"context"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/keys"
	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// ChainService is the slice of the network manager the backend uses.
type ChainService interface {
	Active() (chains.Client, error)
	ActiveNetwork() (chains.Network, error)
	Switch(ctx context.Context, name string) error
	SwitchByChainIDHex(ctx context.Context, chainIDHex string) (string, error)
	ResolveByChainIDHex(chainIDHex string) (chains.Network, error)
	AddNetwork(n chains.Network) error
	Networks() []chains.Network
	ClientFor(ctx context.Context, name string) (chains.Client, error)
}

// Backend holds the wallet key, the chain connections, and the activity log.
type Backend struct {
	wallet   keys.Wallet
	chains   ChainService
	activity *activity.Store
	log      *zap.Logger

	maxFeeCapGwei uint64

	// confirmation-wait knobs, shortened in tests
	waitPollInterval int64 // milliseconds
	waitGraceMillis  int64
}

func New(wallet keys.Wallet, chainSvc ChainService, store *activity.Store, maxFeeCapGwei uint64, log *zap.Logger) *Backend {
	return &Backend{
		wallet:           wallet,
		chains:           chainSvc,
		activity:         store,
		log:              log.With(logging.Component("backend")),
		maxFeeCapGwei:    maxFeeCapGwei,
		waitPollInterval: 5_000,
		waitGraceMillis:  1_000,
	}
}

// Accounts returns the addresses this wallet controls.
func (b *Backend) Accounts() []string {
	return []string{strings.ToLower(b.wallet.Address().Hex())}
}

// ChainID returns the active chain id as a hex quantity.
func (b *Backend) ChainID() (string, error) {
	network, err := b.chains.ActiveNetwork()
	if err != nil {
		return "", err
	}
	return network.ChainIDHex, nil
}

// BlockNumber returns the latest block number as a hex quantity.
func (b *Backend) BlockNumber(ctx context.Context) (string, error) {
	client, err := b.chains.Active()
	if err != nil {
		return "", err
	}
	n, err := client.BlockNumber(ctx)
	if err != nil {
		return "", errors.Wrap(err, "eth_blockNumber")
	}
	return hexutil.EncodeUint64(n), nil
}

// TransactionByHash proxies the lookup to the active chain. A missing
// transaction yields a nil result, matching node behavior.
func (b *Backend) TransactionByHash(ctx context.Context, hash common.Hash) (any, error) {
	client, err := b.chains.Active()
	if err != nil {
		return nil, err
	}
	tx, _, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "eth_getTransactionByHash")
	}
	return tx, nil
}

// TransactionReceipt proxies the lookup to the active chain. A missing receipt
// yields a nil result.
func (b *Backend) TransactionReceipt(ctx context.Context, hash common.Hash) (*chains.Receipt, error) {
	client, err := b.chains.Active()
	if err != nil {
		return nil, err
	}
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "eth_getTransactionReceipt")
	}
	return receipt, nil
}

// SwitchEthereumChain activates the network matching the chain id. An unknown
// chain id maps to the provider error code 4902.
func (b *Backend) SwitchEthereumChain(ctx context.Context, p walletrpc.SwitchChainParams) error {
	name, err := b.chains.SwitchByChainIDHex(ctx, p.ChainID)
	if err != nil {
		if errors.Is(err, chains.ErrUnknownChain) {
			return walletrpc.ErrChainNotAdded(p.ChainID)
		}
		return err
	}
	b.log.Info("switched network", zap.String("network", name), logging.ChainID(p.ChainID))
	return nil
}

// AddEthereumChain registers a new network and leaves the active one alone.
func (b *Backend) AddEthereumChain(p walletrpc.AddChainParams) error {
	return b.chains.AddNetwork(chains.Network{
		Name:       p.ChainName,
		ChainIDHex: p.ChainID,
		RPCURL:     p.RPCURLs[0],
	})
}

// GetCapabilities reports per-chain capabilities (EIP-5792). Atomic batching
// is available on chains that have a delegation contract configured.
func (b *Backend) GetCapabilities() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, n := range b.chains.Networks() {
		status := "unsupported"
		if n.DelegationContract != "" {
			status = "supported"
		}
		out[n.ChainIDHex] = map[string]any{
			"atomic": map[string]string{"status": status},
		}
	}
	return out
}

// CallsStatus is the wallet_getCallsStatus response shape.
type CallsStatus struct {
	Version  string `json:"version"`
	ID       string `json:"id"`
	ChainID  string `json:"chainId"`
	Status   int    `json:"status"`
	Atomic   bool   `json:"atomic"`
	Receipts []any  `json:"receipts,omitempty"`
}

// EIP-5792 status codes.
const (
	callsStatusPending   = 100
	callsStatusConfirmed = 200
	callsStatusFailed    = 500
)

// GetCallsStatus resolves the status of a batch by its identifying
// transaction hash.
func (b *Backend) GetCallsStatus(ctx context.Context, id common.Hash) (*CallsStatus, error) {
	network, err := b.chains.ActiveNetwork()
	if err != nil {
		return nil, err
	}
	receipt, err := b.TransactionReceipt(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &CallsStatus{
		Version: "2.0.0",
		ID:      id.Hex(),
		ChainID: network.ChainIDHex,
		Status:  callsStatusPending,
		Atomic:  true,
	}
	if receipt == nil {
		return status, nil
	}
	if receipt.Status != nil && *receipt.Status == 0 {
		status.Status = callsStatusFailed
	} else {
		status.Status = callsStatusConfirmed
	}
	status.Receipts = []any{map[string]any{
		"transactionHash": receipt.TxHash.Hex(),
		"gasUsed":         hexutil.EncodeUint64(receipt.GasUsed),
		"status":          receiptStatusHex(receipt),
		"blockNumber":     receiptBlockHex(receipt),
	}}
	return status, nil
}

func receiptStatusHex(r *chains.Receipt) string {
	if r.Status != nil && *r.Status == 0 {
		return "0x0"
	}
	return "0x1"
}

func receiptBlockHex(r *chains.Receipt) string {
	if r.BlockNumber == nil {
		return "0x0"
	}
	return walletrpc.HexQuantity(r.BlockNumber)
}

// Disconnect is the backend half of wallet_disconnect. Connection removal is
// the router's job; here there is only something to log.
func (b *Backend) Disconnect(site walletrpc.SiteMetadata) {
	b.log.Info("site disconnected", logging.Domain(site.Domain))
}

// app converts request site metadata into an activity app record.
func app(site walletrpc.SiteMetadata) activity.App {
	return activity.App{Domain: site.Domain, URI: site.URI, Scheme: site.Scheme}
}

// chainID parses the active network's chain id.
func (b *Backend) chainID() (*big.Int, string, error) {
	network, err := b.chains.ActiveNetwork()
	if err != nil {
		return nil, "", err
	}
	id, err := walletrpc.ParseHexQuantity(network.ChainIDHex)
	if err != nil {
		return nil, "", errors.Wrapf(err, "network %q chain id", network.Name)
	}
	return id, network.ChainIDHex, nil
}
