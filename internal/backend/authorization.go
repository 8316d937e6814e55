package backend

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/gas"
	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// AuthorizationStatus is the per-chain EIP-7702 delegation state of the
// wallet address.
type AuthorizationStatus struct {
	ChainID           string `json:"chainId"`
	ChainName         string `json:"chainName"`
	HasAuthorization  bool   `json:"hasAuthorization"`
	AuthorizedAddress string `json:"authorizedAddress,omitempty"`
	Error             string `json:"error,omitempty"`
}

// AuthorizationStatuses inspects every configured chain. A chain that cannot
// be reached reports its error instead of failing the whole call.
func (b *Backend) AuthorizationStatuses(ctx context.Context) []AuthorizationStatus {
	networks := b.chains.Networks()
	out := make([]AuthorizationStatus, 0, len(networks))
	for _, n := range networks {
		st := AuthorizationStatus{ChainID: n.ChainIDHex, ChainName: n.Name}

		client, err := b.chains.ClientFor(ctx, n.Name)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		code, err := client.CodeAt(ctx, b.wallet.Address())
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		if delegate, ok := gas.DelegatedTo(code); ok {
			st.HasAuthorization = true
			st.AuthorizedAddress = strings.ToLower(delegate.Hex())
		}
		out = append(out, st)
	}
	return out
}

// signedAuthorization builds and signs the EIP-7702 tuple. The nonce is the
// authority's nonce at the time the tuple is applied; for a self-sponsored
// transaction that is the tx nonce plus one.
func (b *Backend) signedAuthorization(chainID *big.Int, delegate common.Address, nonce uint64) (types.SetCodeAuthorization, error) {
	auth := types.SetCodeAuthorization{
		ChainID: *uint256.MustFromBig(chainID),
		Address: delegate,
		Nonce:   nonce,
	}
	signed, err := b.wallet.SignAuthorization(auth)
	if err != nil {
		return types.SetCodeAuthorization{}, errors.Wrap(err, "sign authorization")
	}
	return signed, nil
}

// sendAuthorizationTx broadcasts a self-transaction whose only payload is the
// authorization tuple, delegating the account to (or away from) delegate.
func (b *Backend) sendAuthorizationTx(ctx context.Context, delegate common.Address) (string, error) {
	client, err := b.chains.Active()
	if err != nil {
		return "", err
	}
	chainID, chainIDHex, err := b.chainID()
	if err != nil {
		return "", err
	}
	from := b.wallet.Address()

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", errors.Wrap(err, "fetch nonce")
	}
	auth, err := b.signedAuthorization(chainID, delegate, nonce+1)
	if err != nil {
		return "", err
	}

	networkPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", walletrpc.ErrInternal("gas price fetch failed: "+err.Error(), nil)
	}
	prices := gas.FetchGasPrices(networkPrice, b.maxFeeCapGwei)

	tx := types.NewTx(&types.SetCodeTx{
		ChainID:   uint256.MustFromBig(chainID),
		Nonce:     nonce,
		GasTipCap: uint256.MustFromBig(prices.MaxPriorityFeePerGas),
		GasFeeCap: uint256.MustFromBig(prices.MaxFeePerGas),
		Gas:       gas.CalculateEIP7702Overhead(1, true),
		To:        from,
		Value:     uint256.NewInt(0),
		AuthList:  []types.SetCodeAuthorization{auth},
	})

	hash, err := b.signAndBroadcast(ctx, tx, chainID)
	if err != nil {
		return "", err
	}
	b.log.Info("authorization transaction broadcast",
		logging.TxHash(hash.Hex()), logging.ChainID(chainIDHex),
		zap.String("delegate", delegate.Hex()))
	return hash.Hex(), nil
}

// UpgradeAuthorization delegates the account to the chain's configured
// implementation and returns the broadcast hash. The caller awaits
// confirmation separately.
func (b *Backend) UpgradeAuthorization(ctx context.Context) (string, error) {
	network, err := b.chains.ActiveNetwork()
	if err != nil {
		return "", err
	}
	if network.DelegationContract == "" {
		return "", errors.Newf("network %q has no delegation contract configured", network.Name)
	}
	return b.sendAuthorizationTx(ctx, common.HexToAddress(network.DelegationContract))
}

// ResetAuthorization clears the account's delegation by authorizing the zero
// address.
func (b *Backend) ResetAuthorization(ctx context.Context) (string, error) {
	return b.sendAuthorizationTx(ctx, common.Address{})
}

const (
	confirmationCeiling     = 120 * time.Second
	maxConsecutiveRPCErrors = 3
)

// WaitForTransactionConfirmation polls for a receipt until it appears or the
// ceiling passes. Three consecutive RPC failures abort the wait; a found
// receipt is followed by a short grace pause for state propagation.
func (b *Backend) WaitForTransactionConfirmation(ctx context.Context, hash common.Hash) error {
	client, err := b.chains.Active()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, confirmationCeiling)
	defer cancel()

	interval := time.Duration(b.waitPollInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			// give downstream reads a moment to observe the new state
			select {
			case <-time.After(time.Duration(b.waitGraceMillis) * time.Millisecond):
			case <-ctx.Done():
			}
			b.log.Info("transaction confirmed", logging.TxHash(hash.Hex()))
			return nil
		case errors.Is(err, ethereum.NotFound):
			failures = 0
		case err != nil:
			failures++
			if failures >= maxConsecutiveRPCErrors {
				return errors.Wrapf(err, "confirmation aborted after %d consecutive rpc failures", failures)
			}
		}

		select {
		case <-ctx.Done():
			return errors.Newf("transaction %s not confirmed within %s", hash.Hex(), confirmationCeiling)
		case <-ticker.C:
		}
	}
}
