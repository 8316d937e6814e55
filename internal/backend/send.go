package backend

import (
	"context"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/gas"
	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

var weiPerEth = new(big.Float).SetFloat64(1e18)

// weiToEthString renders a wei amount as a decimal ETH string for display.
func weiToEthString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth)
	return f.Text('f', 8)
}

// EstimateResult is the wallet_estimateTransaction response. Quantities are
// hex, the *Eth fields are human-readable decimals.
type EstimateResult struct {
	GasLimit             string `json:"gasLimit"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	EstimatedGasCost     string `json:"estimatedGasCost"`
	EstimatedGasCostEth  string `json:"estimatedGasCostEth"`
	TotalCost            string `json:"totalCost"`
	TotalCostEth         string `json:"totalCostEth"`
	Type                 string `json:"type"`
}

// resolvedTx is a transaction with every quantity resolved from the chain.
type resolvedTx struct {
	from     common.Address
	to       *common.Address
	value    *big.Int
	data     []byte
	gasLimit uint64
	prices   gas.Prices
}

// resolveTx turns dapp-supplied params into resolved quantities: estimate,
// buffer, and price in one pass. Nothing is mutated on failure.
func (b *Backend) resolveTx(ctx context.Context, p walletrpc.TxParams) (*resolvedTx, error) {
	client, err := b.chains.Active()
	if err != nil {
		return nil, err
	}

	r := &resolvedTx{from: common.HexToAddress(p.From)}
	if to := strings.TrimSpace(p.To); to != "" && to != "0x" {
		addr := common.HexToAddress(to)
		r.to = &addr
	}

	if r.value, err = walletrpc.ParseHexQuantity(p.Value); err != nil {
		return nil, walletrpc.ErrInvalidParams("invalid value: " + err.Error())
	}
	if data := strings.TrimSpace(p.Data); data != "" && data != "0x" {
		if r.data, err = hexutil.Decode(data); err != nil {
			return nil, walletrpc.ErrInvalidParams("invalid data: " + err.Error())
		}
	}

	// explicit gas wins; otherwise estimate and buffer
	if strings.TrimSpace(p.Gas) != "" {
		limit, err := hexutil.DecodeUint64(p.Gas)
		if err != nil {
			return nil, walletrpc.ErrInvalidParams("invalid gas: " + p.Gas)
		}
		r.gasLimit = limit
		if r.gasLimit < gas.MinGasLimit {
			r.gasLimit = gas.MinGasLimit
		}
	} else {
		estimate, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From: r.from, To: r.to, Value: r.value, Data: r.data,
		})
		if err != nil {
			return nil, walletrpc.ErrInternal("gas estimation failed: "+err.Error(), nil)
		}
		r.gasLimit = gas.ApplyGasBuffer(estimate)
	}

	overrides, err := feeOverrides(p)
	if err != nil {
		return nil, err
	}
	if overrides.MaxFeePerGas != nil && overrides.MaxPriorityFeePerGas != nil || overrides.GasPrice != nil {
		r.prices = gas.GetGasPrices(overrides, nil, b.maxFeeCapGwei)
	} else {
		networkPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, walletrpc.ErrInternal("gas price fetch failed: "+err.Error(), nil)
		}
		r.prices = gas.GetGasPrices(overrides, networkPrice, b.maxFeeCapGwei)
	}
	return r, nil
}

func feeOverrides(p walletrpc.TxParams) (gas.Overrides, error) {
	var o gas.Overrides
	parse := func(s string) (*big.Int, error) {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		v, err := walletrpc.ParseHexQuantity(s)
		if err != nil {
			return nil, walletrpc.ErrInvalidParams("invalid fee field: " + s)
		}
		return v, nil
	}
	var err error
	if o.MaxFeePerGas, err = parse(p.MaxFeePerGas); err != nil {
		return o, err
	}
	if o.MaxPriorityFeePerGas, err = parse(p.MaxPriorityFeePerGas); err != nil {
		return o, err
	}
	if o.GasPrice, err = parse(p.GasPrice); err != nil {
		return o, err
	}
	return o, nil
}

// EstimateTransaction computes the full cost picture without signing anything.
func (b *Backend) EstimateTransaction(ctx context.Context, p walletrpc.TxParams) (*EstimateResult, error) {
	r, err := b.resolveTx(ctx, p)
	if err != nil {
		return nil, err
	}
	est := gas.CalculateTotalCost(r.gasLimit, r.prices, r.value)

	return &EstimateResult{
		GasLimit:             hexutil.EncodeUint64(est.GasLimit),
		MaxFeePerGas:         walletrpc.HexQuantity(est.MaxFeePerGas),
		MaxPriorityFeePerGas: walletrpc.HexQuantity(est.MaxPriorityFeePerGas),
		EstimatedGasCost:     walletrpc.HexQuantity(est.EstimatedGasCost),
		EstimatedGasCostEth:  weiToEthString(est.EstimatedGasCost),
		TotalCost:            walletrpc.HexQuantity(est.TotalCost),
		TotalCostEth:         weiToEthString(est.TotalCost),
		Type:                 string(est.Type),
	}, nil
}

// signAndBroadcast signs a prepared transaction with the wallet key and sends
// it to the active chain.
func (b *Backend) signAndBroadcast(ctx context.Context, tx *types.Transaction, chainID *big.Int) (common.Hash, error) {
	client, err := b.chains.Active()
	if err != nil {
		return common.Hash{}, err
	}

	signer := types.LatestSignerForChainID(chainID)
	sig, err := b.wallet.SignDigest(ctx, signer.Hash(tx).Bytes())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "attach signature")
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "broadcast transaction")
	}
	return signed.Hash(), nil
}

// SendTransaction resolves, signs, and broadcasts one transaction, then
// records it as pending activity.
func (b *Backend) SendTransaction(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.TxParams) (string, error) {
	if common.HexToAddress(p.From) != b.wallet.Address() {
		return "", walletrpc.ErrInvalidParams("from address not controlled by this wallet")
	}
	client, err := b.chains.Active()
	if err != nil {
		return "", err
	}
	chainID, chainIDHex, err := b.chainID()
	if err != nil {
		return "", err
	}

	r, err := b.resolveTx(ctx, p)
	if err != nil {
		return "", err
	}

	var nonce uint64
	if strings.TrimSpace(p.Nonce) != "" {
		if nonce, err = hexutil.DecodeUint64(p.Nonce); err != nil {
			return "", walletrpc.ErrInvalidParams("invalid nonce: " + p.Nonce)
		}
	} else if nonce, err = client.PendingNonceAt(ctx, r.from); err != nil {
		return "", errors.Wrap(err, "fetch nonce")
	}

	var tx *types.Transaction
	if r.prices.Type == gas.TypeLegacy {
		tx = types.NewTx(&types.LegacyTx{
			Nonce: nonce, GasPrice: r.prices.MaxFeePerGas, Gas: r.gasLimit,
			To: r.to, Value: r.value, Data: r.data,
		})
	} else {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID: chainID, Nonce: nonce,
			GasTipCap: r.prices.MaxPriorityFeePerGas, GasFeeCap: r.prices.MaxFeePerGas,
			Gas: r.gasLimit, To: r.to, Value: r.value, Data: r.data,
		})
	}

	hash, err := b.signAndBroadcast(ctx, tx, chainID)
	if err != nil {
		return "", err
	}

	b.logTx(site, hash, chainIDHex, r, walletrpc.MethodEthSendTransaction)
	return hash.Hex(), nil
}

// SendCalls executes an EIP-5792 batch. Calls run as sequential transactions
// sharing a nonce run; when the account still needs its EIP-7702 delegation,
// the first transaction carries the authorization. The returned id is the
// first transaction's hash.
func (b *Backend) SendCalls(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.SendCallsParams) (map[string]string, error) {
	from := b.wallet.Address()
	if p.From != "" && common.HexToAddress(p.From) != from {
		return nil, walletrpc.ErrInvalidParams("from address not controlled by this wallet")
	}
	client, err := b.chains.Active()
	if err != nil {
		return nil, err
	}
	network, err := b.chains.ActiveNetwork()
	if err != nil {
		return nil, err
	}
	chainID, chainIDHex, err := b.chainID()
	if err != nil {
		return nil, err
	}
	if p.ChainID != "" && !strings.EqualFold(p.ChainID, chainIDHex) {
		return nil, walletrpc.ErrInvalidParams("chainId does not match the active chain")
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Wrap(err, "fetch nonce")
	}

	// piggyback the delegation authorization on the first call if needed
	var auth *types.SetCodeAuthorization
	if network.DelegationContract != "" {
		code, err := client.CodeAt(ctx, from)
		if err != nil {
			return nil, errors.Wrap(err, "fetch account code")
		}
		if gas.DetectDelegation(code, common.HexToAddress(network.DelegationContract)) != gas.NeedNone {
			signed, err := b.signedAuthorization(chainID, common.HexToAddress(network.DelegationContract), nonce+1)
			if err != nil {
				return nil, err
			}
			auth = &signed
		}
	}

	networkPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, walletrpc.ErrInternal("gas price fetch failed: "+err.Error(), nil)
	}
	prices := gas.FetchGasPrices(networkPrice, b.maxFeeCapGwei)

	var firstHash common.Hash
	for i, call := range p.Calls {
		r := &resolvedTx{from: from, prices: prices}
		if to := strings.TrimSpace(call.To); to != "" {
			addr := common.HexToAddress(to)
			r.to = &addr
		}
		if r.value, err = walletrpc.ParseHexQuantity(call.Value); err != nil {
			return nil, walletrpc.ErrInvalidParams("invalid call value: " + err.Error())
		}
		if data := strings.TrimSpace(call.Data); data != "" && data != "0x" {
			if r.data, err = hexutil.Decode(data); err != nil {
				return nil, walletrpc.ErrInvalidParams("invalid call data: " + err.Error())
			}
		}

		estimate, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From: r.from, To: r.to, Value: r.value, Data: r.data,
		})
		if err != nil {
			return nil, walletrpc.ErrInternal("gas estimation failed: "+err.Error(), nil)
		}
		r.gasLimit = gas.ApplyGasBuffer(estimate)

		var tx *types.Transaction
		if i == 0 && auth != nil {
			r.gasLimit = gas.ApplyEIP7702Overhead(r.gasLimit, 1, true)
			to := from
			if r.to != nil {
				to = *r.to
			}
			tx = types.NewTx(&types.SetCodeTx{
				ChainID:   uint256.MustFromBig(chainID),
				Nonce:     nonce,
				GasTipCap: uint256.MustFromBig(prices.MaxPriorityFeePerGas),
				GasFeeCap: uint256.MustFromBig(prices.MaxFeePerGas),
				Gas:       r.gasLimit,
				To:        to,
				Value:     uint256.MustFromBig(r.value),
				Data:      r.data,
				AuthList:  []types.SetCodeAuthorization{*auth},
			})
		} else {
			tx = types.NewTx(&types.DynamicFeeTx{
				ChainID: chainID, Nonce: nonce,
				GasTipCap: prices.MaxPriorityFeePerGas, GasFeeCap: prices.MaxFeePerGas,
				Gas: r.gasLimit, To: r.to, Value: r.value, Data: r.data,
			})
		}
		nonce++
		if auth != nil && i == 0 {
			// the authorization consumed a nonce of its own
			nonce++
		}

		hash, err := b.signAndBroadcast(ctx, tx, chainID)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			firstHash = hash
		}
		b.logTx(site, hash, chainIDHex, r, walletrpc.MethodWalletSendCalls)
	}

	b.log.Info("batch submitted",
		logging.Domain(site.Domain), zap.Int("calls", len(p.Calls)), logging.TxHash(firstHash.Hex()))
	return map[string]string{"id": firstHash.Hex()}, nil
}

func (b *Backend) logTx(site walletrpc.SiteMetadata, hash common.Hash, chainIDHex string, r *resolvedTx, method string) {
	to := ""
	if r.to != nil {
		to = strings.ToLower(r.to.Hex())
	}
	b.activity.LogTransaction(app(site), activity.Transaction{
		TxHash:     hash.Hex(),
		ChainIDHex: chainIDHex,
		From:       strings.ToLower(r.from.Hex()),
		To:         to,
		ValueWei:   r.value.String(),
		Method:     method,
	})
	b.log.Info("transaction broadcast",
		logging.TxHash(hash.Hex()), logging.ChainID(chainIDHex), logging.Method(method))
}
