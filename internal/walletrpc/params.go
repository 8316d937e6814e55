package walletrpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request is the message envelope posted by the provider.
type Request struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"requestId"`
	Site      SiteMetadata    `json:"site,omitempty"`
}

// Response is the single reply for a request id: exactly one of Result, Error,
// or Pending is meaningful.
type Response struct {
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}

// Confirmation completes an approval-required request out of band.
type Confirmation struct {
	Approved  bool            `json:"approved"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID string          `json:"requestId"`
}

// SiteMetadata identifies the requesting app for gating and activity records.
type SiteMetadata struct {
	Domain string `json:"domain,omitempty"`
	URI    string `json:"uri,omitempty"`
	Scheme string `json:"scheme,omitempty"`
}

// TxParams is the dapp-supplied transaction object of eth_sendTransaction and
// wallet_estimateTransaction. All quantities are 0x hex strings on the wire.
type TxParams struct {
	From                 string `json:"from"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
}

// PersonalSignParams carries personal_sign positional params [message, address].
type PersonalSignParams struct {
	Message string
	Address common.Address
}

// TypedDataParams carries eth_signTypedData_v4 positional params
// [address, typedDataJSON].
type TypedDataParams struct {
	Address   common.Address
	TypedData string
}

// ConnectParams is params[0] of wallet_connect.
type ConnectParams struct {
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

// HasCapabilities reports whether the connect request asks for anything beyond
// a plain connection (e.g. SIWE). Non-empty capabilities always force approval.
func (p ConnectParams) HasCapabilities() bool {
	return len(p.Capabilities) > 0
}

// SwitchChainParams is params[0] of wallet_switchEthereumChain.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// AddChainParams is params[0] of wallet_addEthereumChain.
type AddChainParams struct {
	ChainID   string   `json:"chainId"`
	ChainName string   `json:"chainName"`
	RPCURLs   []string `json:"rpcUrls"`
}

// Call is one entry of a wallet_sendCalls batch.
type Call struct {
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// SendCallsParams is params[0] of wallet_sendCalls (EIP-5792).
type SendCallsParams struct {
	Version      string                     `json:"version,omitempty"`
	ChainID      string                     `json:"chainId,omitempty"`
	From         string                     `json:"from,omitempty"`
	Calls        []Call                     `json:"calls"`
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

func decodePositional(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("params must be an array: %w", err)
	}
	return out, nil
}

func decodeObjectAt[T any](raw json.RawMessage, idx int) (T, error) {
	var zero T
	items, err := decodePositional(raw)
	if err != nil {
		return zero, err
	}
	if len(items) <= idx {
		return zero, fmt.Errorf("missing params[%d]", idx)
	}
	var out T
	if err := json.Unmarshal(items[idx], &out); err != nil {
		return zero, fmt.Errorf("invalid params[%d]: %w", idx, err)
	}
	return out, nil
}

// DecodeTxParams validates eth_sendTransaction params.
func DecodeTxParams(raw json.RawMessage) (TxParams, *Error) {
	tx, err := decodeObjectAt[TxParams](raw, 0)
	if err != nil {
		return TxParams{}, ErrInvalidParams(err.Error())
	}
	if !common.IsHexAddress(strings.TrimSpace(tx.From)) {
		return TxParams{}, ErrInvalidParams("missing or invalid tx.from")
	}
	if to := strings.TrimSpace(tx.To); to != "" && to != "0x" && !common.IsHexAddress(to) {
		return TxParams{}, ErrInvalidParams(fmt.Sprintf("invalid tx.to %q", tx.To))
	}
	return tx, nil
}

// DecodePersonalSign validates personal_sign params [message, address].
func DecodePersonalSign(raw json.RawMessage) (PersonalSignParams, *Error) {
	items, err := decodePositional(raw)
	if err != nil {
		return PersonalSignParams{}, ErrInvalidParams(err.Error())
	}
	if len(items) < 2 {
		return PersonalSignParams{}, ErrInvalidParams("expected [message, address]")
	}
	var msg, addr string
	if err := json.Unmarshal(items[0], &msg); err != nil {
		return PersonalSignParams{}, ErrInvalidParams("message must be a string")
	}
	if err := json.Unmarshal(items[1], &addr); err != nil || !common.IsHexAddress(addr) {
		return PersonalSignParams{}, ErrInvalidParams("invalid signer address")
	}
	return PersonalSignParams{Message: msg, Address: common.HexToAddress(addr)}, nil
}

// DecodeTypedData validates eth_signTypedData_v4 params [address, typedData].
// The typed data may arrive as a JSON string or as an inline object.
func DecodeTypedData(raw json.RawMessage) (TypedDataParams, *Error) {
	items, err := decodePositional(raw)
	if err != nil {
		return TypedDataParams{}, ErrInvalidParams(err.Error())
	}
	if len(items) < 2 {
		return TypedDataParams{}, ErrInvalidParams("expected [address, typedData]")
	}
	var addr string
	if err := json.Unmarshal(items[0], &addr); err != nil || !common.IsHexAddress(addr) {
		return TypedDataParams{}, ErrInvalidParams("invalid signer address")
	}
	var td string
	if err := json.Unmarshal(items[1], &td); err != nil {
		// inline object form
		td = string(items[1])
	}
	if strings.TrimSpace(td) == "" {
		return TypedDataParams{}, ErrInvalidParams("missing typed data")
	}
	return TypedDataParams{Address: common.HexToAddress(addr), TypedData: td}, nil
}

// DecodeConnect reads params[0].capabilities of wallet_connect. Absent params
// decode to an empty ConnectParams.
func DecodeConnect(raw json.RawMessage) (ConnectParams, *Error) {
	items, err := decodePositional(raw)
	if err != nil {
		return ConnectParams{}, ErrInvalidParams(err.Error())
	}
	if len(items) == 0 {
		return ConnectParams{}, nil
	}
	var out ConnectParams
	if err := json.Unmarshal(items[0], &out); err != nil {
		return ConnectParams{}, ErrInvalidParams("invalid connect params: " + err.Error())
	}
	return out, nil
}

// DecodeSwitchChain validates wallet_switchEthereumChain params.
func DecodeSwitchChain(raw json.RawMessage) (SwitchChainParams, *Error) {
	p, err := decodeObjectAt[SwitchChainParams](raw, 0)
	if err != nil {
		return SwitchChainParams{}, ErrInvalidParams(err.Error())
	}
	if _, perr := ParseHexQuantity(p.ChainID); perr != nil {
		return SwitchChainParams{}, ErrInvalidParams("invalid chainId " + p.ChainID)
	}
	return p, nil
}

// DecodeAddChain validates wallet_addEthereumChain params.
func DecodeAddChain(raw json.RawMessage) (AddChainParams, *Error) {
	p, err := decodeObjectAt[AddChainParams](raw, 0)
	if err != nil {
		return AddChainParams{}, ErrInvalidParams(err.Error())
	}
	if _, perr := ParseHexQuantity(p.ChainID); perr != nil {
		return AddChainParams{}, ErrInvalidParams("invalid chainId " + p.ChainID)
	}
	if len(p.RPCURLs) == 0 {
		return AddChainParams{}, ErrInvalidParams("rpcUrls is required")
	}
	return p, nil
}

// DecodeSendCalls validates wallet_sendCalls params.
func DecodeSendCalls(raw json.RawMessage) (SendCallsParams, *Error) {
	p, err := decodeObjectAt[SendCallsParams](raw, 0)
	if err != nil {
		return SendCallsParams{}, ErrInvalidParams(err.Error())
	}
	if len(p.Calls) == 0 {
		return SendCallsParams{}, ErrInvalidParams("calls must not be empty")
	}
	for i, c := range p.Calls {
		if to := strings.TrimSpace(c.To); to != "" && !common.IsHexAddress(to) {
			return SendCallsParams{}, ErrInvalidParams(fmt.Sprintf("invalid calls[%d].to", i))
		}
	}
	return p, nil
}

// DecodeHashParam reads a single 32-byte hash param (receipt/tx lookups,
// wallet_getCallsStatus).
func DecodeHashParam(raw json.RawMessage) (common.Hash, *Error) {
	items, err := decodePositional(raw)
	if err != nil {
		return common.Hash{}, ErrInvalidParams(err.Error())
	}
	if len(items) < 1 {
		return common.Hash{}, ErrInvalidParams("missing hash param")
	}
	var h string
	if err := json.Unmarshal(items[0], &h); err != nil {
		return common.Hash{}, ErrInvalidParams("hash must be a string")
	}
	b, derr := hexutil.Decode(strings.TrimSpace(h))
	if derr != nil || len(b) != common.HashLength {
		return common.Hash{}, ErrInvalidParams(fmt.Sprintf("invalid hash %q", h))
	}
	return common.BytesToHash(b), nil
}

// ParseHexQuantity parses a 0x quantity string into a big.Int. Empty input is
// zero, matching how dapps omit value/nonce fields.
func ParseHexQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return new(big.Int), nil
	}
	v := new(big.Int)
	if _, ok := v.SetString(s, 0); !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

// HexQuantity renders a big.Int the way Ethereum JSON-RPC expects.
func HexQuantity(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}
