package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// eip191Hash prefixes and hashes a message per personal_sign:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func eip191Hash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// eip712DigestV4 computes keccak256("\x19\x01" || domainSeparator || msgHash)
// over the typed data.
func eip712DigestV4(typedDataJSON string) ([]byte, error) {
	var td apitypes.TypedData
	if err := json.Unmarshal([]byte(typedDataJSON), &td); err != nil {
		return nil, errors.Wrap(err, "invalid typed data json")
	}

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "domain hash")
	}

	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrap(err, "message hash")
	}

	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, msgHash), nil
}

// decodeSignMessage accepts both forms dapps send: 0x hex bytes or a plain
// UTF-8 string.
func decodeSignMessage(msg string) []byte {
	if strings.HasPrefix(msg, "0x") {
		if raw, err := hexutil.Decode(msg); err == nil {
			return raw
		}
	}
	return []byte(msg)
}

func sigToHex(sig []byte) string {
	// convert the recovery id to the 27/28 convention dapps expect
	if len(sig) == 65 && sig[64] < 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]+27)
	}
	return "0x" + hex.EncodeToString(sig)
}

// PersonalSign signs an EIP-191 personal message and records the signature.
func (b *Backend) PersonalSign(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.PersonalSignParams) (string, error) {
	if p.Address != b.wallet.Address() {
		return "", walletrpc.ErrInvalidParams("address not controlled by this wallet")
	}

	raw := decodeSignMessage(p.Message)
	sig, err := b.wallet.SignDigest(ctx, eip191Hash(raw))
	if err != nil {
		return "", errors.Wrap(err, "personal_sign")
	}
	sigHex := sigToHex(sig)

	chainID, _ := b.ChainID()
	b.activity.LogSignature(app(site), activity.Signature{
		SignatureHash:  activity.HashSignature(sigHex),
		ChainIDHex:     chainID,
		From:           strings.ToLower(p.Address.Hex()),
		Method:         walletrpc.MethodPersonalSign,
		MessageContent: string(raw),
		SignatureHex:   sigHex,
	})
	b.log.Info("signed personal message", logging.Domain(site.Domain))
	return sigHex, nil
}

// SignTypedDataV4 signs an EIP-712 payload and records the signature.
func (b *Backend) SignTypedDataV4(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.TypedDataParams) (string, error) {
	if p.Address != b.wallet.Address() {
		return "", walletrpc.ErrInvalidParams("address not controlled by this wallet")
	}

	digest, err := eip712DigestV4(p.TypedData)
	if err != nil {
		return "", walletrpc.ErrInvalidParams(err.Error())
	}
	sig, err := b.wallet.SignDigest(ctx, digest)
	if err != nil {
		return "", errors.Wrap(err, "eth_signTypedData_v4")
	}
	sigHex := sigToHex(sig)

	chainID, _ := b.ChainID()
	b.activity.LogSignature(app(site), activity.Signature{
		SignatureHash:  activity.HashSignature(sigHex),
		ChainIDHex:     chainID,
		From:           strings.ToLower(p.Address.Hex()),
		Method:         walletrpc.MethodEthSignTypedDataV4,
		MessageContent: p.TypedData,
		SignatureHex:   sigHex,
	})
	b.log.Info("signed typed data", logging.Domain(site.Domain))
	return sigHex, nil
}
