// Package keys is the narrow signing boundary: a digest goes in, a signature
// comes out, and the private key never crosses into the request engine.
package keys

import (
	"context"
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Wallet signs 32-byte digests and EIP-7702 authorization tuples for one
// address.
type Wallet interface {
	Address() common.Address
	// SignDigest returns a 65-byte [R || S || V] signature with V in {0, 1}.
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
	// SignAuthorization signs an EIP-7702 authorization tuple.
	SignAuthorization(auth types.SetCodeAuthorization) (types.SetCodeAuthorization, error)
}

// LocalWallet holds a plain secp256k1 key decrypted from a keystore file.
type LocalWallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ Wallet = (*LocalWallet)(nil)

func NewLocalWallet(key *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Generate creates a wallet with a fresh random key.
func Generate() (*LocalWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return NewLocalWallet(key), nil
}

// FromHex builds a wallet from a 0x-prefixed or bare hex private key.
func FromHex(hexKey string) (*LocalWallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return NewLocalWallet(key), nil
}

func (w *LocalWallet) Address() common.Address {
	return w.addr
}

func (w *LocalWallet) SignDigest(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, errors.Newf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	return crypto.Sign(digest, w.key)
}

func (w *LocalWallet) SignAuthorization(auth types.SetCodeAuthorization) (types.SetCodeAuthorization, error) {
	return types.SignSetCode(w.key, auth)
}

// Load decrypts the first keystore file found under dir.
func Load(dir, passphrase string) (*LocalWallet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read keystore dir")
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read keystore file %s", e.Name())
		}
		k, err := keystore.DecryptKey(raw, passphrase)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt keystore file %s", e.Name())
		}
		return NewLocalWallet(k.PrivateKey), nil
	}
	return nil, errors.Newf("no keystore file in %s", dir)
}

// Import encrypts a private key into a new keystore file under dir and
// returns the file path.
func Import(dir string, key *ecdsa.PrivateKey, passphrase string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "mkdir keystore dir")
	}

	k := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
	raw, err := keystore.EncryptKey(k, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return "", errors.Wrap(err, "encrypt key")
	}

	path := filepath.Join(dir, strings.ToLower(k.Address.Hex())+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", errors.Wrap(err, "write keystore file")
	}
	return path, nil
}
