package keys

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func TestFromHexAddress(t *testing.T) {
	// well-known dev key
	w, err := FromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if w.Address() != want {
		t.Errorf("address = %s, want %s", w.Address().Hex(), want.Hex())
	}
}

func TestSignDigestRecovers(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	digest := crypto.Keccak256([]byte("hello"))

	sig, err := w.SignDigest(context.Background(), digest)
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 0 && sig[64] != 1 {
		t.Errorf("recovery id = %d, want 0 or 1", sig[64])
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != w.Address() {
		t.Error("recovered address does not match the wallet")
	}
}

func TestSignDigestRejectsBadLength(t *testing.T) {
	w, _ := Generate()
	if _, err := w.SignDigest(context.Background(), []byte("short")); err == nil {
		t.Error("expected an error for a non-32-byte digest")
	}
}

func TestSignAuthorization(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	auth := types.SetCodeAuthorization{
		ChainID: *uint256.NewInt(1),
		Address: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:   7,
	}

	signed, err := w.SignAuthorization(auth)
	if err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}
	authority, err := signed.Authority()
	if err != nil {
		t.Fatalf("Authority: %v", err)
	}
	if authority != w.Address() {
		t.Errorf("authority = %s, want %s", authority.Hex(), w.Address().Hex())
	}
}

func TestImportLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Import(dir, w.key, "passphrase"); err != nil {
		t.Fatalf("Import: %v", err)
	}

	loaded, err := Load(dir, "passphrase")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Address() != w.Address() {
		t.Errorf("loaded address = %s, want %s", loaded.Address().Hex(), w.Address().Hex())
	}

	if _, err := Load(dir, "wrong"); err == nil {
		t.Error("expected decryption failure with the wrong passphrase")
	}
}
