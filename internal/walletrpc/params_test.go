package walletrpc

import (
	"encoding/json"
	"testing"
)

func TestDecodeTxParams(t *testing.T) {
	raw := json.RawMessage(`[{"from":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","value":"0xde0b6b3a7640000"}]`)
	tx, werr := DecodeTxParams(raw)
	if werr != nil {
		t.Fatal(werr)
	}
	if tx.Value != "0xde0b6b3a7640000" {
		t.Errorf("value = %q", tx.Value)
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"missing from", `[{"to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}]`},
		{"bad from", `[{"from":"not-an-address"}]`},
		{"bad to", `[{"from":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","to":"junk"}]`},
		{"object not array", `{"from":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}`},
		{"empty params", `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, werr := DecodeTxParams(json.RawMessage(tc.raw))
			if werr == nil {
				t.Fatal("expected error")
			}
			if werr.Code != CodeInvalidParams {
				t.Errorf("code = %d", werr.Code)
			}
		})
	}

	// contract creation leaves to empty
	tx, werr = DecodeTxParams(json.RawMessage(`[{"from":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","data":"0x6080"}]`))
	if werr != nil {
		t.Fatal(werr)
	}
	if tx.To != "" {
		t.Errorf("to = %q", tx.To)
	}
}

func TestDecodePersonalSign(t *testing.T) {
	raw := json.RawMessage(`["0x68656c6c6f","0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"]`)
	p, werr := DecodePersonalSign(raw)
	if werr != nil {
		t.Fatal(werr)
	}
	if p.Message != "0x68656c6c6f" {
		t.Errorf("message = %q", p.Message)
	}

	if _, werr := DecodePersonalSign(json.RawMessage(`["only-message"]`)); werr == nil {
		t.Error("expected error for single param")
	}
	if _, werr := DecodePersonalSign(json.RawMessage(`["msg","bad-address"]`)); werr == nil {
		t.Error("expected error for bad address")
	}
}

func TestDecodeTypedDataForms(t *testing.T) {
	// string form
	p, werr := DecodeTypedData(json.RawMessage(`["0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","{\"types\":{}}"]`))
	if werr != nil {
		t.Fatal(werr)
	}
	if p.TypedData != `{"types":{}}` {
		t.Errorf("typed data = %q", p.TypedData)
	}

	// inline object form
	p, werr = DecodeTypedData(json.RawMessage(`["0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",{"types":{}}]`))
	if werr != nil {
		t.Fatal(werr)
	}
	if p.TypedData != `{"types":{}}` {
		t.Errorf("inline typed data = %q", p.TypedData)
	}
}

func TestDecodeConnect(t *testing.T) {
	p, werr := DecodeConnect(nil)
	if werr != nil {
		t.Fatal(werr)
	}
	if p.HasCapabilities() {
		t.Error("nil params should have no capabilities")
	}

	p, werr = DecodeConnect(json.RawMessage(`[{"capabilities":{"signInWithEthereum":{"nonce":"abc"}}}]`))
	if werr != nil {
		t.Fatal(werr)
	}
	if !p.HasCapabilities() {
		t.Error("capabilities lost in decode")
	}
}

func TestDecodeSwitchAndAddChain(t *testing.T) {
	if _, werr := DecodeSwitchChain(json.RawMessage(`[{"chainId":"0x2105"}]`)); werr != nil {
		t.Fatal(werr)
	}
	if _, werr := DecodeSwitchChain(json.RawMessage(`[{"chainId":"base"}]`)); werr == nil {
		t.Error("expected error for non-hex chain id")
	}

	if _, werr := DecodeAddChain(json.RawMessage(`[{"chainId":"0x2105","chainName":"base","rpcUrls":["https://mainnet.base.org"]}]`)); werr != nil {
		t.Fatal(werr)
	}
	if _, werr := DecodeAddChain(json.RawMessage(`[{"chainId":"0x2105","chainName":"base"}]`)); werr == nil {
		t.Error("expected error for missing rpcUrls")
	}
}

func TestDecodeSendCalls(t *testing.T) {
	raw := json.RawMessage(`[{"version":"2.0.0","chainId":"0x1","from":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","calls":[{"to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","value":"0x1"}]}]`)
	p, werr := DecodeSendCalls(raw)
	if werr != nil {
		t.Fatal(werr)
	}
	if len(p.Calls) != 1 {
		t.Errorf("calls = %d", len(p.Calls))
	}

	if _, werr := DecodeSendCalls(json.RawMessage(`[{"calls":[]}]`)); werr == nil {
		t.Error("expected error for empty calls")
	}
	if _, werr := DecodeSendCalls(json.RawMessage(`[{"calls":[{"to":"junk"}]}]`)); werr == nil {
		t.Error("expected error for invalid call target")
	}
}

func TestDecodeHashParam(t *testing.T) {
	h, werr := DecodeHashParam(json.RawMessage(`["0x1111111111111111111111111111111111111111111111111111111111111111"]`))
	if werr != nil {
		t.Fatal(werr)
	}
	if h.Hex() != "0x1111111111111111111111111111111111111111111111111111111111111111" {
		t.Errorf("hash = %s", h.Hex())
	}
	if _, werr := DecodeHashParam(json.RawMessage(`["0x1234"]`)); werr == nil {
		t.Error("expected error for short hash")
	}
}

func TestHexQuantityRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0x0"},
		{"0x", "0x0"},
		{"0x0", "0x0"},
		{"0x2105", "0x2105"},
		{"0xde0b6b3a7640000", "0xde0b6b3a7640000"},
	}
	for _, tc := range cases {
		v, err := ParseHexQuantity(tc.in)
		if err != nil {
			t.Fatalf("ParseHexQuantity(%q): %v", tc.in, err)
		}
		if got := HexQuantity(v); got != tc.want {
			t.Errorf("HexQuantity(ParseHexQuantity(%q)) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := ParseHexQuantity("0xzz"); err == nil {
		t.Error("expected error for invalid quantity")
	}
}
