package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/activity"
	"github.com/lanternwallet/lantern-agent/internal/backend"
	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/connect"
	"github.com/lanternwallet/lantern-agent/internal/engine"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

const testAddress = "0xabcabcabcabcabcabcabcabcabcabcabcabcabca"

type stubExec struct{}

func (stubExec) Accounts() []string                       { return []string{testAddress} }
func (stubExec) ChainID() (string, error)                 { return "0x1", nil }
func (stubExec) BlockNumber(context.Context) (string, error) { return "0x10", nil }
func (stubExec) TransactionByHash(context.Context, common.Hash) (any, error) {
	return nil, nil
}
func (stubExec) TransactionReceipt(context.Context, common.Hash) (*chains.Receipt, error) {
	return nil, nil
}
func (stubExec) EstimateTransaction(context.Context, walletrpc.TxParams) (*backend.EstimateResult, error) {
	return &backend.EstimateResult{GasLimit: "0x5208"}, nil
}
func (stubExec) SendTransaction(context.Context, walletrpc.SiteMetadata, walletrpc.TxParams) (string, error) {
	return "0xhash", nil
}
func (stubExec) SendCalls(context.Context, walletrpc.SiteMetadata, walletrpc.SendCallsParams) (map[string]string, error) {
	return map[string]string{"id": "0xhash"}, nil
}
func (stubExec) PersonalSign(context.Context, walletrpc.SiteMetadata, walletrpc.PersonalSignParams) (string, error) {
	return "0xsig", nil
}
func (stubExec) SignTypedDataV4(context.Context, walletrpc.SiteMetadata, walletrpc.TypedDataParams) (string, error) {
	return "0xsig", nil
}
func (stubExec) AddEthereumChain(walletrpc.AddChainParams) error { return nil }
func (stubExec) SwitchEthereumChain(context.Context, walletrpc.SwitchChainParams) error {
	return nil
}
func (stubExec) GetCapabilities() map[string]map[string]any { return nil }
func (stubExec) GetCallsStatus(context.Context, common.Hash) (*backend.CallsStatus, error) {
	return &backend.CallsStatus{Status: 100}, nil
}
func (stubExec) Disconnect(walletrpc.SiteMetadata) {}

type stubAuth struct{}

func (stubAuth) AuthorizationStatuses(context.Context) []backend.AuthorizationStatus {
	return []backend.AuthorizationStatus{{ChainID: "0x1", ChainName: "mainnet"}}
}
func (stubAuth) UpgradeAuthorization(context.Context) (string, error) { return "0xup", nil }
func (stubAuth) ResetAuthorization(context.Context) (string, error)   { return "0xdown", nil }
func (stubAuth) WaitForTransactionConfirmation(context.Context, common.Hash) error {
	return nil
}

type stubNetworks struct{}

func (stubNetworks) Networks() []chains.Network {
	return []chains.Network{{Name: "mainnet", ChainIDHex: "0x1"}}
}

func newTestServer(t *testing.T) (*Server, *connect.Store) {
	t.Helper()
	dir := t.TempDir()

	db, err := activity.OpenDB(filepath.Join(dir, "activity.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := activity.NewStore(db, zap.NewNop())

	connections := connect.NewStore(filepath.Join(dir, "connections.json"))
	router := engine.NewRouter(stubExec{}, connections, engine.NewPendingTable(zap.NewNop()), zap.NewNop())

	s, err := New(router, stubAuth{}, stubNetworks{}, store, connections,
		filepath.Join(dir, "token"), []string{"http://127.0.0.1:5173"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s, connections
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "127.0.0.1:55555"
	if token != "" {
		req.Header.Set(sessionTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestGuards(t *testing.T) {
	s, _ := newTestServer(t)

	// health needs no token
	if rec := doRequest(s, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	// rpc requires the session token
	if rec := doRequest(s, http.MethodPost, "/wallet/rpc", "", "{}"); rec.Code != http.StatusUnauthorized {
		t.Errorf("tokenless rpc = %d, want 401", rec.Code)
	}
	if rec := doRequest(s, http.MethodPost, "/wallet/rpc", "wrong-token", "{}"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token rpc = %d, want 401", rec.Code)
	}

	// non-loopback callers are rejected outright
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:44444"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote healthz = %d, want 403", rec.Code)
	}
}

func TestTokenPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	first, err := loadOrCreateToken(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := loadOrCreateToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("token changed across loads")
	}
}

func TestRPCDispatch(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/wallet/rpc", s.SessionToken(),
		`{"method":"eth_chainId","requestId":"r1","site":{"domain":"app.example"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp walletrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil || resp.Result != "0x1" {
		t.Errorf("resp = %+v", resp)
	}

	// missing request id is rejected before dispatch
	rec = doRequest(s, http.MethodPost, "/wallet/rpc", s.SessionToken(), `{"method":"eth_chainId"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing requestId = %d", rec.Code)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	s, connections := newTestServer(t)
	token := s.SessionToken()

	rec := doRequest(s, http.MethodPost, "/wallet/rpc", token,
		`{"method":"eth_requestAccounts","requestId":"r1","site":{"domain":"app.example","uri":"https://app.example/","scheme":"https"}}`)
	var resp walletrpc.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Pending {
		t.Fatalf("expected pending, got %+v", resp)
	}

	// the UI sees the parked request
	rec = doRequest(s, http.MethodGet, "/wallet/rpc/pending", token, "")
	var pendingResp struct {
		Pending []walletrpc.Request `json:"pending"`
	}
	json.Unmarshal(rec.Body.Bytes(), &pendingResp)
	if len(pendingResp.Pending) != 1 || pendingResp.Pending[0].RequestID != "r1" {
		t.Fatalf("pending list = %+v", pendingResp.Pending)
	}

	// await in the background, then approve
	type awaited struct {
		code int
		body []byte
	}
	awaitCh := make(chan awaited, 1)
	go func() {
		rec := doRequest(s, http.MethodGet, "/wallet/rpc/await?requestId=r1", token, "")
		awaitCh <- awaited{rec.Code, rec.Body.Bytes()}
	}()
	time.Sleep(20 * time.Millisecond)

	rec = doRequest(s, http.MethodPost, "/wallet/rpc/complete", token,
		`{"approved":true,"method":"eth_requestAccounts","requestId":"r1"}`)
	var completeResp walletrpc.Response
	json.Unmarshal(rec.Body.Bytes(), &completeResp)
	if completeResp.Error != nil {
		t.Fatalf("complete: %+v", completeResp.Error)
	}

	select {
	case got := <-awaitCh:
		var awaitResp walletrpc.Response
		if err := json.Unmarshal(got.body, &awaitResp); err != nil {
			t.Fatal(err)
		}
		accounts, ok := awaitResp.Result.([]any)
		if !ok || len(accounts) != 1 || accounts[0] != testAddress {
			t.Errorf("await result = %+v", awaitResp.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("await never returned")
	}

	if !connections.IsConnected("app.example") {
		t.Error("approved connect not persisted")
	}
}

func TestActivityEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.activity.LogTransaction(
		activity.App{Domain: "app.example", URI: "https://app.example/", Scheme: "https"},
		activity.Transaction{TxHash: "0xaaa", ChainIDHex: "0x1", From: testAddress, Method: "eth_sendTransaction"},
	)

	rec := doRequest(s, http.MethodGet, "/wallet/activity?domain=app.example", s.SessionToken(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Activity []activity.Entry `json:"activity"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Activity) != 1 || resp.Activity[0].Transaction.TxHash != "0xaaa" {
		t.Errorf("activity = %+v", resp.Activity)
	}

	if rec := doRequest(s, http.MethodGet, "/wallet/activity?limit=-2", s.SessionToken(), ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit = %d", rec.Code)
	}
}

func TestConnectionsEndpoints(t *testing.T) {
	s, connections := newTestServer(t)
	connections.Upsert("app.example", testAddress)

	rec := doRequest(s, http.MethodGet, "/wallet/connections", s.SessionToken(), "")
	var listResp struct {
		Connections map[string]connect.Entry `json:"connections"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if _, ok := listResp.Connections["app.example"]; !ok {
		t.Errorf("connections = %+v", listResp.Connections)
	}

	doRequest(s, http.MethodPost, "/wallet/connections/clear", s.SessionToken(), "")
	if connections.IsConnected("app.example") {
		t.Error("clear did not remove the connection")
	}
}

func TestAuthorizationEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	token := s.SessionToken()

	rec := doRequest(s, http.MethodGet, "/wallet/authorization/status", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mainnet") {
		t.Errorf("status: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/wallet/authorization/upgrade", token, "")
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["txHash"] != "0xup" || resp["confirmed"] != true {
		t.Errorf("upgrade = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/wallet/rpc/pending", nil)
	req.RemoteAddr = "127.0.0.1:55555"
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://127.0.0.1:5173" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// unknown origins get no CORS headers
	req = httptest.NewRequest(http.MethodOptions, "/wallet/rpc/pending", nil)
	req.RemoteAddr = "127.0.0.1:55555"
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected CORS grant for unknown origin")
	}
}
