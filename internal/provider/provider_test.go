package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

const testAddress = "0xabcabcabcabcabcabcabcabcabcabcabcabcabca"

// fakeAgent scripts the agent side of the wire protocol: immediate responses
// per method plus an optional deferred response served through await.
type fakeAgent struct {
	mu        sync.Mutex
	responses map[string]walletrpc.Response
	deferred  map[string]walletrpc.Response
	requests  []walletrpc.Request
	tokens    []string
}

func (f *fakeAgent) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req walletrpc.Request
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.tokens = append(f.tokens, r.Header.Get("X-Lantern-Token"))
		resp, ok := f.responses[req.Method]
		_, isDeferred := f.deferred[req.Method]
		if isDeferred {
			f.deferred[req.RequestID] = f.deferred[req.Method]
		}
		f.mu.Unlock()

		switch {
		case isDeferred:
			json.NewEncoder(w).Encode(walletrpc.Response{Pending: true})
		case ok:
			json.NewEncoder(w).Encode(resp)
		default:
			json.NewEncoder(w).Encode(walletrpc.Response{Error: walletrpc.ErrMethodNotFound(req.Method)})
		}
	})
	mux.HandleFunc("/wallet/rpc/await", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("requestId")
		f.mu.Lock()
		resp, ok := f.deferred[id]
		f.mu.Unlock()
		if !ok {
			json.NewEncoder(w).Encode(walletrpc.Response{Error: walletrpc.ErrInvalidParams("unknown request id " + id)})
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func (f *fakeAgent) lastRequest() walletrpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestProvider(t *testing.T, agent *fakeAgent) *Provider {
	t.Helper()
	if agent.responses == nil {
		agent.responses = map[string]walletrpc.Response{}
	}
	if agent.deferred == nil {
		agent.deferred = map[string]walletrpc.Response{}
	}
	srv := httptest.NewServer(agent.handler())
	t.Cleanup(srv.Close)
	site := walletrpc.SiteMetadata{Domain: "app.example", URI: "https://app.example/", Scheme: "https"}
	return New(srv.URL, "test-token", site, zap.NewNop())
}

func TestFastRequest(t *testing.T) {
	agent := &fakeAgent{responses: map[string]walletrpc.Response{
		walletrpc.MethodEthChainID: {Result: "0x1"},
	}}
	p := newTestProvider(t, agent)

	chainID, err := p.ChainID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if chainID != "0x1" {
		t.Errorf("chainId = %q", chainID)
	}

	last := agent.lastRequest()
	if last.Site.Domain != "app.example" || last.RequestID == "" {
		t.Errorf("request envelope = %+v", last)
	}
	agent.mu.Lock()
	token := agent.tokens[0]
	agent.mu.Unlock()
	if token != "test-token" {
		t.Errorf("session token = %q", token)
	}
}

func TestErrorSurvivesRoundTrip(t *testing.T) {
	agent := &fakeAgent{responses: map[string]walletrpc.Response{
		walletrpc.MethodEthAccounts:       {Error: walletrpc.ErrUnauthorized()},
		walletrpc.MethodWalletSwitchChain: {Error: walletrpc.ErrChainNotAdded("0x2105")},
	}}
	p := newTestProvider(t, agent)

	_, err := p.Accounts(context.Background())
	var werr *walletrpc.Error
	if !errorAs(err, &werr) || werr.Code != walletrpc.CodeUnauthorized {
		t.Fatalf("accounts err = %v", err)
	}
	if werr.Message != "Unauthorized" {
		t.Errorf("message = %q", werr.Message)
	}

	_, err = p.Request(context.Background(), walletrpc.MethodWalletSwitchChain,
		[]any{walletrpc.SwitchChainParams{ChainID: "0x2105"}})
	if !errorAs(err, &werr) || werr.Code != walletrpc.CodeChainNotAdded {
		t.Fatalf("switch err = %v", err)
	}
	if werr.Data != "0x2105" {
		t.Errorf("data = %v", werr.Data)
	}
}

func TestPendingThenAwait(t *testing.T) {
	agent := &fakeAgent{deferred: map[string]walletrpc.Response{
		walletrpc.MethodEthRequestAccounts: {Result: []any{testAddress}},
	}}
	p := newTestProvider(t, agent)

	accounts, err := p.RequestAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0] != testAddress {
		t.Errorf("accounts = %v", accounts)
	}
	if p.SelectedAddress() != testAddress {
		t.Errorf("selectedAddress = %q", p.SelectedAddress())
	}
}

func TestAccountsChangedFiresOnce(t *testing.T) {
	agent := &fakeAgent{responses: map[string]walletrpc.Response{
		walletrpc.MethodEthAccounts: {Result: []any{testAddress}},
	}}
	p := newTestProvider(t, agent)

	var events [][]string
	p.OnAccountsChanged(func(accounts []string) { events = append(events, accounts) })

	for i := 0; i < 3; i++ {
		if _, err := p.Accounts(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(events) != 1 {
		t.Fatalf("accountsChanged fired %d times", len(events))
	}
	if len(events[0]) != 1 || events[0][0] != testAddress {
		t.Errorf("event payload = %v", events[0])
	}
}

func TestDisconnectClearsCacheAndNotifies(t *testing.T) {
	agent := &fakeAgent{responses: map[string]walletrpc.Response{
		walletrpc.MethodEthAccounts:      {Result: []any{testAddress}},
		walletrpc.MethodWalletDisconnect: {Result: true},
	}}
	p := newTestProvider(t, agent)

	var events [][]string
	p.OnAccountsChanged(func(accounts []string) { events = append(events, accounts) })

	if _, err := p.Accounts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if p.SelectedAddress() != "" {
		t.Errorf("selectedAddress after disconnect = %q", p.SelectedAddress())
	}
	if len(events) != 2 || len(events[1]) != 0 {
		t.Errorf("events = %v", events)
	}
}

func TestChainChangedOnSwitch(t *testing.T) {
	agent := &fakeAgent{responses: map[string]walletrpc.Response{
		walletrpc.MethodWalletSwitchChain: {Result: nil},
	}}
	p := newTestProvider(t, agent)

	var chains []string
	p.OnChainChanged(func(chainID string) { chains = append(chains, chainID) })

	params := []any{walletrpc.SwitchChainParams{ChainID: "0x2105"}}
	if _, err := p.Request(context.Background(), walletrpc.MethodWalletSwitchChain, params); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Request(context.Background(), walletrpc.MethodWalletSwitchChain, params); err != nil {
		t.Fatal(err)
	}

	if len(chains) != 1 || chains[0] != "0x2105" {
		t.Errorf("chainChanged events = %v", chains)
	}
}

func TestApprovalTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wallet/rpc" {
			json.NewEncoder(w).Encode(walletrpc.Response{Pending: true})
			return
		}
		// await hangs past the caller's deadline
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(walletrpc.Response{Error: walletrpc.ErrUserRejected()})
	}))
	t.Cleanup(srv.Close)

	p := New(srv.URL, "t", walletrpc.SiteMetadata{Domain: "app.example"}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Request(ctx, walletrpc.MethodEthSendTransaction,
		[]any{walletrpc.TxParams{From: testAddress}})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func errorAs(err error, target **walletrpc.Error) bool {
	if err == nil {
		return false
	}
	we, ok := err.(*walletrpc.Error)
	if !ok {
		return false
	}
	*target = we
	return true
}
