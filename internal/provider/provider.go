// Package provider is the dapp-facing facade over the agent's RPC surface. It
// speaks the same request/response envelope the browser extension uses, keeps
// the EIP-1193 account and chain state cached locally, and turns wire errors
// back into *walletrpc.Error values so codes and data survive the round trip.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// Light reads resolve in one round trip; approval methods hang until the user
// decides, so they get the long leash.
const (
	fastTimeout     = 8 * time.Second
	approvalTimeout = 60 * time.Second
)

const sessionTokenHeader = "X-Lantern-Token"

// Provider binds one site identity to an agent endpoint. Concurrent Request
// calls are safe.
type Provider struct {
	baseURL string
	token   string
	site    walletrpc.SiteMetadata
	http    *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	accounts []string
	chainID  string

	onAccountsChanged func(accounts []string)
	onChainChanged    func(chainIDHex string)
}

func New(baseURL, token string, site walletrpc.SiteMetadata, log *zap.Logger) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		site:    site,
		http:    &http.Client{},
		log:     log.With(logging.Component("provider"), logging.Domain(site.Domain)),
	}
}

// OnAccountsChanged registers the accountsChanged listener. It fires only when
// the visible account list actually differs from the cached one.
func (p *Provider) OnAccountsChanged(fn func(accounts []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAccountsChanged = fn
}

// OnChainChanged registers the chainChanged listener.
func (p *Provider) OnChainChanged(fn func(chainIDHex string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChainChanged = fn
}

// SelectedAddress returns the cached primary account, or "" when disconnected.
func (p *Provider) SelectedAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return ""
	}
	return p.accounts[0]
}

// CachedAccounts returns a copy of the last account list the agent reported.
func (p *Provider) CachedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Request performs one EIP-1193 request. params may be nil, a pre-marshalled
// json.RawMessage, or any value that marshals to the method's params array.
// Errors from the agent come back as *walletrpc.Error with code, message and
// data intact.
func (p *Provider) Request(ctx context.Context, method string, params any) (any, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	req := walletrpc.Request{
		Method:    method,
		Params:    raw,
		RequestID: uuid.NewString(),
		Site:      p.site,
	}

	ctx, cancel := context.WithTimeout(ctx, methodTimeout(method))
	defer cancel()

	resp, err := p.post(ctx, "/wallet/rpc", req)
	if err != nil {
		return nil, err
	}
	if resp.Pending {
		resp, err = p.awaitCompletion(ctx, req.RequestID)
		if err != nil {
			return nil, err
		}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	p.observe(method, raw, resp.Result)
	return resp.Result, nil
}

// RequestAccounts runs eth_requestAccounts and returns the account list.
func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	result, err := p.Request(ctx, walletrpc.MethodEthRequestAccounts, nil)
	if err != nil {
		return nil, err
	}
	return toStringSlice(result)
}

// Accounts runs eth_accounts. An Unauthorized error means the site is simply
// not connected; it is surfaced unchanged.
func (p *Provider) Accounts(ctx context.Context) ([]string, error) {
	result, err := p.Request(ctx, walletrpc.MethodEthAccounts, nil)
	if err != nil {
		return nil, err
	}
	return toStringSlice(result)
}

// ChainID runs eth_chainId.
func (p *Provider) ChainID(ctx context.Context) (string, error) {
	result, err := p.Request(ctx, walletrpc.MethodEthChainID, nil)
	if err != nil {
		return "", err
	}
	s, _ := result.(string)
	return s, nil
}

// SendTransaction runs eth_sendTransaction and returns the tx hash.
func (p *Provider) SendTransaction(ctx context.Context, tx walletrpc.TxParams) (string, error) {
	result, err := p.Request(ctx, walletrpc.MethodEthSendTransaction, []any{tx})
	if err != nil {
		return "", err
	}
	s, _ := result.(string)
	return s, nil
}

// PersonalSign runs personal_sign for the given message and signer.
func (p *Provider) PersonalSign(ctx context.Context, message, address string) (string, error) {
	result, err := p.Request(ctx, walletrpc.MethodPersonalSign, []any{message, address})
	if err != nil {
		return "", err
	}
	s, _ := result.(string)
	return s, nil
}

// Disconnect runs wallet_disconnect and clears the cached accounts.
func (p *Provider) Disconnect(ctx context.Context) error {
	_, err := p.Request(ctx, walletrpc.MethodWalletDisconnect, nil)
	return err
}

func methodTimeout(method string) time.Duration {
	if walletrpc.Classify(method) == walletrpc.KindApproval {
		return approvalTimeout
	}
	return fastTimeout
}

func marshalParams(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshal params")
		}
		return b, nil
	}
}

// awaitCompletion polls the await endpoint until the parked request resolves
// or the caller's deadline passes. Each poll is bounded server-side, so a slow
// approval just produces another poll.
func (p *Provider) awaitCompletion(ctx context.Context, requestID string) (*walletrpc.Response, error) {
	for {
		resp, err := p.get(ctx, "/wallet/rpc/await?requestId="+requestID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "approval timed out")
			}
			return nil, err
		}
		if resp.Error != nil && resp.Error.Code == walletrpc.CodeInternal &&
			strings.Contains(resp.Error.Message, "await interrupted") {
			// server-side poll ceiling, re-arm
			continue
		}
		return resp, nil
	}
}

// observe updates the cached EIP-1193 state from a successful result and fires
// change listeners outside the lock.
func (p *Provider) observe(method string, params json.RawMessage, result any) {
	var (
		notifyAccounts func(accounts []string)
		newAccounts    []string
		notifyChain    func(chainIDHex string)
		newChain       string
	)

	p.mu.Lock()
	switch method {
	case walletrpc.MethodEthAccounts, walletrpc.MethodEthRequestAccounts:
		if accounts, err := toStringSlice(result); err == nil && !equalStrings(accounts, p.accounts) {
			p.accounts = accounts
			newAccounts = accounts
			notifyAccounts = p.onAccountsChanged
		}
	case walletrpc.MethodWalletConnect:
		if m, ok := result.(map[string]any); ok {
			if accounts, err := toStringSlice(m["accounts"]); err == nil && !equalStrings(accounts, p.accounts) {
				p.accounts = accounts
				newAccounts = accounts
				notifyAccounts = p.onAccountsChanged
			}
		}
	case walletrpc.MethodWalletDisconnect:
		if len(p.accounts) > 0 {
			p.accounts = nil
			newAccounts = []string{}
			notifyAccounts = p.onAccountsChanged
		}
	case walletrpc.MethodWalletSwitchChain:
		if sp, werr := walletrpc.DecodeSwitchChain(params); werr == nil && sp.ChainID != p.chainID {
			p.chainID = sp.ChainID
			newChain = sp.ChainID
			notifyChain = p.onChainChanged
		}
	case walletrpc.MethodEthChainID:
		if s, ok := result.(string); ok {
			p.chainID = s
		}
	}
	p.mu.Unlock()

	if notifyAccounts != nil {
		notifyAccounts(newAccounts)
	}
	if notifyChain != nil {
		notifyChain(newChain)
	}
}

func (p *Provider) post(ctx context.Context, path string, body any) (*walletrpc.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req)
}

func (p *Provider) get(ctx context.Context, path string) (*walletrpc.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	return p.do(req)
}

func (p *Provider) do(req *http.Request) (*walletrpc.Response, error) {
	req.Header.Set(sessionTokenHeader, p.token)
	httpResp, err := p.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "agent request")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read agent response")
	}

	var resp walletrpc.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "agent returned status %d with undecodable body", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK && resp.Error == nil {
		return nil, errors.Newf("agent returned status %d", httpResp.StatusCode)
	}
	return &resp, nil
}

func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("account list contains a non-string entry")
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, errors.New("result is not an account list")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
