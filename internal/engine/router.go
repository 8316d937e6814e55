package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/backend"
	"github.com/lanternwallet/lantern-agent/internal/chains"
	"github.com/lanternwallet/lantern-agent/internal/connect"
	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

// Executor is the signing-backend surface the router dispatches to.
type Executor interface {
	Accounts() []string
	ChainID() (string, error)
	BlockNumber(ctx context.Context) (string, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (any, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*chains.Receipt, error)
	EstimateTransaction(ctx context.Context, p walletrpc.TxParams) (*backend.EstimateResult, error)
	SendTransaction(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.TxParams) (string, error)
	SendCalls(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.SendCallsParams) (map[string]string, error)
	PersonalSign(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.PersonalSignParams) (string, error)
	SignTypedDataV4(ctx context.Context, site walletrpc.SiteMetadata, p walletrpc.TypedDataParams) (string, error)
	AddEthereumChain(p walletrpc.AddChainParams) error
	SwitchEthereumChain(ctx context.Context, p walletrpc.SwitchChainParams) error
	GetCapabilities() map[string]map[string]any
	GetCallsStatus(ctx context.Context, id common.Hash) (*backend.CallsStatus, error)
	Disconnect(site walletrpc.SiteMetadata)
}

// Router classifies requests, gates them on connection state, and parks
// approval-required ones until the user decides.
type Router struct {
	exec        Executor
	connections *connect.Store
	pending     *PendingTable
	log         *zap.Logger
}

func NewRouter(exec Executor, connections *connect.Store, pending *PendingTable, log *zap.Logger) *Router {
	return &Router{
		exec:        exec,
		connections: connections,
		pending:     pending,
		log:         log.With(logging.Component("router")),
	}
}

// Dispatch handles one inbound request and returns its single response: a
// result, an error, or a pending marker.
func (r *Router) Dispatch(ctx context.Context, req walletrpc.Request) *walletrpc.Response {
	resp := r.dispatch(ctx, req)
	if resp.Error != nil {
		r.log.Info("request failed",
			logging.Method(req.Method), logging.RequestID(req.RequestID),
			logging.Domain(req.Site.Domain), zap.Int("code", resp.Error.Code))
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, req walletrpc.Request) *walletrpc.Response {
	switch walletrpc.Classify(req.Method) {
	case walletrpc.KindFast:
		return r.execute(ctx, req)

	case walletrpc.KindGated:
		if !r.connections.IsConnected(req.Site.Domain) {
			return &walletrpc.Response{Error: walletrpc.ErrUnauthorized()}
		}
		return r.execute(ctx, req)

	case walletrpc.KindApproval:
		if short, resp := r.shortCircuit(req); short {
			return resp
		}
		if err := r.pending.Add(req); err != nil {
			return &walletrpc.Response{Error: walletrpc.ErrInvalidParams(err.Error())}
		}
		r.log.Info("request awaiting approval",
			logging.Method(req.Method), logging.RequestID(req.RequestID), logging.Domain(req.Site.Domain))
		return &walletrpc.Response{Pending: true}

	default:
		return &walletrpc.Response{Error: walletrpc.ErrMethodNotFound(req.Method)}
	}
}

// shortCircuit resolves connect-style methods without approval when the
// domain is already connected.
func (r *Router) shortCircuit(req walletrpc.Request) (bool, *walletrpc.Response) {
	switch req.Method {
	case walletrpc.MethodEthRequestAccounts:
		if r.connections.IsConnected(req.Site.Domain) {
			return true, r.connectResult(req, false)
		}
	case walletrpc.MethodWalletConnect:
		p, werr := walletrpc.DecodeConnect(req.Params)
		if werr != nil {
			return true, &walletrpc.Response{Error: werr}
		}
		// non-empty capabilities (e.g. SIWE) always go to the user
		if !p.HasCapabilities() && r.connections.IsConnected(req.Site.Domain) {
			return true, r.connectResult(req, true)
		}
	}
	return false, nil
}

// connectResult resolves a connect-style request: the connection entry is
// upserted (refreshing its timestamp) and the account list returned.
func (r *Router) connectResult(req walletrpc.Request, walletConnectShape bool) *walletrpc.Response {
	accounts := r.exec.Accounts()
	address := ""
	if len(accounts) > 0 {
		address = accounts[0]
	}
	if err := r.connections.Upsert(req.Site.Domain, address); err != nil {
		r.log.Warn("persist connection", zap.Error(err), logging.Domain(req.Site.Domain))
	}

	if walletConnectShape {
		chainID, _ := r.exec.ChainID()
		return &walletrpc.Response{Result: map[string]any{
			"accounts": accounts,
			"chainId":  chainID,
		}}
	}
	return &walletrpc.Response{Result: accounts}
}

// Complete finishes a parked request with the user's decision and returns the
// final response. The same response is delivered to a waiting Await call.
func (r *Router) Complete(ctx context.Context, conf walletrpc.Confirmation) *walletrpc.Response {
	entry, ok := r.pending.take(conf.RequestID)
	if !ok {
		return &walletrpc.Response{Error: walletrpc.ErrInvalidParams("unknown request id " + conf.RequestID)}
	}

	var resp *walletrpc.Response
	if !conf.Approved {
		// terminal, no side effects
		resp = &walletrpc.Response{Error: walletrpc.ErrUserRejected()}
	} else {
		req := entry.req
		if len(conf.Params) > 0 {
			// the approval UI may have amended the params (e.g. fee bump)
			req.Params = conf.Params
		}
		resp = r.executeApproved(ctx, req)
	}

	entry.done <- resp
	r.log.Info("request completed",
		logging.Method(entry.req.Method), logging.RequestID(conf.RequestID),
		zap.Bool("approved", conf.Approved))
	return resp
}

// Pending lists the requests currently parked for approval.
func (r *Router) Pending() []walletrpc.Request {
	return r.pending.List()
}

// Await blocks until the identified pending request completes, expires, or the
// context ends.
func (r *Router) Await(ctx context.Context, requestID string) *walletrpc.Response {
	done, ok := r.pending.waiter(requestID)
	if !ok {
		return &walletrpc.Response{Error: walletrpc.ErrInvalidParams("unknown request id " + requestID)}
	}
	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return &walletrpc.Response{Error: walletrpc.ErrInternal("await interrupted", nil)}
	}
}

// executeApproved runs an approval-required request after the user said yes.
func (r *Router) executeApproved(ctx context.Context, req walletrpc.Request) *walletrpc.Response {
	switch req.Method {
	case walletrpc.MethodEthRequestAccounts:
		return r.connectResult(req, false)
	case walletrpc.MethodWalletConnect:
		return r.connectResult(req, true)
	case walletrpc.MethodPersonalSign:
		p, werr := walletrpc.DecodePersonalSign(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.PersonalSign(ctx, req.Site, p))
	case walletrpc.MethodEthSignTypedDataV4:
		p, werr := walletrpc.DecodeTypedData(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.SignTypedDataV4(ctx, req.Site, p))
	case walletrpc.MethodEthSendTransaction:
		p, werr := walletrpc.DecodeTxParams(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.SendTransaction(ctx, req.Site, p))
	case walletrpc.MethodWalletSendCalls:
		p, werr := walletrpc.DecodeSendCalls(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.SendCalls(ctx, req.Site, p))
	default:
		return &walletrpc.Response{Error: walletrpc.ErrMethodNotFound(req.Method)}
	}
}

// execute runs fast and gated methods directly against the backend.
func (r *Router) execute(ctx context.Context, req walletrpc.Request) *walletrpc.Response {
	switch req.Method {
	case walletrpc.MethodEthAccounts:
		return &walletrpc.Response{Result: r.exec.Accounts()}
	case walletrpc.MethodEthChainID:
		return wrap(r.exec.ChainID())
	case walletrpc.MethodEthBlockNumber:
		return wrap(r.exec.BlockNumber(ctx))
	case walletrpc.MethodEthGetTxByHash:
		hash, werr := walletrpc.DecodeHashParam(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.TransactionByHash(ctx, hash))
	case walletrpc.MethodEthGetTxReceipt:
		hash, werr := walletrpc.DecodeHashParam(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.TransactionReceipt(ctx, hash))
	case walletrpc.MethodWalletEstimateTx:
		p, werr := walletrpc.DecodeTxParams(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.EstimateTransaction(ctx, p))
	case walletrpc.MethodWalletAddChain:
		p, werr := walletrpc.DecodeAddChain(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		if err := r.exec.AddEthereumChain(p); err != nil {
			return &walletrpc.Response{Error: walletrpc.AsError(err)}
		}
		return &walletrpc.Response{Result: nil}
	case walletrpc.MethodWalletSwitchChain:
		p, werr := walletrpc.DecodeSwitchChain(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		if err := r.exec.SwitchEthereumChain(ctx, p); err != nil {
			return &walletrpc.Response{Error: walletrpc.AsError(err)}
		}
		return &walletrpc.Response{Result: nil}
	case walletrpc.MethodWalletGetCapabilities:
		return &walletrpc.Response{Result: r.exec.GetCapabilities()}
	case walletrpc.MethodWalletGetCallsStatus:
		hash, werr := walletrpc.DecodeHashParam(req.Params)
		if werr != nil {
			return &walletrpc.Response{Error: werr}
		}
		return wrap(r.exec.GetCallsStatus(ctx, hash))
	case walletrpc.MethodWalletDisconnect:
		r.exec.Disconnect(req.Site)
		// removal is unconditional and idempotent
		if err := r.connections.Remove(req.Site.Domain); err != nil {
			return &walletrpc.Response{Error: walletrpc.AsError(err)}
		}
		return &walletrpc.Response{Result: true}
	default:
		return &walletrpc.Response{Error: walletrpc.ErrMethodNotFound(req.Method)}
	}
}

func wrap[T any](result T, err error) *walletrpc.Response {
	if err != nil {
		return &walletrpc.Response{Error: walletrpc.AsError(err)}
	}
	return &walletrpc.Response{Result: result}
}
