package walletrpc

// RPC method surface exposed to pages. Naming is bit-exact.
const (
	MethodEthAccounts           = "eth_accounts"
	MethodEthRequestAccounts    = "eth_requestAccounts"
	MethodWalletConnect         = "wallet_connect"
	MethodWalletDisconnect      = "wallet_disconnect"
	MethodEthChainID            = "eth_chainId"
	MethodEthBlockNumber        = "eth_blockNumber"
	MethodEthGetTxByHash        = "eth_getTransactionByHash"
	MethodEthGetTxReceipt       = "eth_getTransactionReceipt"
	MethodWalletAddChain        = "wallet_addEthereumChain"
	MethodWalletSwitchChain     = "wallet_switchEthereumChain"
	MethodWalletGetCapabilities = "wallet_getCapabilities"
	MethodWalletGetCallsStatus  = "wallet_getCallsStatus"
	MethodEthSendTransaction    = "eth_sendTransaction"
	MethodWalletSendCalls       = "wallet_sendCalls"
	MethodPersonalSign          = "personal_sign"
	MethodEthSignTypedDataV4    = "eth_signTypedData_v4"

	// Estimation-only extension method (not part of the standard surface).
	MethodWalletEstimateTx = "wallet_estimateTransaction"
)

// Kind says how the router treats an inbound method.
type Kind int

const (
	// KindUnknown methods are rejected with CodeMethodNotFound.
	KindUnknown Kind = iota
	// KindFast methods go straight to the signing backend, no gating.
	KindFast
	// KindGated methods require an existing connection for the origin domain.
	KindGated
	// KindApproval methods park a PendingRequest and wait for the user.
	KindApproval
)

var methodKinds = map[string]Kind{
	MethodEthChainID:            KindFast,
	MethodEthBlockNumber:        KindFast,
	MethodEthGetTxByHash:        KindFast,
	MethodEthGetTxReceipt:       KindFast,
	MethodWalletAddChain:        KindFast,
	MethodWalletSwitchChain:     KindFast,
	MethodWalletGetCapabilities: KindFast,
	MethodWalletGetCallsStatus:  KindFast,
	MethodWalletEstimateTx:      KindFast,
	MethodWalletDisconnect:      KindFast,

	MethodEthAccounts: KindGated,

	MethodEthRequestAccounts: KindApproval,
	MethodWalletConnect:      KindApproval,
	MethodPersonalSign:       KindApproval,
	MethodEthSignTypedDataV4: KindApproval,
	MethodEthSendTransaction: KindApproval,
	MethodWalletSendCalls:    KindApproval,
}

// Classify maps a method name onto the router's handling class.
// eth_requestAccounts and wallet_connect may still be short-circuited to a
// direct backend call by the router when the domain is already connected.
func Classify(method string) Kind {
	return methodKinds[method]
}
