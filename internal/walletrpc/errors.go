package walletrpc

import (
	"errors"
	"fmt"
)

// JSON-RPC / EIP-1193 provider error codes. 4xxx codes are defined by
// EIP-1193/EIP-1474 and must reach the page unchanged.
const (
	CodeUserRejected  = 4001
	CodeUnauthorized  = 4100
	CodeChainNotAdded = 4902

	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Error is the wire-level error shape. It crosses the router unmodified and is
// rehydrated verbatim on the provider side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func ErrUserRejected() *Error {
	return &Error{Code: CodeUserRejected, Message: "User rejected the request"}
}

func ErrUnauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "Unauthorized"}
}

func ErrChainNotAdded(chainIDHex string) *Error {
	return &Error{Code: CodeChainNotAdded, Message: "Unrecognized chain ID", Data: chainIDHex}
}

func ErrMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "the method " + method + " does not exist/is not available"}
}

func ErrInvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func ErrInternal(msg string, data any) *Error {
	return &Error{Code: CodeInternal, Message: msg, Data: data}
}

// AsError coerces any error into a wire error, preserving an existing *Error
// (including its Data) rather than re-wrapping it.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
