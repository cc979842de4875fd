package idconnect

import (
	"fmt"

	"moff.io/idconnect/internal/chains"
	"moff.io/idconnect/pkg/errors"
)

// kindError is a sentinel that also matches a broader sentinel through errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

var (
	ErrUserCancelled = errors.New("idconnect: user cancelled the request")
	ErrUnauthorized  = errors.New("idconnect: unauthorized")

	// ErrPopupBlocked is also an ErrUserCancelled.
	ErrPopupBlocked = &kindError{msg: "idconnect: popup blocked", kind: ErrUserCancelled}
	// ErrInvalidAddress is also an ErrUnauthorized.
	ErrInvalidAddress = &kindError{msg: "idconnect: invalid address", kind: ErrUnauthorized}
	// ErrRejected means the id provider answered with type=failure; it is also an ErrUnauthorized.
	ErrRejected = &kindError{msg: "idconnect: request rejected by the id provider", kind: ErrUnauthorized}

	ErrInvalidOrigin      = errors.New("idconnect: message from unexpected origin")
	ErrInvalidState       = errors.New("idconnect: message does not match a pending request")
	ErrInvalidPayload     = errors.New("idconnect: malformed payload")
	ErrTimeout            = errors.New("idconnect: handshake timed out")
	ErrConcurrentRequest  = errors.New("idconnect: another request is already pending")
	ErrRedirected         = errors.New("idconnect: navigated away to the id provider")
	ErrNoRedirectResponse = errors.New("idconnect: current location carries no id provider response")
	ErrNoRPCClient        = errors.New("idconnect: no chain rpc client configured")
)

// UnsupportedChainError is returned by NewProvider for chain ids without a network mapping.
type UnsupportedChainError = chains.UnsupportedChainError

// EIP-1193 provider error codes.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeDisconnected = 4900
	CodeInternal     = -32603
)

// ProviderRPCError is the error shape handed to EIP-1193 consumers.
type ProviderRPCError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderRPCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *ProviderRPCError) Unwrap() error {
	return e.Err
}

// RPCCode maps err onto an EIP-1193 error code.
func RPCCode(err error) int {
	var rpcErr *ProviderRPCError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, ErrRejected), errors.Is(err, ErrUserCancelled):
		return CodeUserRejected
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

func newDisconnectedError() *ProviderRPCError {
	return &ProviderRPCError{Code: CodeDisconnected, Message: "Disconnected"}
}
