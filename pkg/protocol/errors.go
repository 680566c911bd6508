package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is carried in a failed Response
type ErrorCode string

const (
	CodeMissingArgument ErrorCode = "MissingArgument"
	CodeInvalidArgument ErrorCode = "InvalidArgument"
	CodeUnknownRequest  ErrorCode = "UnknownRequest"
	CodeUnknownNode     ErrorCode = "UnknownNode"
	CodeNotPrimary      ErrorCode = "NotPrimary"
	CodeInternal        ErrorCode = "Internal"
)

// Request errors, one per error code
var (
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownRequest  = errors.New("unknown request")
	ErrUnknownNode     = errors.New("unknown node")
	ErrNotPrimary      = errors.New("node is not the primary")
	ErrInternal        = errors.New("internal error")
)

// Channel errors, reported by transports
var (
	ErrSendFailed    = errors.New("send failed")
	ErrRecvFailed    = errors.New("receive failed")
	ErrChannelClosed = errors.New("channel closed")
)

var codeErrors = map[ErrorCode]error{
	CodeMissingArgument: ErrMissingArgument,
	CodeInvalidArgument: ErrInvalidArgument,
	CodeUnknownRequest:  ErrUnknownRequest,
	CodeUnknownNode:     ErrUnknownNode,
	CodeNotPrimary:      ErrNotPrimary,
	CodeInternal:        ErrInternal,
}

// CodeOf maps an error returned by a Service onto the code sent to the peer
func CodeOf(err error) ErrorCode {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// RemoteError is a failed response seen from the requesting side
type RemoteError struct {
	Request string
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: %s", e.Request, e.Code)
	}
	return fmt.Sprintf("%s rejected: %s: %s", e.Request, e.Code, e.Message)
}

// Is lets errors.Is match a RemoteError against the sentinel of its code
func (e *RemoteError) Is(target error) bool {
	return codeErrors[e.Code] == target
}
